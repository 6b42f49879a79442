package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gashie/fundswitch/types"
)

// InsertAuditLog records a manual-intervention-class event: TSQ exhaustion,
// repeated reversal failure, or anything else that leaves a transaction in
// a state requiring operator attention. It runs inside tx so the alert
// commits atomically with whatever status change triggered it.
func InsertAuditLog(ctx context.Context, tx *sql.Tx, transactionID int64, severity types.AuditSeverity, message string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (transaction_id, severity, message) VALUES ($1,$2,$3)`,
		transactionID, severity, message)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// InsertAuditLogTx is the non-transactional counterpart of InsertAuditLog.
func (s *Store) InsertAuditLogTx(ctx context.Context, transactionID int64, severity types.AuditSeverity, message string) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		return InsertAuditLog(ctx, tx, transactionID, severity, message)
	})
}

// ListAuditLog returns a transaction's audit trail, oldest first.
func (s *Store) ListAuditLog(ctx context.Context, transactionID int64) ([]*types.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, severity, message, created_at
		FROM audit_log WHERE transaction_id = $1 ORDER BY id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	var out []*types.AuditLogEntry
	for rows.Next() {
		var e types.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.Severity, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
