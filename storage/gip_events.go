package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gashie/fundswitch/types"
)

// AppendGipEvent records one outbound request or inbound callback against a
// transaction's audit trail, assigning the next event_seq under the row
// lock tx already holds on the parent transaction.
func AppendGipEvent(ctx context.Context, tx *sql.Tx, e *types.GipEvent) error {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(event_seq), 0) + 1 FROM gip_events WHERE transaction_id = $1`,
		e.TransactionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next event seq: %w", err)
	}
	e.EventSeq = seq

	_, err = tx.ExecContext(ctx, `
		INSERT INTO gip_events (
			transaction_id, event_seq, kind, session_id, tracking_number,
			raw_payload, action_code, outcome
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.TransactionID, e.EventSeq, e.Kind, e.SessionID, e.TrackingNumber,
		e.RawPayload, e.ActionCode, e.Outcome,
	)
	if err != nil {
		return fmt.Errorf("insert gip event: %w", err)
	}
	return nil
}

// ListGipEvents returns a transaction's audit trail in dispatch order.
func (s *Store) ListGipEvents(ctx context.Context, transactionID int64) ([]*types.GipEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, event_seq, kind, session_id, tracking_number,
		       raw_payload, action_code, outcome, created_at
		FROM gip_events WHERE transaction_id = $1 ORDER BY event_seq`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list gip events: %w", err)
	}
	defer rows.Close()

	var out []*types.GipEvent
	for rows.Next() {
		var e types.GipEvent
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.EventSeq, &e.Kind, &e.SessionID,
			&e.TrackingNumber, &e.RawPayload, &e.ActionCode, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan gip event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
