package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gashie/fundswitch/types"
)

// EnqueueGipCallback records one inbound GIP callback for the Callback
// Processor to pick up. It never blocks on processing: the HTTP handler
// that receives the callback calls this and returns 200 immediately.
func (s *Store) EnqueueGipCallback(ctx context.Context, c *types.GipCallback) (int64, error) {
	c.Status = types.CallbackPending
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO gip_callbacks (session_id, function_code, tracking_number, action_code, raw_payload, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		c.SessionID, c.FunctionCode, c.TrackingNumber, c.ActionCode, c.RawPayload, c.Status,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue gip callback: %w", err)
	}
	return id, nil
}

// ClaimPendingGipCallbacks locks and returns up to limit pending callbacks,
// oldest first, skipping rows another Callback Processor replica already
// holds.
func (s *Store) ClaimPendingGipCallbacks(ctx context.Context, limit int) ([]*types.GipCallback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, function_code, tracking_number, action_code, raw_payload,
		       received_at, status, processing_err
		FROM gip_callbacks
		WHERE status = 'PENDING'
		ORDER BY received_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim gip callbacks: %w", err)
	}
	defer rows.Close()

	var out []*types.GipCallback
	for rows.Next() {
		var c types.GipCallback
		if err := rows.Scan(&c.ID, &c.SessionID, &c.FunctionCode, &c.TrackingNumber, &c.ActionCode,
			&c.RawPayload, &c.ReceivedAt, &c.Status, &c.ProcessingErr); err != nil {
			return nil, fmt.Errorf("scan gip callback: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// GetGipCallback fetches a single gip callback row by id, without locking
// it.
func (s *Store) GetGipCallback(ctx context.Context, id int64) (*types.GipCallback, error) {
	var c types.GipCallback
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, function_code, tracking_number, action_code, raw_payload,
		       received_at, status, processing_err
		FROM gip_callbacks WHERE id = $1`, id,
	).Scan(&c.ID, &c.SessionID, &c.FunctionCode, &c.TrackingNumber, &c.ActionCode,
		&c.RawPayload, &c.ReceivedAt, &c.Status, &c.ProcessingErr)
	if err != nil {
		return nil, fmt.Errorf("get gip callback: %w", err)
	}
	return &c, nil
}

// MarkGipCallback finalizes a claimed callback row's outcome. Passing a
// non-empty processingErr also records it for operator triage.
func MarkGipCallback(ctx context.Context, tx *sql.Tx, id int64, status types.CallbackStatus, processingErr string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE gip_callbacks SET status = $1, processing_err = $2 WHERE id = $3`,
		status, processingErr, id)
	if err != nil {
		return fmt.Errorf("mark gip callback: %w", err)
	}
	return nil
}

// MarkGipCallbackTx is the non-transactional counterpart of MarkGipCallback,
// used when a callback is ignored or errored outside of a larger
// transaction-status update.
func (s *Store) MarkGipCallbackTx(ctx context.Context, id int64, status types.CallbackStatus, processingErr string) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		return MarkGipCallback(ctx, tx, id, status, processingErr)
	})
}
