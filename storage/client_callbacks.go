package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gashie/fundswitch/types"
)

// EnqueueClientCallback queues a terminal-state notification for delivery
// to an institution's webhook. It runs inside tx so that queuing a
// notification and advancing the parent transaction's status commit
// atomically.
func EnqueueClientCallback(ctx context.Context, tx *sql.Tx, c *types.ClientCallback) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO client_callbacks (transaction_id, url, payload, max_attempts, status)
		VALUES ($1,$2,$3,$4,'PENDING')`,
		c.TransactionID, c.URL, c.Payload, c.MaxAttempts)
	if err != nil {
		return fmt.Errorf("enqueue client callback: %w", err)
	}
	return nil
}

// ClaimDueClientCallbacks locks and returns up to limit deliveries whose
// next attempt is due.
func (s *Store) ClaimDueClientCallbacks(ctx context.Context, limit int) ([]*types.ClientCallback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, url, payload, attempts, max_attempts, next_attempt_at,
		       status, last_http_code, last_error, created_at, updated_at
		FROM client_callbacks
		WHERE status = 'PENDING' AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim client callbacks: %w", err)
	}
	defer rows.Close()

	var out []*types.ClientCallback
	for rows.Next() {
		var c types.ClientCallback
		if err := rows.Scan(&c.ID, &c.TransactionID, &c.URL, &c.Payload, &c.Attempts, &c.MaxAttempts,
			&c.NextAttemptAt, &c.Status, &c.LastHTTPCode, &c.LastError, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan client callback: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListClientCallbacksByTransaction returns every delivery queued for a
// transaction, oldest first.
func (s *Store) ListClientCallbacksByTransaction(ctx context.Context, transactionID int64) ([]*types.ClientCallback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, url, payload, attempts, max_attempts, next_attempt_at,
		       status, last_http_code, last_error, created_at, updated_at
		FROM client_callbacks WHERE transaction_id = $1 ORDER BY id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list client callbacks: %w", err)
	}
	defer rows.Close()

	var out []*types.ClientCallback
	for rows.Next() {
		var c types.ClientCallback
		if err := rows.Scan(&c.ID, &c.TransactionID, &c.URL, &c.Payload, &c.Attempts, &c.MaxAttempts,
			&c.NextAttemptAt, &c.Status, &c.LastHTTPCode, &c.LastError, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan client callback: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// GetClientCallback fetches a single client callback row by id, without
// locking it.
func (s *Store) GetClientCallback(ctx context.Context, id int64) (*types.ClientCallback, error) {
	var c types.ClientCallback
	err := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, url, payload, attempts, max_attempts, next_attempt_at,
		       status, last_http_code, last_error, created_at, updated_at
		FROM client_callbacks WHERE id = $1`, id,
	).Scan(&c.ID, &c.TransactionID, &c.URL, &c.Payload, &c.Attempts, &c.MaxAttempts,
		&c.NextAttemptAt, &c.Status, &c.LastHTTPCode, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get client callback: %w", err)
	}
	return &c, nil
}

// ExpireClientCallbackNow forces a client callback's next_attempt_at into
// the past so the next poll claims it immediately. Used by tests that
// drive several retries of the Client Callback Deliverer without sleeping
// through the real backoff delay.
func (s *Store) ExpireClientCallbackNow(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE client_callbacks SET next_attempt_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("expire client callback: %w", err)
	}
	return nil
}

// RecordClientCallbackDelivered marks a delivery as successfully delivered.
// attempts is the 1-based count of this dispatch, including the successful
// one, so a delivery that succeeds on its Nth try is recorded with
// attempts=N.
func (s *Store) RecordClientCallbackDelivered(ctx context.Context, id int64, attempts, httpCode int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE client_callbacks
		SET status = 'DELIVERED', attempts = $1, last_http_code = $2, updated_at = now()
		WHERE id = $3`, attempts, httpCode, id)
	if err != nil {
		return fmt.Errorf("record delivered: %w", err)
	}
	return nil
}

// RecordClientCallbackAttempt records a failed delivery attempt and either
// schedules the next retry at nextAttemptAt or, once attempts is exhausted,
// marks the delivery FAILED.
func (s *Store) RecordClientCallbackAttempt(ctx context.Context, id int64, attempts, httpCode int, lastErr string, nextAttemptAt time.Time, exhausted bool) error {
	status := "PENDING"
	if exhausted {
		status = "FAILED"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE client_callbacks
		SET attempts = $1, last_http_code = $2, last_error = $3,
		    next_attempt_at = $4, status = $5, updated_at = now()
		WHERE id = $6`, attempts, httpCode, lastErr, nextAttemptAt, status, id)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}
