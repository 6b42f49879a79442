package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gashie/fundswitch/types"
)

// CreateTransaction inserts a new transaction in INITIATED status. A
// duplicate reference number is reported as types.ErrDuplicateReference.
func (s *Store) CreateTransaction(ctx context.Context, t *types.Transaction) (int64, error) {
	t.Status = types.StatusInitiated
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO transactions (
			reference_number, source_bank_code, source_account, source_name,
			dest_bank_code, dest_account, dest_name, amount, narration,
			institution_id, credential_id, client_callback_url, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		t.ReferenceNumber, t.SourceBankCode, t.SourceAccount, t.SourceName,
		t.DestBankCode, t.DestAccount, t.DestName, t.Amount, t.Narration,
		t.InstitutionID, t.CredentialID, t.ClientCallbackURL, t.Status,
	).Scan(&id)
	if isUniqueViolation(err, "idx_transactions_institution_reference") {
		return 0, types.ErrDuplicateReference
	}
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

// GetTransaction fetches a transaction by id without locking it.
func (s *Store) GetTransaction(ctx context.Context, id int64) (*types.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, selectTransactionSQL+" WHERE id = $1", id))
}

// GetTransactionByReference fetches a transaction by its client-supplied
// reference number, scoped to the institution that submitted it: reference
// numbers are only unique per institution, spec §3 Invariant 1.
func (s *Store) GetTransactionByReference(ctx context.Context, institutionID, ref string) (*types.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx,
		selectTransactionSQL+" WHERE institution_id = $1 AND reference_number = $2", institutionID, ref))
}

// GetTransactionBySession fetches a transaction by the session id GIP
// assigned to it.
func (s *Store) GetTransactionBySession(ctx context.Context, sessionID string) (*types.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, selectTransactionSQL+" WHERE session_id = $1", sessionID))
}

// SetSessionID assigns the GIP session id on first dispatch. A collision
// (another transaction already owns this session id) is reported
// as types.ErrDuplicateSession.
func (s *Store) SetSessionID(ctx context.Context, id int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET session_id = $1, updated_at = now() WHERE id = $2`,
		sessionID, id)
	if isUniqueViolation(err, "idx_transactions_session_id") {
		return types.ErrDuplicateSession
	}
	if err != nil {
		return fmt.Errorf("set session id: %w", err)
	}
	return nil
}

// AdvanceStatus moves a transaction from one status to another under a row
// lock, re-validating the transition against types.CanTransition
// immediately before committing. mutate may set other columns (action
// codes, deadlines, message) on the locked row before the new status is
// written; it runs inside the same transaction as the status check.
func (s *Store) AdvanceStatus(ctx context.Context, id int64, to types.TransactionStatus, mutate func(tx *sql.Tx, current *types.Transaction) error) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		current, err := scanTransaction(tx.QueryRowContext(ctx, selectTransactionSQL+" WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			return err
		}
		if !types.CanTransition(current.Status, to) {
			return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, current.Status, to)
		}
		if mutate != nil {
			if err := mutate(tx, current); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE transactions SET status = $1, updated_at = now() WHERE id = $2`, to, id)
		if err != nil {
			return fmt.Errorf("advance status: %w", err)
		}
		return nil
	})
}

// ClaimTSQDue locks and returns up to limit transactions whose TSQ retry is
// due, skipping rows any other worker already holds.
func (s *Store) ClaimTSQDue(ctx context.Context, limit int) ([]*types.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, selectTransactionSQL+`
		WHERE status IN ('FTD_TSQ', 'FTC_TSQ')
		  AND (tsq_next_attempt_at IS NULL OR tsq_next_attempt_at <= now())
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim tsq due: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ClaimReversalDue locks and returns up to limit transactions needing a
// reversal dispatch: either a fresh FTC_FAILED leg, or a REVERSAL_PENDING
// transaction whose previous attempt's callback never arrived within
// staleBefore and still has attempts remaining.
func (s *Store) ClaimReversalDue(ctx context.Context, staleBefore time.Time, limit int) ([]*types.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, selectTransactionSQL+`
		WHERE (status = 'FTC_FAILED' AND reversal_attempts < 3)
		   OR (status = 'REVERSAL_PENDING' AND reversal_attempts < 3 AND updated_at <= $1)
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim reversal due: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// RecordReversalRetry bumps the attempt counter and touches updated_at for
// a transaction that is already in REVERSAL_PENDING from a prior attempt
// whose callback never arrived. It does not change status: the transaction
// never leaves REVERSAL_PENDING until the reversal callback resolves it.
func (s *Store) RecordReversalRetry(ctx context.Context, id int64, event *types.GipEvent) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET reversal_attempts = reversal_attempts + 1, updated_at = now() WHERE id = $1`, id); err != nil {
			return fmt.Errorf("record reversal retry: %w", err)
		}
		return AppendGipEvent(ctx, tx, event)
	})
}

// ClaimTimedOut locks and returns up to limit transactions that have been
// sitting in an *_PENDING status past their per-leg deadline.
func (s *Store) ClaimTimedOut(ctx context.Context, now time.Time, limit int) ([]*types.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, selectTransactionSQL+`
		WHERE (status = 'FTD_PENDING' AND ftd_deadline IS NOT NULL AND ftd_deadline <= $1)
		   OR (status = 'FTC_PENDING' AND ftc_deadline IS NOT NULL AND ftc_deadline <= $1)
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim timed out: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// LockTransactionForUpdate reads and row-locks a transaction inside an
// already-open tx. Callers that need to perform several dependent
// transitions in one commit (the Callback Processor's FTD-success-then-
// FTC-dispatch sequence) build on this instead of AdvanceStatus.
func LockTransactionForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*types.Transaction, error) {
	return scanTransaction(tx.QueryRowContext(ctx, selectTransactionSQL+" WHERE id = $1 FOR UPDATE", id))
}

// TransitionInTx validates and applies a single status transition against
// an already-locked transaction inside tx, updating current.Status in
// place so a caller chaining several transitions in one commit always
// validates against the latest state.
func TransitionInTx(ctx context.Context, tx *sql.Tx, current *types.Transaction, to types.TransactionStatus) error {
	if !types.CanTransition(current.Status, to) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, current.Status, to)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = now() WHERE id = $2`, to, current.ID); err != nil {
		return fmt.Errorf("transition in tx: %w", err)
	}
	current.Status = to
	return nil
}

// SetFTDActionCode records the FTD leg's action code and status message on
// an already-locked row inside tx.
func SetFTDActionCode(ctx context.Context, tx *sql.Tx, id int64, code, message string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET ftd_action_code = $1, status_message = $2, updated_at = now() WHERE id = $3`,
		code, message, id); err != nil {
		return fmt.Errorf("set ftd action code: %w", err)
	}
	return nil
}

// SetFTCActionCode records the FTC leg's action code and status message on
// an already-locked row inside tx.
func SetFTCActionCode(ctx context.Context, tx *sql.Tx, id int64, code, message string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET ftc_action_code = $1, status_message = $2, updated_at = now() WHERE id = $3`,
		code, message, id); err != nil {
		return fmt.Errorf("set ftc action code: %w", err)
	}
	return nil
}

// SetReversalActionCode records the reversal leg's action code and status
// message on an already-locked row inside tx.
func SetReversalActionCode(ctx context.Context, tx *sql.Tx, id int64, code, message string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET reversal_action_code = $1, status_message = $2, updated_at = now() WHERE id = $3`,
		code, message, id); err != nil {
		return fmt.Errorf("set reversal action code: %w", err)
	}
	return nil
}

// SetFTCDeadline records when the FTC leg must resolve by, inside tx.
func SetFTCDeadline(ctx context.Context, tx *sql.Tx, id int64, deadline time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE transactions SET ftc_deadline = $1 WHERE id = $2`, deadline, id); err != nil {
		return fmt.Errorf("set ftc deadline: %w", err)
	}
	return nil
}

// RunInTx exposes the store's transaction wrapper to callers that must
// sequence several dependent transitions and a synchronous outbound GIP
// call in one commit (the Callback Processor).
func (s *Store) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.execTx(ctx, fn)
}

// ScheduleNextTSQAttempt records a failed TSQ resolution attempt and sets
// when the TSQ Worker should try again.
func (s *Store) ScheduleNextTSQAttempt(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET tsq_attempts = $1, tsq_next_attempt_at = $2, updated_at = now()
		WHERE id = $3`, attempts, nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("schedule next tsq attempt: %w", err)
	}
	return nil
}

// IncrementReversalAttempts bumps a transaction's reversal attempt counter,
// used by the Reversal Worker when its first reversal dispatch moves the
// transaction to REVERSAL_PENDING (retries use RecordReversalRetry).
func (s *Store) IncrementReversalAttempts(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE transactions SET reversal_attempts = reversal_attempts + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment reversal attempts: %w", err)
	}
	return nil
}

const selectTransactionSQL = `
	SELECT id, reference_number, session_id,
	       source_bank_code, source_account, source_name,
	       dest_bank_code, dest_account, dest_name,
	       amount, narration, institution_id, credential_id, client_callback_url,
	       status, ftd_action_code, ftc_action_code, reversal_action_code, status_message,
	       tsq_attempts, tsq_next_attempt_at, reversal_attempts,
	       ftd_deadline, ftc_deadline, txn_deadline,
	       created_at, updated_at
	FROM transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*types.Transaction, error) {
	var t types.Transaction
	err := row.Scan(
		&t.ID, &t.ReferenceNumber, &t.SessionID,
		&t.SourceBankCode, &t.SourceAccount, &t.SourceName,
		&t.DestBankCode, &t.DestAccount, &t.DestName,
		&t.Amount, &t.Narration, &t.InstitutionID, &t.CredentialID, &t.ClientCallbackURL,
		&t.Status, &t.FTDActionCode, &t.FTCActionCode, &t.ReversalActionCode, &t.StatusMessage,
		&t.TSQAttempts, &t.TSQNextAttemptAt, &t.ReversalAttempts,
		&t.FTDDeadline, &t.FTCDeadline, &t.TxnDeadline,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

func scanTransactions(rows *sql.Rows) ([]*types.Transaction, error) {
	var out []*types.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
