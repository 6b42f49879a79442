// Package reversal dispatches compensating reversal legs for transactions
// whose credit leg definitively failed after a successful debit, spec §4.E.
package reversal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/gashie/fundswitch/gip"
	"github.com/gashie/fundswitch/log"
	"github.com/gashie/fundswitch/storage"
	"github.com/gashie/fundswitch/types"
)

// maxAttempts is the number of reversal dispatches attempted before a
// transaction is held in REVERSAL_PENDING and raised as a critical alert.
const maxAttempts = 3

// Worker is the Reversal Worker daemon.
type Worker struct {
	store   *storage.Store
	gip     *gip.Client
	poll    time.Duration
	batch   int
	timeout time.Duration // how long to wait for a reversal callback before retrying

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Worker polling every poll for up to batch candidates per
// tick. timeout is how long a REVERSAL_PENDING row waits for its callback
// before becoming eligible for another attempt.
func New(store *storage.Store, gipClient *gip.Client, poll, timeout time.Duration, batch int) *Worker {
	return &Worker{store: store, gip: gipClient, poll: poll, timeout: timeout, batch: batch}
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("reversal worker already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
	return nil
}

// Stop cancels the poll loop and waits for the in-flight batch to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runBatch(ctx)
		}
	}
}

func (w *Worker) runBatch(ctx context.Context) {
	txns, err := w.store.ClaimReversalDue(ctx, time.Now().Add(-w.timeout), w.batch)
	if err != nil {
		log.Errorw(err, "claim reversal-due transactions")
		return
	}
	for _, t := range txns {
		w.dispatch(ctx, t)
	}
}

// dispatch dispatches a reversal attempt for t. First dispatch transitions
// FTC_FAILED -> REVERSAL_PENDING; a retry after a stale callback stays in
// REVERSAL_PENDING and only bumps the attempt counter.
func (w *Worker) dispatch(ctx context.Context, t *types.Transaction) {
	if t.ReversalAttempts >= maxAttempts {
		msg := fmt.Sprintf("reversal exhausted after %d attempts, held in REVERSAL_PENDING for manual intervention", t.ReversalAttempts)
		if err := w.store.InsertAuditLogTx(ctx, t.ID, types.AuditCritical, msg); err != nil {
			log.Errorw(err, "record reversal exhaustion", "transactionId", t.ID)
		}
		return
	}

	resp, err := w.gip.Reversal(ctx, t)
	if err != nil {
		log.Warnw("reversal dispatch failed, will retry next tick", "transactionId", t.ID, "err", err)
		return
	}

	event := &types.GipEvent{
		TransactionID: t.ID, Kind: types.EventReversalRequest, SessionID: t.SessionID,
		ActionCode: resp.ActionCode, TrackingNumber: resp.TrackingNumber, RawPayload: resp.Raw,
	}

	if t.Status == types.StatusReversalPending {
		if err := w.store.RecordReversalRetry(ctx, t.ID, event); err != nil {
			log.Warnw("record reversal retry failed", "transactionId", t.ID, "err", err)
		}
		return
	}

	err = w.store.AdvanceStatus(ctx, t.ID, types.StatusReversalPending, func(tx *sql.Tx, _ *types.Transaction) error {
		if err := w.store.IncrementReversalAttempts(ctx, tx, t.ID); err != nil {
			return err
		}
		return storage.AppendGipEvent(ctx, tx, event)
	})
	if err != nil {
		log.Warnw("advance to reversal pending failed", "transactionId", t.ID, "err", err)
	}
}
