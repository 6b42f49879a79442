// Package tsq polls for transactions whose leg outcome is still
// indeterminate and resolves them against GIP's transaction status query
// function, spec §4.D.
package tsq

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/gashie/fundswitch/config"
	"github.com/gashie/fundswitch/gip"
	"github.com/gashie/fundswitch/log"
	"github.com/gashie/fundswitch/pipeline"
	"github.com/gashie/fundswitch/storage"
	"github.com/gashie/fundswitch/types"
)

// Worker is the TSQ Worker daemon. Multiple replicas may run against the
// same database concurrently; SKIP LOCKED claims keep them from colliding.
type Worker struct {
	store      *storage.Store
	gip        *gip.Client
	cfg        config.TSQConfig
	timeouts   config.TimeoutConfig
	deliverCfg config.DeliverConfig
	poll       time.Duration
	batch      int
	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
}

// New constructs a Worker. cfg controls max attempts and the base retry
// interval; timeouts and deliverCfg let a TSQ-resolved leg continue the
// pipeline the same way the Callback Processor does (dispatching FTC, or
// enqueueing the client notification) instead of stranding the transaction
// at FTD_SUCCESS/FTC_SUCCESS; poll and batch come from config.PollConfig.
func New(store *storage.Store, gipClient *gip.Client, cfg config.TSQConfig, timeouts config.TimeoutConfig, deliverCfg config.DeliverConfig, poll time.Duration, batch int) *Worker {
	return &Worker{store: store, gip: gipClient, cfg: cfg, timeouts: timeouts, deliverCfg: deliverCfg, poll: poll, batch: batch}
}

// Start runs the poll loop in a background goroutine until Stop is called
// or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("tsq worker already running")
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
			w.sweepTimeouts(ctx)
			w.runBatch(ctx)
		}
	}
}

// sweepTimeouts moves transactions that have sat past their leg deadline
// into TIMEOUT and, in the same sweep, on into FTD_TSQ or FTC_TSQ.
func (w *Worker) sweepTimeouts(ctx context.Context) {
	txns, err := w.store.ClaimTimedOut(ctx, time.Now(), w.batch)
	if err != nil {
		log.Errorw(err, "claim timed out transactions")
		return
	}
	for _, t := range txns {
		next := timeoutTarget(t.Status)
		if err := w.store.AdvanceStatus(ctx, t.ID, types.StatusTimeout, nil); err != nil {
			log.Warnw("advance to timeout failed", "transactionId", t.ID, "err", err)
			continue
		}
		if err := w.store.AdvanceStatus(ctx, t.ID, next, func(tx *sql.Tx, _ *types.Transaction) error {
			return storage.AppendGipEvent(ctx, tx, &types.GipEvent{
				TransactionID: t.ID,
				Kind:          types.EventTSQRequest,
				SessionID:     t.SessionID,
				Outcome:       "leg deadline exceeded, scheduling TSQ",
			})
		}); err != nil {
			log.Warnw("advance from timeout failed", "transactionId", t.ID, "err", err)
		}
	}
}

func timeoutTarget(s types.TransactionStatus) types.TransactionStatus {
	if s == types.StatusFTCPending {
		return types.StatusFTCTSQ
	}
	return types.StatusFTDTSQ
}

func (w *Worker) runBatch(ctx context.Context) {
	txns, err := w.store.ClaimTSQDue(ctx, w.batch)
	if err != nil {
		log.Errorw(err, "claim tsq due transactions")
		return
	}
	for _, t := range txns {
		w.resolve(ctx, t)
	}
}

func (w *Worker) resolve(ctx context.Context, t *types.Transaction) {
	resp, err := w.gip.TSQ(ctx, t.SessionID)
	if err != nil {
		log.Warnw("tsq dispatch failed", "transactionId", t.ID, "err", err)
		w.retryOrEscalate(ctx, t, "", "dispatch error: "+err.Error())
		return
	}

	switch {
	case types.IsSuccess(resp.ActionCode) && types.IsSuccess(resp.ReasonCode):
		w.onLegSuccess(ctx, t, resp)
	case resp.ActionCode == types.ActionCodeSuccess && resp.ReasonCode == types.TSQReasonNotFoundAtReceiver:
		w.onLegFailed(ctx, t, resp)
	default:
		w.retryOrEscalate(ctx, t, resp.ActionCode+"/"+resp.ReasonCode, "")
	}
}

// onLegSuccess resolves an inconclusive leg to success and continues the
// pipeline exactly as callback.Processor does for the identical transition
// arriving via callback: an FTD leg resolved to success dispatches FTC, and
// an FTC leg resolved to success completes the transaction and enqueues the
// client notification. Both run in the same commit as the status change, so
// a dispatch failure rolls the resolution back for the next poll to retry.
func (w *Worker) onLegSuccess(ctx context.Context, t *types.Transaction, resp *gip.Response) {
	resolvingFTD := t.Status == types.StatusFTDTSQ

	err := w.store.RunInTx(ctx, func(tx *sql.Tx) error {
		current, err := storage.LockTransactionForUpdate(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if current.Status != types.StatusFTDTSQ && current.Status != types.StatusFTCTSQ {
			return nil
		}

		target := types.StatusFTDSuccess
		if !resolvingFTD {
			target = types.StatusFTCSuccess
		}
		if err := storage.TransitionInTx(ctx, tx, current, target); err != nil {
			return err
		}
		if err := storage.AppendGipEvent(ctx, tx, &types.GipEvent{
			TransactionID: current.ID, Kind: types.EventTSQResponse, SessionID: current.SessionID,
			ActionCode: resp.ActionCode, Outcome: "leg resolved success via TSQ", RawPayload: resp.Raw,
		}); err != nil {
			return err
		}

		if resolvingFTD {
			return pipeline.DispatchFTC(ctx, tx, w.gip, current, w.timeouts.FTC)
		}
		if err := storage.TransitionInTx(ctx, tx, current, types.StatusCompleted); err != nil {
			return err
		}
		return pipeline.EnqueueClientNotification(ctx, tx, current, "SUCCESS", resp.ActionCode, "", w.deliverCfg.MaxAttempts)
	})
	if err != nil {
		log.Warnw("advance on tsq success failed", "transactionId", t.ID, "err", err)
	}
}

func (w *Worker) onLegFailed(ctx context.Context, t *types.Transaction, resp *gip.Response) {
	target := types.StatusFTDFailed
	if t.Status == types.StatusFTCTSQ {
		target = types.StatusFTCFailed
	}
	err := w.store.AdvanceStatus(ctx, t.ID, target, func(tx *sql.Tx, _ *types.Transaction) error {
		return storage.AppendGipEvent(ctx, tx, &types.GipEvent{
			TransactionID: t.ID, Kind: types.EventTSQResponse, SessionID: t.SessionID,
			ActionCode: resp.ActionCode, Outcome: "not found at receiver", RawPayload: resp.Raw,
		})
	})
	if err != nil {
		log.Warnw("advance on tsq failure failed", "transactionId", t.ID, "err", err)
	}
}

func (w *Worker) retryOrEscalate(ctx context.Context, t *types.Transaction, rawCodes, note string) {
	attempts := t.TSQAttempts + 1
	if attempts >= w.cfg.MaxAttempts {
		target := types.StatusFTDFailed
		if t.Status == types.StatusFTCTSQ {
			target = types.StatusFTCFailed
		}
		msg := fmt.Sprintf("tsq exhausted after %d attempts, last response %q %s", attempts, rawCodes, note)
		err := w.store.AdvanceStatus(ctx, t.ID, target, func(tx *sql.Tx, _ *types.Transaction) error {
			if err := storage.InsertAuditLog(ctx, tx, t.ID, types.AuditWarn, msg); err != nil {
				return err
			}
			return storage.AppendGipEvent(ctx, tx, &types.GipEvent{
				TransactionID: t.ID, Kind: types.EventTSQResponse, SessionID: t.SessionID,
				Outcome: msg,
			})
		})
		if err != nil {
			log.Warnw("escalate tsq exhaustion failed", "transactionId", t.ID, "err", err)
		}
		return
	}

	next := time.Now().Add(backoff(w.cfg.BaseInterval, attempts))
	if err := w.store.ScheduleNextTSQAttempt(ctx, t.ID, attempts, next); err != nil {
		log.Errorw(err, "schedule next tsq attempt", "transactionId", t.ID)
	}
}

// backoff computes interval * 2^attempts, spec §4.D.2.
func backoff(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
	}
	return d
}
