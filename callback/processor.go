// Package callback implements the Callback Processor: it drains inbound
// GIP callbacks and routes each to the transaction it belongs to, spec
// §4.C.
package callback

import (
	"context"
	"database/sql"
	"errors"
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

// tsqDeferral is how long after an inconclusive leg outcome the TSQ Worker
// waits before its first resolution attempt, spec §4.C.1/2.
const tsqDeferral = 5 * time.Minute

// Processor is the Callback Processor daemon.
type Processor struct {
	store      *storage.Store
	gip        *gip.Client
	timeouts   config.TimeoutConfig
	deliverCfg config.DeliverConfig
	poll       time.Duration
	batch      int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Processor.
func New(store *storage.Store, gipClient *gip.Client, timeouts config.TimeoutConfig, deliverCfg config.DeliverConfig, poll time.Duration, batch int) *Processor {
	return &Processor{store: store, gip: gipClient, timeouts: timeouts, deliverCfg: deliverCfg, poll: poll, batch: batch}
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return fmt.Errorf("callback processor already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx)
	return nil
}

// Stop cancels the poll loop and waits for the in-flight batch to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runBatch(ctx)
		}
	}
}

func (p *Processor) runBatch(ctx context.Context) {
	callbacks, err := p.store.ClaimPendingGipCallbacks(ctx, p.batch)
	if err != nil {
		log.Errorw(err, "claim pending gip callbacks")
		return
	}
	for _, cb := range callbacks {
		p.processOne(ctx, cb)
	}
}

func (p *Processor) processOne(ctx context.Context, cb *types.GipCallback) {
	t, err := p.store.GetTransactionBySession(ctx, cb.SessionID)
	if err != nil {
		if err := p.store.MarkGipCallbackTx(ctx, cb.ID, types.CallbackIgnored, "no transaction for session id"); err != nil {
			log.Errorw(err, "mark callback ignored", "gipCallbackId", cb.ID)
		}
		return
	}

	var ignored bool
	txErr := p.store.RunInTx(ctx, func(tx *sql.Tx) error {
		current, err := storage.LockTransactionForUpdate(ctx, tx, t.ID)
		if err != nil {
			return err
		}

		switch cb.FunctionCode {
		case types.FunctionFTD:
			ignored, err = p.routeFTD(ctx, tx, current, cb)
		case types.FunctionFTC:
			ignored, err = p.routeFTC(ctx, tx, current, cb)
		case types.FunctionReversal:
			ignored, err = p.routeReversal(ctx, tx, current, cb)
		default:
			ignored, err = true, nil
		}
		if err != nil {
			return err
		}
		finalStatus := types.CallbackProcessed
		if ignored {
			finalStatus = types.CallbackIgnored
		}
		return storage.MarkGipCallback(ctx, tx, cb.ID, finalStatus, "")
	})
	if txErr != nil {
		if errors.Is(txErr, types.ErrGatewayUnreachable) {
			// The synchronous FTC dispatch failed and the whole commit rolled
			// back; leave the callback PENDING so the next tick replays it.
			log.Warnw("gateway unreachable, callback left pending for retry", "gipCallbackId", cb.ID, "err", txErr)
			return
		}
		log.Warnw("callback processing failed, marking error", "gipCallbackId", cb.ID, "err", txErr)
		if err := p.store.MarkGipCallbackTx(ctx, cb.ID, types.CallbackError, txErr.Error()); err != nil {
			log.Errorw(err, "mark callback error", "gipCallbackId", cb.ID)
		}
	}
}

// routeFTD applies §4.C.1. A duplicate callback for an already-advanced
// leg (current.Status is no longer FTD_PENDING/FTD_TSQ) is classified
// IGNORED, matching the idempotence requirement in spec §5 that a replayed
// callback is recorded but does not alter state.
func (p *Processor) routeFTD(ctx context.Context, tx *sql.Tx, current *types.Transaction, cb *types.GipCallback) (bool, error) {
	if current.Status != types.StatusFTDPending && current.Status != types.StatusFTDTSQ {
		return true, storage.AppendGipEvent(ctx, tx, &types.GipEvent{
			TransactionID: current.ID, Kind: types.EventFTDCallback, SessionID: cb.SessionID,
			ActionCode: cb.ActionCode, RawPayload: cb.RawPayload, Outcome: "duplicate callback, leg already resolved",
		})
	}

	if err := storage.SetFTDActionCode(ctx, tx, current.ID, cb.ActionCode, ""); err != nil {
		return false, err
	}
	if err := storage.AppendGipEvent(ctx, tx, &types.GipEvent{
		TransactionID: current.ID, Kind: types.EventFTDCallback, SessionID: cb.SessionID,
		ActionCode: cb.ActionCode, TrackingNumber: cb.TrackingNumber, RawPayload: cb.RawPayload,
	}); err != nil {
		return false, err
	}

	switch {
	case types.IsSuccess(cb.ActionCode):
		if err := storage.TransitionInTx(ctx, tx, current, types.StatusFTDSuccess); err != nil {
			return false, err
		}
		return false, pipeline.DispatchFTC(ctx, tx, p.gip, current, p.timeouts.FTC)

	case types.IsInconclusive(cb.ActionCode):
		if err := storage.TransitionInTx(ctx, tx, current, types.StatusFTDTSQ); err != nil {
			return false, err
		}
		return false, p.scheduleTSQ(ctx, tx, current.ID)

	default:
		if err := storage.TransitionInTx(ctx, tx, current, types.StatusFTDFailed); err != nil {
			return false, err
		}
		return false, pipeline.EnqueueClientNotification(ctx, tx, current, "FAILED", cb.ActionCode, "FTD_FAILED", p.deliverCfg.MaxAttempts)
	}
}

// routeFTC applies §4.C.2.
func (p *Processor) routeFTC(ctx context.Context, tx *sql.Tx, current *types.Transaction, cb *types.GipCallback) (bool, error) {
	if current.Status != types.StatusFTCPending && current.Status != types.StatusFTCTSQ {
		return true, storage.AppendGipEvent(ctx, tx, &types.GipEvent{
			TransactionID: current.ID, Kind: types.EventFTCCallback, SessionID: cb.SessionID,
			ActionCode: cb.ActionCode, RawPayload: cb.RawPayload, Outcome: "duplicate callback, leg already resolved",
		})
	}

	if err := storage.SetFTCActionCode(ctx, tx, current.ID, cb.ActionCode, ""); err != nil {
		return false, err
	}
	if err := storage.AppendGipEvent(ctx, tx, &types.GipEvent{
		TransactionID: current.ID, Kind: types.EventFTCCallback, SessionID: cb.SessionID,
		ActionCode: cb.ActionCode, TrackingNumber: cb.TrackingNumber, RawPayload: cb.RawPayload,
	}); err != nil {
		return false, err
	}

	switch {
	case types.IsSuccess(cb.ActionCode):
		if err := storage.TransitionInTx(ctx, tx, current, types.StatusFTCSuccess); err != nil {
			return false, err
		}
		if err := storage.TransitionInTx(ctx, tx, current, types.StatusCompleted); err != nil {
			return false, err
		}
		return false, pipeline.EnqueueClientNotification(ctx, tx, current, "SUCCESS", cb.ActionCode, "", p.deliverCfg.MaxAttempts)

	case types.IsInconclusive(cb.ActionCode):
		if err := storage.TransitionInTx(ctx, tx, current, types.StatusFTCTSQ); err != nil {
			return false, err
		}
		return false, p.scheduleTSQ(ctx, tx, current.ID)

	default:
		return false, storage.TransitionInTx(ctx, tx, current, types.StatusFTCFailed)
	}
}

// routeReversal applies §4.C.3.
func (p *Processor) routeReversal(ctx context.Context, tx *sql.Tx, current *types.Transaction, cb *types.GipCallback) (bool, error) {
	if current.Status != types.StatusReversalPending {
		return true, storage.AppendGipEvent(ctx, tx, &types.GipEvent{
			TransactionID: current.ID, Kind: types.EventReversalCallback, SessionID: cb.SessionID,
			ActionCode: cb.ActionCode, RawPayload: cb.RawPayload, Outcome: "duplicate callback, leg already resolved",
		})
	}

	if err := storage.SetReversalActionCode(ctx, tx, current.ID, cb.ActionCode, ""); err != nil {
		return false, err
	}
	if err := storage.AppendGipEvent(ctx, tx, &types.GipEvent{
		TransactionID: current.ID, Kind: types.EventReversalCallback, SessionID: cb.SessionID,
		ActionCode: cb.ActionCode, TrackingNumber: cb.TrackingNumber, RawPayload: cb.RawPayload,
	}); err != nil {
		return false, err
	}

	if types.IsSuccess(cb.ActionCode) {
		if err := storage.TransitionInTx(ctx, tx, current, types.StatusReversalSuccess); err != nil {
			return false, err
		}
		if err := storage.TransitionInTx(ctx, tx, current, types.StatusFailed); err != nil {
			return false, err
		}
		return false, pipeline.EnqueueClientNotification(ctx, tx, current, "FAILED", cb.ActionCode, "REVERSED", p.deliverCfg.MaxAttempts)
	}

	if err := storage.TransitionInTx(ctx, tx, current, types.StatusReversalFailed); err != nil {
		return false, err
	}
	return false, storage.InsertAuditLog(ctx, tx, current.ID, types.AuditCritical,
		fmt.Sprintf("reversal failed with action code %s, requires manual intervention", cb.ActionCode))
}

func (p *Processor) scheduleTSQ(ctx context.Context, tx *sql.Tx, id int64) error {
	next := time.Now().Add(tsqDeferral)
	_, err := tx.ExecContext(ctx,
		`UPDATE transactions SET tsq_next_attempt_at = $1 WHERE id = $2`, next, id)
	if err != nil {
		return fmt.Errorf("schedule tsq: %w", err)
	}
	return nil
}
