// Package pipeline holds the leg-dispatch and notification logic shared by
// every component that can drive a transaction's status forward: the
// Callback Processor resolving a fresh GIP callback, and the TSQ Worker
// resolving an inconclusive leg by polling. Both commit through
// storage.RunInTx/LockTransactionForUpdate/TransitionInTx, so the
// continuation logic only needs to be written once.
package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gashie/fundswitch/gip"
	"github.com/gashie/fundswitch/storage"
	"github.com/gashie/fundswitch/types"
)

// DispatchFTC issues the FTC leg synchronously, inside the same commit that
// recorded the FTD leg's success, per spec §4.C.1 and §4.D: if the outbound
// call fails the whole transaction rolls back, leaving the transaction at the
// status it had before the FTD leg resolved (FTD_PENDING or FTD_TSQ). The TSQ
// Worker claims an FTD_TSQ row again on its next poll, and the Callback
// Processor leaves the callback PENDING when the gateway was unreachable, so
// whichever process drove the FTD leg to success retries the dispatch on its
// next pass.
func DispatchFTC(ctx context.Context, tx *sql.Tx, gipClient *gip.Client, current *types.Transaction, ftcTimeout time.Duration) error {
	resp, err := gipClient.FTC(ctx, current)
	if err != nil {
		return fmt.Errorf("dispatch ftc: %w", err)
	}

	if err := storage.TransitionInTx(ctx, tx, current, types.StatusFTCPending); err != nil {
		return err
	}
	if err := storage.SetFTCDeadline(ctx, tx, current.ID, time.Now().Add(ftcTimeout)); err != nil {
		return err
	}
	return storage.AppendGipEvent(ctx, tx, &types.GipEvent{
		TransactionID: current.ID, Kind: types.EventFTCRequest, SessionID: current.SessionID,
		ActionCode: resp.ActionCode, TrackingNumber: resp.TrackingNumber, RawPayload: resp.Raw,
	})
}

// EnqueueClientNotification queues a terminal-state notification for
// delivery to the institution's webhook, inside the same commit that
// resolved the transaction, spec §6.
func EnqueueClientNotification(ctx context.Context, tx *sql.Tx, t *types.Transaction, status, actionCode, reason string, maxAttempts int) error {
	payload, err := json.Marshal(types.ClientNotification{
		Status:          status,
		TransactionID:   t.ID,
		ReferenceNumber: t.ReferenceNumber,
		SessionID:       t.SessionID,
		ActionCode:      actionCode,
		Amount:          t.Amount,
		Message:         notificationMessage(status, reason),
		Reason:          reason,
	})
	if err != nil {
		return fmt.Errorf("marshal client notification: %w", err)
	}
	return storage.EnqueueClientCallback(ctx, tx, &types.ClientCallback{
		TransactionID: t.ID,
		URL:           t.ClientCallbackURL,
		Payload:       string(payload),
		MaxAttempts:   maxAttempts,
	})
}

func notificationMessage(status, reason string) string {
	if status == "SUCCESS" {
		return "transfer completed successfully"
	}
	if reason == "REVERSED" {
		return "transfer failed and was reversed"
	}
	return "transfer failed"
}
