// Package intake implements the operations the inbound HTTP layer exposes
// to institutions: name enquiry, funds transfer initiation and status
// query, spec §4.B.
package intake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gashie/fundswitch/config"
	"github.com/gashie/fundswitch/gip"
	"github.com/gashie/fundswitch/log"
	"github.com/gashie/fundswitch/storage"
	"github.com/gashie/fundswitch/types"
)

// Handler implements the Intake Handler component.
type Handler struct {
	store *storage.Store
	gip   *gip.Client
	cfg   config.TimeoutConfig
}

// New constructs a Handler.
func New(store *storage.Store, gipClient *gip.Client, cfg config.TimeoutConfig) *Handler {
	return &Handler{store: store, gip: gipClient, cfg: cfg}
}

// NameEnquiryRequest resolves an account holder's name before a transfer.
type NameEnquiryRequest struct {
	BankCode      string
	AccountNumber string
}

// NameEnquiry dispatches a single synchronous GIP NEC call and returns the
// resolved account name. It persists nothing: no Transaction row and no
// audit event, since audit_log and gip_events rows each belong to a
// transaction and a name enquiry has none.
func (h *Handler) NameEnquiry(ctx context.Context, req NameEnquiryRequest) (string, error) {
	resp, err := h.gip.NameEnquiry(ctx, req.BankCode, req.AccountNumber)
	if err != nil {
		return "", fmt.Errorf("name enquiry: %w", err)
	}
	if !types.IsSuccess(resp.ActionCode) {
		return "", fmt.Errorf("name enquiry failed with action code %s", resp.ActionCode)
	}
	return resp.DestName, nil
}

// FundsTransferRequest is the client-supplied request to initiate a
// two-leg transfer.
type FundsTransferRequest struct {
	ReferenceNumber   string
	SourceBankCode    string
	SourceAccount     string
	SourceName        string
	DestBankCode      string
	DestAccount       string
	DestName          string
	Amount            string
	Narration         string
	InstitutionID     string
	CredentialID      string
	ClientCallbackURL string
}

// FundsTransfer persists a new transaction, assigns it a session id,
// dispatches the FTD leg and advances it to FTD_PENDING — all before the
// call returns, so a dispatch failure before the state advance never
// leaves a transaction silently stuck in INITIATED.
func (h *Handler) FundsTransfer(ctx context.Context, req FundsTransferRequest) (sessionID string, err error) {
	t := &types.Transaction{
		ReferenceNumber:   req.ReferenceNumber,
		SourceBankCode:    req.SourceBankCode,
		SourceAccount:     req.SourceAccount,
		SourceName:        req.SourceName,
		DestBankCode:      req.DestBankCode,
		DestAccount:       req.DestAccount,
		DestName:          req.DestName,
		Amount:            req.Amount,
		Narration:         req.Narration,
		InstitutionID:     req.InstitutionID,
		CredentialID:      req.CredentialID,
		ClientCallbackURL: req.ClientCallbackURL,
	}

	id, err := h.store.CreateTransaction(ctx, t)
	if err != nil {
		if errors.Is(err, types.ErrDuplicateReference) {
			return "", err
		}
		return "", fmt.Errorf("create transaction: %w", err)
	}
	t.ID = id

	sessionID = uuid.NewString()
	if err := h.store.SetSessionID(ctx, id, sessionID); err != nil {
		return "", fmt.Errorf("assign session id: %w", err)
	}
	t.SessionID = sessionID

	resp, dispatchErr := h.dispatchFTDWithRetry(ctx, t)
	if dispatchErr != nil {
		return "", fmt.Errorf("%w: %v", types.ErrGatewayUnreachable, dispatchErr)
	}

	ftdDeadline := time.Now().Add(h.cfg.FTD)
	err = h.store.AdvanceStatus(ctx, id, types.StatusFTDPending, func(tx *sql.Tx, _ *types.Transaction) error {
		if _, execErr := tx.ExecContext(ctx,
			`UPDATE transactions SET ftd_deadline = $1 WHERE id = $2`, ftdDeadline, id); execErr != nil {
			return execErr
		}
		return storage.AppendGipEvent(ctx, tx, &types.GipEvent{
			TransactionID: id, Kind: types.EventFTDRequest, SessionID: sessionID,
			ActionCode: resp.ActionCode, TrackingNumber: resp.TrackingNumber, RawPayload: resp.Raw,
		})
	})
	if err != nil {
		return "", fmt.Errorf("advance to ftd pending: %w", err)
	}

	return sessionID, nil
}

// dispatchFTDWithRetry attempts the FTD dispatch once, then retries exactly
// once on failure before the caller surfaces GATEWAY_UNREACHABLE, spec
// §4.B errors.
func (h *Handler) dispatchFTDWithRetry(ctx context.Context, t *types.Transaction) (*gip.Response, error) {
	resp, err := h.gip.FTD(ctx, t)
	if err == nil {
		return resp, nil
	}
	log.Warnw("ftd dispatch failed, retrying once", "referenceNumber", t.ReferenceNumber, "err", err)
	return h.gip.FTD(ctx, t)
}

// StatusQueryResult is the status and last-known action code for a
// transaction, returned to the institution that initiated it.
type StatusQueryResult struct {
	Status        types.TransactionStatus
	FTDActionCode string
	FTCActionCode string
	StatusMessage string
}

// StatusQuery returns a transaction's current status and last action code
// by its client-supplied reference number, scoped to the institution that
// submitted it.
func (h *Handler) StatusQuery(ctx context.Context, institutionID, reference string) (*StatusQueryResult, error) {
	t, err := h.store.GetTransactionByReference(ctx, institutionID, reference)
	if err != nil {
		return nil, err
	}
	return &StatusQueryResult{
		Status:        t.Status,
		FTDActionCode: t.FTDActionCode,
		FTCActionCode: t.FTCActionCode,
		StatusMessage: t.StatusMessage,
	}, nil
}
