// Package gip is the outbound client for the bank's General Interbank
// Platform gateway: name enquiry, the two transfer legs, transaction status
// query and reversal all go through here.
package gip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gashie/fundswitch/types"
)

// Response is GIP's reply to any of the five operations below: an action
// code plus whatever tracking number or name the gateway returned.
type Response struct {
	ActionCode     string
	TrackingNumber string
	DestName       string // populated only by NameEnquiry
	ReasonCode     string // second code in a TSQ two-code response, e.g. "000" in "000/000"
	Raw            string
}

// Client dispatches requests to a single GIP gateway base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client bound to baseURL with requests bounded by timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type nameEnquiryRequest struct {
	FunctionCode  string `json:"functionCode"`
	BankCode      string `json:"bankCode"`
	AccountNumber string `json:"accountNumber"`
}

// NameEnquiry resolves the account holder's name at bankCode for
// accountNumber, spec §4.B.1.
func (c *Client) NameEnquiry(ctx context.Context, bankCode, accountNumber string) (*Response, error) {
	return c.dispatch(ctx, "/nec", nameEnquiryRequest{
		FunctionCode:  types.FunctionNameEnquiry,
		BankCode:      bankCode,
		AccountNumber: accountNumber,
	})
}

type transferRequest struct {
	FunctionCode    string `json:"functionCode"`
	SessionID       string `json:"sessionId"`
	SourceBankCode  string `json:"sourceBankCode"`
	SourceAccount   string `json:"sourceAccount"`
	DestBankCode    string `json:"destBankCode"`
	DestAccount     string `json:"destAccount"`
	Amount          string `json:"amount"`
	Narration       string `json:"narration"`
}

// FTD dispatches the debit leg against the sending bank.
func (c *Client) FTD(ctx context.Context, t *types.Transaction) (*Response, error) {
	return c.dispatch(ctx, "/ftd", transferRequest{
		FunctionCode:   types.FunctionFTD,
		SessionID:      t.SessionID,
		SourceBankCode: t.SourceBankCode,
		SourceAccount:  t.SourceAccount,
		DestBankCode:   t.DestBankCode,
		DestAccount:    t.DestAccount,
		Amount:         t.Amount,
		Narration:      t.Narration,
	})
}

// FTC dispatches the credit leg against the receiving bank.
func (c *Client) FTC(ctx context.Context, t *types.Transaction) (*Response, error) {
	return c.dispatch(ctx, "/ftc", transferRequest{
		FunctionCode:   types.FunctionFTC,
		SessionID:      t.SessionID,
		SourceBankCode: t.SourceBankCode,
		SourceAccount:  t.SourceAccount,
		DestBankCode:   t.DestBankCode,
		DestAccount:    t.DestAccount,
		Amount:         t.Amount,
		Narration:      t.Narration,
	})
}

type tsqRequest struct {
	FunctionCode string `json:"functionCode"`
	SessionID    string `json:"sessionId"`
}

// TSQ queries GIP for the outcome of a previously-dispatched session,
// spec §4.D.
func (c *Client) TSQ(ctx context.Context, sessionID string) (*Response, error) {
	return c.dispatch(ctx, "/tsq", tsqRequest{
		FunctionCode: types.FunctionTSQ,
		SessionID:    sessionID,
	})
}

// Reversal requests GIP reverse a previously-successful debit leg,
// spec §4.E.
func (c *Client) Reversal(ctx context.Context, t *types.Transaction) (*Response, error) {
	return c.dispatch(ctx, "/reversal", transferRequest{
		FunctionCode:   types.FunctionReversal,
		SessionID:      t.SessionID,
		SourceBankCode: t.SourceBankCode,
		SourceAccount:  t.SourceAccount,
		DestBankCode:   t.DestBankCode,
		DestAccount:    t.DestAccount,
		Amount:         t.Amount,
	})
}

type gipWireResponse struct {
	ActionCode     string `json:"actionCode"`
	TrackingNumber string `json:"trackingNumber"`
	DestName       string `json:"destinationName"`
	ReasonCode     string `json:"reasonCode"`
}

func (c *Client) dispatch(ctx context.Context, path string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal gip request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build gip request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gip response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: gip returned status %d", types.ErrGatewayUnreachable, resp.StatusCode)
	}

	var wire gipWireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode gip response: %w", err)
	}

	return &Response{
		ActionCode:     wire.ActionCode,
		TrackingNumber: wire.TrackingNumber,
		DestName:       wire.DestName,
		ReasonCode:     wire.ReasonCode,
		Raw:            string(raw),
	}, nil
}
