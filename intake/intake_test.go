package intake_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/gashie/fundswitch/config"
	"github.com/gashie/fundswitch/gip"
	"github.com/gashie/fundswitch/intake"
	"github.com/gashie/fundswitch/storage/dbtest"
	"github.com/gashie/fundswitch/types"
)

type wireResponse struct {
	ActionCode      string `json:"actionCode"`
	TrackingNumber  string `json:"trackingNumber"`
	DestinationName string `json:"destinationName"`
	ReasonCode      string `json:"reasonCode"`
}

func TestNameEnquiryReturnsResolvedName(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{ActionCode: "000", DestinationName: "Kojo Asante"})
	}))
	defer gw.Close()

	gipClient := gip.New(gw.URL, 5*time.Second)
	h := intake.New(store, gipClient, config.TimeoutConfig{FTD: time.Hour, FTC: time.Hour})

	name, err := h.NameEnquiry(ctx, intake.NameEnquiryRequest{BankCode: "002", AccountNumber: "2000000002"})
	c.Assert(err, qt.IsNil)
	c.Assert(name, qt.Equals, "Kojo Asante")
}

func TestNameEnquiryFailurePropagatesError(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{ActionCode: "051"})
	}))
	defer gw.Close()

	gipClient := gip.New(gw.URL, 5*time.Second)
	h := intake.New(store, gipClient, config.TimeoutConfig{FTD: time.Hour, FTC: time.Hour})

	_, err := h.NameEnquiry(ctx, intake.NameEnquiryRequest{BankCode: "002", AccountNumber: "2000000002"})
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestFundsTransferPersistsAndAdvancesToFTDPending(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{ActionCode: "000", TrackingNumber: "trk-ftd"})
	}))
	defer gw.Close()

	gipClient := gip.New(gw.URL, 5*time.Second)
	h := intake.New(store, gipClient, config.TimeoutConfig{FTD: time.Hour, FTC: time.Hour})

	sessionID, err := h.FundsTransfer(ctx, intake.FundsTransferRequest{
		ReferenceNumber:   "intake-ref-001",
		SourceBankCode:    "001",
		SourceAccount:     "1000000001",
		DestBankCode:      "002",
		DestAccount:       "2000000002",
		Amount:            "250.00",
		InstitutionID:     "inst-1",
		CredentialID:      "cred-1",
		ClientCallbackURL: "https://institution.example/callback",
	})
	c.Assert(err, qt.IsNil)
	c.Assert(sessionID, qt.Not(qt.Equals), "")

	txn, err := store.GetTransactionByReference(ctx, "inst-1", "intake-ref-001")
	c.Assert(err, qt.IsNil)
	c.Assert(txn.Status, qt.Equals, types.StatusFTDPending)
	c.Assert(txn.SessionID, qt.Equals, sessionID)
	c.Assert(txn.FTDDeadline, qt.Not(qt.IsNil))
}

func TestFundsTransferDuplicateReference(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{ActionCode: "000"})
	}))
	defer gw.Close()

	gipClient := gip.New(gw.URL, 5*time.Second)
	h := intake.New(store, gipClient, config.TimeoutConfig{FTD: time.Hour, FTC: time.Hour})

	req := intake.FundsTransferRequest{
		ReferenceNumber: "intake-ref-002", SourceBankCode: "001", SourceAccount: "1000000001",
		DestBankCode: "002", DestAccount: "2000000002", Amount: "50.00",
		InstitutionID: "inst-1", CredentialID: "cred-1", ClientCallbackURL: "https://institution.example/callback",
	}
	_, err := h.FundsTransfer(ctx, req)
	c.Assert(err, qt.IsNil)

	_, err = h.FundsTransfer(ctx, req)
	c.Assert(errors.Is(err, types.ErrDuplicateReference), qt.IsTrue)
}

func TestFundsTransferRetriesOnceThenFailsWhenGatewayUnreachable(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	var calls int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer gw.Close()

	gipClient := gip.New(gw.URL, 5*time.Second)
	h := intake.New(store, gipClient, config.TimeoutConfig{FTD: time.Hour, FTC: time.Hour})

	_, err := h.FundsTransfer(ctx, intake.FundsTransferRequest{
		ReferenceNumber: "intake-ref-003", SourceBankCode: "001", SourceAccount: "1000000001",
		DestBankCode: "002", DestAccount: "2000000002", Amount: "50.00",
		InstitutionID: "inst-1", CredentialID: "cred-1", ClientCallbackURL: "https://institution.example/callback",
	})
	c.Assert(errors.Is(err, types.ErrGatewayUnreachable), qt.IsTrue)
	c.Assert(atomic.LoadInt32(&calls), qt.Equals, int32(2))

	_, err = store.GetTransactionByReference(ctx, "inst-1", "intake-ref-003")
	c.Assert(err, qt.IsNil)
}

func TestStatusQueryByReference(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{ActionCode: "000"})
	}))
	defer gw.Close()

	gipClient := gip.New(gw.URL, 5*time.Second)
	h := intake.New(store, gipClient, config.TimeoutConfig{FTD: time.Hour, FTC: time.Hour})

	_, err := h.FundsTransfer(ctx, intake.FundsTransferRequest{
		ReferenceNumber: "intake-ref-004", SourceBankCode: "001", SourceAccount: "1000000001",
		DestBankCode: "002", DestAccount: "2000000002", Amount: "50.00",
		InstitutionID: "inst-1", CredentialID: "cred-1", ClientCallbackURL: "https://institution.example/callback",
	})
	c.Assert(err, qt.IsNil)

	result, err := h.StatusQuery(ctx, "inst-1", "intake-ref-004")
	c.Assert(err, qt.IsNil)
	c.Assert(result.Status, qt.Equals, types.StatusFTDPending)
}

func TestStatusQueryNotFound(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	h := intake.New(store, gip.New("http://127.0.0.1:0", time.Second), config.TimeoutConfig{})

	_, err := h.StatusQuery(ctx, "inst-1", "missing-ref")
	c.Assert(errors.Is(err, types.ErrNotFound), qt.IsTrue)
}
