package tsq_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/gashie/fundswitch/config"
	"github.com/gashie/fundswitch/gip"
	"github.com/gashie/fundswitch/storage"
	"github.com/gashie/fundswitch/storage/dbtest"
	"github.com/gashie/fundswitch/tsq"
	"github.com/gashie/fundswitch/types"
)

func newTxn(ref string) *types.Transaction {
	return &types.Transaction{
		ReferenceNumber:   ref,
		SourceBankCode:    "001",
		SourceAccount:     "1000000001",
		SourceName:        "Ama Mensah",
		DestBankCode:      "002",
		DestAccount:       "2000000002",
		DestName:          "Kojo Asante",
		Amount:            "100.00",
		InstitutionID:     "inst-1",
		CredentialID:      "cred-1",
		ClientCallbackURL: "https://institution.example/callback",
	}
}

type tsqWireResponse struct {
	ActionCode string `json:"actionCode"`
	ReasonCode string `json:"reasonCode"`
}

type gipWireResponse struct {
	ActionCode     string `json:"actionCode"`
	TrackingNumber string `json:"trackingNumber"`
}

// newResolvingGateway answers /tsq with the given action/reason code and
// every other call (the FTC dispatch a successful FTD resolution triggers)
// with success, so a test only has to steer the TSQ outcome it cares about.
func newResolvingGateway(tsqActionCode, tsqReasonCode string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/tsq" {
			json.NewEncoder(w).Encode(tsqWireResponse{ActionCode: tsqActionCode, ReasonCode: tsqReasonCode})
			return
		}
		json.NewEncoder(w).Encode(gipWireResponse{ActionCode: "000", TrackingNumber: "trk-1"})
	}))
}

func waitForStatus(c *qt.C, ctx context.Context, store *storage.Store, id int64, want types.TransactionStatus, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		t, err := store.GetTransaction(ctx, id)
		c.Assert(err, qt.IsNil)
		if t.Status == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	c.Fatalf("transaction %d never reached status %s", id, want)
}

// TestTSQResolvesInconclusiveLegToSuccess exercises §4.D.1: a transaction
// stuck in FTD_TSQ resolves to FTD_SUCCESS once the gateway's TSQ response
// reports 000/000, and the worker continues the pipeline into FTC_PENDING
// the same way the Callback Processor would for an FTD callback success.
func TestTSQResolvesInconclusiveLegToSuccess(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	gw := newResolvingGateway("000", "000")
	defer gw.Close()

	id, err := store.CreateTransaction(ctx, newTxn("tsq-ref-001"))
	c.Assert(err, qt.IsNil)
	c.Assert(store.SetSessionID(ctx, id, "tsq-sess-001"), qt.IsNil)
	c.Assert(store.AdvanceStatus(ctx, id, types.StatusFTDPending, nil), qt.IsNil)
	c.Assert(store.AdvanceStatus(ctx, id, types.StatusFTDTSQ, nil), qt.IsNil)

	gipClient := gip.New(gw.URL, 5*time.Second)
	w := tsq.New(store, gipClient, config.TSQConfig{MaxAttempts: 3, BaseInterval: time.Millisecond},
		config.TimeoutConfig{FTC: time.Minute}, config.DeliverConfig{MaxAttempts: 5}, 20*time.Millisecond, 10)
	c.Assert(w.Start(ctx), qt.IsNil)
	defer w.Stop()

	waitForStatus(c, ctx, store, id, types.StatusFTCPending, 2*time.Second)
}

// TestTSQResolvesNotFoundAtReceiverToFailure exercises §4.D.1's 000/381
// branch: the receiving bank never saw the leg, so it resolves to failure.
func TestTSQResolvesNotFoundAtReceiverToFailure(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	gw := newResolvingGateway("000", "381")
	defer gw.Close()

	id, err := store.CreateTransaction(ctx, newTxn("tsq-ref-002"))
	c.Assert(err, qt.IsNil)
	c.Assert(store.SetSessionID(ctx, id, "tsq-sess-002"), qt.IsNil)
	c.Assert(store.AdvanceStatus(ctx, id, types.StatusFTDPending, nil), qt.IsNil)
	c.Assert(store.AdvanceStatus(ctx, id, types.StatusFTDTSQ, nil), qt.IsNil)

	gipClient := gip.New(gw.URL, 5*time.Second)
	w := tsq.New(store, gipClient, config.TSQConfig{MaxAttempts: 3, BaseInterval: time.Millisecond},
		config.TimeoutConfig{FTC: time.Minute}, config.DeliverConfig{MaxAttempts: 5}, 20*time.Millisecond, 10)
	c.Assert(w.Start(ctx), qt.IsNil)
	defer w.Stop()

	waitForStatus(c, ctx, store, id, types.StatusFTDFailed, 2*time.Second)
}

// TestTSQEscalatesAfterMaxAttempts exercises §4.D.2/3: a gateway that keeps
// returning an indeterminate code exhausts the configured attempt budget
// and the leg is escalated to *_FAILED with a warning audit entry.
func TestTSQEscalatesAfterMaxAttempts(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	var calls int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tsqWireResponse{ActionCode: "000", ReasonCode: "990"})
	}))
	defer gw.Close()

	id, err := store.CreateTransaction(ctx, newTxn("tsq-ref-003"))
	c.Assert(err, qt.IsNil)
	c.Assert(store.SetSessionID(ctx, id, "tsq-sess-003"), qt.IsNil)
	c.Assert(store.AdvanceStatus(ctx, id, types.StatusFTDPending, nil), qt.IsNil)
	c.Assert(store.AdvanceStatus(ctx, id, types.StatusFTDTSQ, nil), qt.IsNil)

	gipClient := gip.New(gw.URL, 5*time.Second)
	w := tsq.New(store, gipClient, config.TSQConfig{MaxAttempts: 2, BaseInterval: time.Millisecond},
		config.TimeoutConfig{FTC: time.Minute}, config.DeliverConfig{MaxAttempts: 5}, 10*time.Millisecond, 10)
	c.Assert(w.Start(ctx), qt.IsNil)
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		txn, err := store.GetTransaction(ctx, id)
		c.Assert(err, qt.IsNil)
		if txn.Status == types.StatusFTDFailed {
			break
		}
		if txn.TSQNextAttemptAt != nil && txn.TSQNextAttemptAt.After(time.Now()) {
			c.Assert(store.ScheduleNextTSQAttempt(ctx, id, txn.TSQAttempts, time.Now()), qt.IsNil)
		}
		time.Sleep(10 * time.Millisecond)
	}

	txn, err := store.GetTransaction(ctx, id)
	c.Assert(err, qt.IsNil)
	c.Assert(txn.Status, qt.Equals, types.StatusFTDFailed)

	log, err := store.ListAuditLog(ctx, id)
	c.Assert(err, qt.IsNil)
	c.Assert(len(log) > 0, qt.IsTrue)
	c.Assert(log[0].Severity, qt.Equals, types.AuditWarn)
}
