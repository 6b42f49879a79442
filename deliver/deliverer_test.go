package deliver_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/gashie/fundswitch/config"
	"github.com/gashie/fundswitch/deliver"
	"github.com/gashie/fundswitch/storage"
	"github.com/gashie/fundswitch/storage/dbtest"
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

// enqueueCallback queues a delivery for transactionID against url and
// returns the row's id.
func enqueueCallback(c *qt.C, ctx context.Context, s *storage.Store, transactionID int64, url string, maxAttempts int) int64 {
	err := s.RunInTx(ctx, func(tx *sql.Tx) error {
		return storage.EnqueueClientCallback(ctx, tx, &types.ClientCallback{
			TransactionID: transactionID,
			URL:           url,
			Payload:       `{"status":"SUCCESS"}`,
			MaxAttempts:   maxAttempts,
		})
	})
	c.Assert(err, qt.IsNil)

	rows, err := s.ListClientCallbacksByTransaction(ctx, transactionID)
	c.Assert(err, qt.IsNil)
	c.Assert(len(rows), qt.Equals, 1)
	return rows[0].ID
}

func waitFor(c *qt.C, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	c.Fatal("condition not met before timeout")
}

// TestDeliverRetriesThenSucceeds exercises four 503s followed by a 200,
// matching the worked example of five total attempts ending DELIVERED.
func TestDeliverRetriesThenSucceeds(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 5 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	id, err := store.CreateTransaction(ctx, newTxn("deliver-ref-001"))
	c.Assert(err, qt.IsNil)

	cfg := config.DeliverConfig{
		MaxAttempts:       5,
		InitialDelay:      10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Second,
		RequestTimeout:    5 * time.Second,
	}
	d := deliver.New(store, cfg, 20*time.Millisecond, 10)
	c.Assert(d.Start(ctx), qt.IsNil)
	defer d.Stop()

	cbID := enqueueCallback(c, ctx, store, id, srv.URL, cfg.MaxAttempts)

	waitFor(c, 2*time.Second, func() bool {
		cb, err := store.GetClientCallback(ctx, cbID)
		c.Assert(err, qt.IsNil)
		if cb.Status != types.ClientCallbackDelivered {
			c.Assert(store.ExpireClientCallbackNow(ctx, cbID), qt.IsNil)
			return false
		}
		return true
	})

	cb, err := store.GetClientCallback(ctx, cbID)
	c.Assert(err, qt.IsNil)
	c.Assert(cb.Status, qt.Equals, types.ClientCallbackDelivered)
	c.Assert(cb.Attempts, qt.Equals, 5)
	c.Assert(int(atomic.LoadInt32(&calls)), qt.Equals, 5)
}

// TestDeliverExhaustsAndFails exercises a webhook that always errors: once
// max_attempts is reached the delivery is marked FAILED and stops retrying.
func TestDeliverExhaustsAndFails(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := dbtest.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	id, err := store.CreateTransaction(ctx, newTxn("deliver-ref-002"))
	c.Assert(err, qt.IsNil)

	cfg := config.DeliverConfig{
		MaxAttempts:       2,
		InitialDelay:      10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Second,
		RequestTimeout:    5 * time.Second,
	}
	d := deliver.New(store, cfg, 20*time.Millisecond, 10)
	c.Assert(d.Start(ctx), qt.IsNil)
	defer d.Stop()

	cbID := enqueueCallback(c, ctx, store, id, srv.URL, cfg.MaxAttempts)

	waitFor(c, 2*time.Second, func() bool {
		cb, err := store.GetClientCallback(ctx, cbID)
		c.Assert(err, qt.IsNil)
		if cb.Status == types.ClientCallbackPending {
			c.Assert(store.ExpireClientCallbackNow(ctx, cbID), qt.IsNil)
			return false
		}
		return true
	})

	cb, err := store.GetClientCallback(ctx, cbID)
	c.Assert(err, qt.IsNil)
	c.Assert(cb.Status, qt.Equals, types.ClientCallbackFailed)
	c.Assert(cb.Attempts, qt.Equals, 2)
}
