// Package deliver delivers terminal-state notifications to an
// institution's webhook, spec §4.F.
package deliver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gashie/fundswitch/config"
	"github.com/gashie/fundswitch/log"
	"github.com/gashie/fundswitch/storage"
	"github.com/gashie/fundswitch/types"
)

// maxBodySnippet bounds how much of a non-2xx response body gets recorded,
// so a misbehaving webhook can't bloat the client_callbacks table.
const maxBodySnippet = 500

// Deliverer is the Client Callback Deliverer daemon.
type Deliverer struct {
	store *storage.Store
	http  *http.Client
	cfg   config.DeliverConfig
	poll  time.Duration
	batch int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Deliverer.
func New(store *storage.Store, cfg config.DeliverConfig, poll time.Duration, batch int) *Deliverer {
	return &Deliverer{
		store: store,
		http:  &http.Client{Timeout: cfg.RequestTimeout},
		cfg:   cfg,
		poll:  poll,
		batch: batch,
	}
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
func (d *Deliverer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return fmt.Errorf("deliverer already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(ctx)
	return nil
}

// Stop cancels the poll loop and waits for the in-flight batch to finish.
func (d *Deliverer) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (d *Deliverer) loop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runBatch(ctx)
		}
	}
}

func (d *Deliverer) runBatch(ctx context.Context) {
	due, err := d.store.ClaimDueClientCallbacks(ctx, d.batch)
	if err != nil {
		log.Errorw(err, "claim due client callbacks")
		return
	}
	for _, cb := range due {
		d.deliver(ctx, cb)
	}
}

// deliver dispatches one attempt against cb.URL. attempts counts this
// dispatch whether it succeeds or fails, matching spec §8 scenario 5 where
// a delivery that succeeds on its fifth call is recorded with attempts=5.
func (d *Deliverer) deliver(ctx context.Context, cb *types.ClientCallback) {
	attempts := cb.Attempts + 1

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cb.URL, bytes.NewReader([]byte(cb.Payload)))
	if err != nil {
		d.fail(ctx, cb, attempts, 0, "build request: "+err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		d.fail(ctx, cb, attempts, 0, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := d.store.RecordClientCallbackDelivered(ctx, cb.ID, attempts, resp.StatusCode); err != nil {
			log.Errorw(err, "record delivered", "clientCallbackId", cb.ID)
		}
		return
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
	d.fail(ctx, cb, attempts, resp.StatusCode, string(body))
}

// fail records a failed delivery attempt, scheduling the next retry with
// bounded exponential backoff or marking the delivery FAILED once
// max_attempts is exhausted. The delay for the Nth attempt is
// initialDelay * backoffMultiplier^(N-1), so the first retry after a
// single failure waits initialDelay exactly.
func (d *Deliverer) fail(ctx context.Context, cb *types.ClientCallback, attempts, httpCode int, lastErr string) {
	exhausted := attempts >= cb.MaxAttempts

	delay := time.Duration(float64(d.cfg.InitialDelay) * math.Pow(d.cfg.BackoffMultiplier, float64(attempts-1)))
	if delay > d.cfg.MaxDelay {
		delay = d.cfg.MaxDelay
	}
	next := time.Now().Add(delay)

	if err := d.store.RecordClientCallbackAttempt(ctx, cb.ID, attempts, httpCode, lastErr, next, exhausted); err != nil {
		log.Errorw(err, "record client callback attempt", "clientCallbackId", cb.ID)
	}
}
