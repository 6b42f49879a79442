// Command fundswitchd runs the interbank funds-transfer switch
// orchestrator: the inbound API plus the four background daemons that
// drive the transaction lifecycle state machine to completion.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gashie/fundswitch/callback"
	"github.com/gashie/fundswitch/config"
	"github.com/gashie/fundswitch/deliver"
	"github.com/gashie/fundswitch/gip"
	"github.com/gashie/fundswitch/intake"
	"github.com/gashie/fundswitch/log"
	"github.com/gashie/fundswitch/reversal"
	"github.com/gashie/fundswitch/service"
	"github.com/gashie/fundswitch/storage"
	"github.com/gashie/fundswitch/tsq"
)

// daemons holds every running component so shutdownDaemons can stop them
// in the reverse order they were started.
type daemons struct {
	store    *storage.Store
	api      *service.APIService
	callback *callback.Processor
	tsq      *tsq.Worker
	reversal *reversal.Worker
	deliver  *deliver.Deliverer
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output)
	log.Infow("starting fundswitchd")

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := setupDaemons(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to setup daemons: %v", err)
	}
	defer shutdownDaemons(d)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received signal, shutting down", "signal", sig.String())
}

// setupDaemons opens the shared store, constructs every component and
// starts them. Each component shares nothing with the others but the
// store and an outbound GIP client, per spec §5.
func setupDaemons(ctx context.Context, cfg *config.Config) (*daemons, error) {
	log.Infow("opening database", "maxOpenConn", cfg.DB.MaxOpenConn)
	store, err := storage.Open(ctx, cfg.DB.DSN, cfg.DB.MaxOpenConn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	gipClient := gip.New(cfg.Gip.BaseURL, cfg.Gip.RequestTimeout)
	d := &daemons{store: store}

	intakeHandler := intake.New(store, gipClient, cfg.Timeouts)

	log.Infow("starting api service", "host", cfg.API.Host, "port", cfg.API.Port)
	d.api = service.NewAPI(store, intakeHandler, cfg.API.Host, cfg.API.Port)
	if err := d.api.Start(ctx); err != nil {
		return nil, fmt.Errorf("start api service: %w", err)
	}

	log.Infow("starting callback processor", "poll", cfg.Poll.Callback, "batch", cfg.Poll.BatchSize)
	d.callback = callback.New(store, gipClient, cfg.Timeouts, cfg.Deliver, cfg.Poll.Callback, cfg.Poll.BatchSize)
	if err := d.callback.Start(ctx); err != nil {
		return nil, fmt.Errorf("start callback processor: %w", err)
	}

	log.Infow("starting tsq worker", "poll", cfg.Poll.TSQ, "maxAttempts", cfg.TSQ.MaxAttempts)
	d.tsq = tsq.New(store, gipClient, cfg.TSQ, cfg.Timeouts, cfg.Deliver, cfg.Poll.TSQ, cfg.Poll.BatchSize)
	if err := d.tsq.Start(ctx); err != nil {
		return nil, fmt.Errorf("start tsq worker: %w", err)
	}

	log.Infow("starting reversal worker", "poll", cfg.Poll.Reversal)
	d.reversal = reversal.New(store, gipClient, cfg.Poll.Reversal, cfg.Timeouts.Reversal, cfg.Poll.BatchSize)
	if err := d.reversal.Start(ctx); err != nil {
		return nil, fmt.Errorf("start reversal worker: %w", err)
	}

	log.Infow("starting client callback deliverer", "poll", cfg.Poll.Deliver)
	d.deliver = deliver.New(store, cfg.Deliver, cfg.Poll.Deliver, cfg.Poll.BatchSize)
	if err := d.deliver.Start(ctx); err != nil {
		return nil, fmt.Errorf("start deliverer: %w", err)
	}

	log.Infow("fundswitchd is running")
	return d, nil
}

// shutdownDaemons stops every component in the reverse order it was
// started and closes the database pool last.
func shutdownDaemons(d *daemons) {
	if d == nil {
		return
	}
	if d.deliver != nil {
		d.deliver.Stop()
	}
	if d.reversal != nil {
		d.reversal.Stop()
	}
	if d.tsq != nil {
		d.tsq.Stop()
	}
	if d.callback != nil {
		d.callback.Stop()
	}
	if d.api != nil {
		d.api.Stop()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Warnw("close store failed", "err", err)
		}
	}
}
