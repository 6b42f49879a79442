// Package service wraps the inbound API server in the same Start(ctx)/Stop()
// lifecycle the background daemons implement themselves (see Daemon), so
// cmd/fundswitchd can bring the whole process up and down as one unit.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/gashie/fundswitch/api"
	"github.com/gashie/fundswitch/intake"
	"github.com/gashie/fundswitch/storage"
)

// Daemon is the lifecycle every background worker (callback.Processor,
// tsq.Worker, reversal.Worker, deliver.Deliverer) already implements.
type Daemon interface {
	Start(ctx context.Context) error
	Stop()
}

// APIService manages the inbound HTTP server's lifecycle.
type APIService struct {
	store  *storage.Store
	intake *intake.Handler
	host   string
	port   int

	mu     sync.Mutex
	cancel context.CancelFunc
	api    *api.API
}

// NewAPI constructs an APIService bound to host:port.
func NewAPI(store *storage.Store, intakeHandler *intake.Handler, host string, port int) *APIService {
	return &APIService{store: store, intake: intakeHandler, host: host, port: port}
}

// Start begins the API server. It returns an error if the service is
// already running or fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("api service already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	a, err := api.New(ctx, &api.Config{
		Host:   as.host,
		Port:   as.port,
		Store:  as.store,
		Intake: as.intake,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start api server: %w", err)
	}

	as.cancel = cancel
	as.api = a
	return nil
}

// Stop halts the API server.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.cancel != nil {
		as.cancel()
		as.cancel = nil
	}
}

// Router exposes the underlying api.API (whose Router method returns the chi
// router), for tests that drive the API in-process instead of over a socket.
func (as *APIService) Router() *api.API {
	return as.api
}
