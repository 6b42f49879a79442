// Package dbtest provides a throwaway Postgres-backed storage.Store for
// tests in other packages that need a real database (the Callback
// Processor, TSQ Worker, Reversal Worker and Client Callback Deliverer all
// drive row-level locking that an in-memory fake cannot exercise
// faithfully).
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcwait "github.com/testcontainers/testcontainers-go/wait"

	"github.com/gashie/fundswitch/log"
	"github.com/gashie/fundswitch/storage"
)

// New spins up a throwaway Postgres container, applies migrations, and
// returns a Store against it. Skipped unless RUN_INTEGRATION_TESTS=true,
// since it needs a working docker daemon.
func New(t *testing.T) *storage.Store {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("skipping integration test; set RUN_INTEGRATION_TESTS=true to run")
	}
	c := qt.New(t)
	ctx := context.Background()

	pgc, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("fundswitch"),
		postgres.WithUsername("fundswitch"),
		postgres.WithPassword("fundswitch"),
		tcwait.ForListeningPort("5432/tcp").WithStartupTimeout(60*time.Second),
	)
	c.Assert(err, qt.IsNil)
	t.Cleanup(func() {
		if err := pgc.Terminate(context.Background()); err != nil {
			log.Warnw("terminate postgres container", "err", err)
		}
	})

	dsn, err := pgc.ConnectionString(ctx, "sslmode=disable")
	c.Assert(err, qt.IsNil)

	s, err := storage.Open(ctx, dsn, 5)
	c.Assert(err, qt.IsNil)
	t.Cleanup(func() { s.Close() })
	return s
}
