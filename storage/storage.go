/*
Package storage provides the persistent coordination layer for fundswitchd.

Every daemon in the switch — the Intake Handler, Callback Processor, TSQ
Worker, Reversal Worker and Client Callback Deliverer — shares no state but
the database: a Postgres instance is the only synchronization primitive
between them. All cross-component handoffs happen by one component writing
a row and another claiming it under a row lock.

# Tables

  - transactions     one row per funds transfer; status changes only via
                      AdvanceStatus or TransitionInTx under SELECT ... FOR UPDATE
  - gip_events        append-only audit trail of every outbound GIP request
                      and inbound callback, sequenced per transaction
  - gip_callbacks     inbound GIP callbacks queued for the Callback
                      Processor, claimed with SKIP LOCKED
  - client_callbacks  outbound institution webhook deliveries queued for
                      the Client Callback Deliverer, claimed with SKIP LOCKED
  - audit_log         manual-intervention-class records for operator triage

# Concurrency

Claims use `FOR UPDATE SKIP LOCKED` so that multiple worker replicas can run
against the same database without claiming the same row twice. Status
transitions re-read the row under its own row lock and re-validate against
types.CanTransition immediately before committing, so a transaction can
never observe or persist two conflicting transitions concurrently.
*/
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gashie/fundswitch/log"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store wraps a Postgres connection pool. Every exported method is a single
// logical operation; multi-statement operations run inside execTx so a
// partial failure never leaves the database observably inconsistent.
type Store struct {
	db *sql.DB
}

// Open connects to dsn, applies embedded migrations and returns a ready
// Store. The caller owns the returned Store and must call Close on shutdown.
func Open(ctx context.Context, dsn string, maxOpenConn int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConn)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// execTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) execTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Warnw("rollback failed", "err", rbErr, "cause", err)
			}
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}
