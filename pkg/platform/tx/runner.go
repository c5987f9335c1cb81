package tx

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultTxTimeout = 5 * time.Second

// Runner executes a function inside a single transaction boundary. Services
// depend on this interface so unit tests can run against the no-op runner
// while production wiring uses Postgres transactions.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner runs the callback inside one SQL transaction, placing the
// transaction in context so stores participating in the same unit of work
// share it (see WithTx/From).
type SQLRunner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLRunner builds a Runner over the given database handle.
func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db, timeout: defaultTxTimeout}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	// Nested call: reuse the surrounding transaction.
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// NopRunner executes the callback directly. In-memory stores apply each
// operation atomically under their own mutex, so unit tests don't need a
// real transaction boundary.
type NopRunner struct{}

// NewNopRunner builds the pass-through runner used with in-memory stores.
func NewNopRunner() *NopRunner { return &NopRunner{} }

func (r *NopRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
