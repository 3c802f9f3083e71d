package tx

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dErrors "consentmgr/pkg/domain-errors"
)

// DefaultTimeout bounds a unit of work when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// PostgresRunner runs units of work in database/sql transactions.
type PostgresRunner struct {
	db        *sql.DB
	timeout   time.Duration
	isolation sql.IsolationLevel
}

// RunnerOption configures a PostgresRunner.
type RunnerOption func(*PostgresRunner)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *PostgresRunner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithIsolation sets the isolation level used by BeginTx.
func WithIsolation(level sql.IsolationLevel) RunnerOption {
	return func(r *PostgresRunner) {
		r.isolation = level
	}
}

// NewPostgresRunner constructs a transaction runner over db.
func NewPostgresRunner(db *sql.DB, opts ...RunnerOption) *PostgresRunner {
	r := &PostgresRunner{db: db, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunInTx begins a transaction, runs fn, and commits. Calls made while a
// transaction is already carried by ctx join it instead of opening another.
func (r *PostgresRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, ok := From(ctx); ok {
		return fn(ctx)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTx(ctx, r.txOptions(ctx))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin transaction")
	}
	defer func() {
		_ = sqlTx.Rollback() //nolint:errcheck // rollback after commit is no-op; error already captured
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return dErrors.Wrap(fmt.Errorf("commit: %w", err), dErrors.CodeInternal, "commit transaction")
	}
	return nil
}

// txOptions upgrades read-only units of work to a repeatable-read snapshot
// so multi-statement reads see one consistent state.
func (r *PostgresRunner) txOptions(ctx context.Context) *sql.TxOptions {
	opts := &sql.TxOptions{Isolation: r.isolation}
	if IsReadOnly(ctx) {
		opts.ReadOnly = true
		if opts.Isolation < sql.LevelRepeatableRead {
			opts.Isolation = sql.LevelRepeatableRead
		}
	}
	return opts
}
