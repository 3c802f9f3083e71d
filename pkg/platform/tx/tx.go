// Package tx carries an open database transaction through context.Context so
// that stores participating in one unit of work share the same session.
package tx

import (
	"context"
	"database/sql"
)

type txKey struct{}

// WithTx returns a copy of ctx that carries tx.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// From returns the transaction carried by ctx, if any.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// Runner executes fn inside one all-or-nothing unit of work.
// fn's context carries the session; a non-nil error from fn rolls everything back.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type readOnlyKey struct{}

// ReadOnly marks the unit of work started with ctx as a pure read. Runners
// that support it read from a single snapshot and reject writes.
func ReadOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, readOnlyKey{}, true)
}

// IsReadOnly reports whether ctx was marked with ReadOnly.
func IsReadOnly(ctx context.Context) bool {
	ro, _ := ctx.Value(readOnlyKey{}).(bool)
	return ro
}
