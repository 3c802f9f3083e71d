// Package requestcontext carries per-call values such as the request clock.
package requestcontext

import (
	"context"
	"time"
)

type timeKey struct{}

type requestIDKey struct{}

// WithTime pins the clock observed by Now for the lifetime of ctx.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timeKey{}, t)
}

// Now returns the pinned request time, or the wall clock when none is set.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(timeKey{}).(time.Time); ok && !t.IsZero() {
		return t
	}
	return time.Now()
}

// WithRequestID attaches a correlation ID used in logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation ID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
