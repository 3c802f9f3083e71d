package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Expirer moves consents whose validity has elapsed to Expired.
type Expirer interface {
	ExpireConsents(ctx context.Context, asOf time.Time, limit int) (int, error)
}

// Result summarizes one sweep.
type Result struct {
	Expired  int
	Duration time.Duration
}

// Worker periodically sweeps for expired consents.
type Worker struct {
	expirer   Expirer
	interval  time.Duration
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures Worker.
type Option func(*Worker)

// WithInterval overrides the sweep interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize caps how many consents one sweep expires. Zero means no cap.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n >= 0 {
			w.batchSize = n
		}
	}
}

// WithLogger overrides the logger used for sweep results.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// New constructs a Worker.
func New(expirer Expirer, opts ...Option) (*Worker, error) {
	if expirer == nil {
		return nil, fmt.Errorf("expirer is required")
	}
	w := &Worker{
		expirer:   expirer,
		interval:  time.Minute,
		batchSize: 500,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Start runs a sweep every interval until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "consent expiry sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep. Consents expired before a failure stay
// expired; the error carries every per-consent failure.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	start := w.now()
	n, err := w.expirer.ExpireConsents(ctx, start.UTC(), w.batchSize)
	res := Result{Expired: n, Duration: w.now().Sub(start)}
	if err != nil {
		return res, fmt.Errorf("expire consents: %w", err)
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "consent expiry sweep",
			"expired", n,
			"duration_ms", res.Duration.Milliseconds(),
		)
	}
	return res, nil
}
