package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"consentmgr/internal/app"
	"consentmgr/internal/consent/workers/expiry"
	"consentmgr/internal/platform/config"
	"consentmgr/internal/platform/logger"
)

const (
	shutdownTimeout = 10 * time.Second
	statsInterval   = 15 * time.Second
)

// main wires high-level dependencies, exposes the ops router, and runs the
// expiry worker. Business logic lives in internal service packages.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "error", err)
		os.Exit(1)
	}
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	c, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck // best-effort on shutdown

	log.Info("initializing consentmgr",
		"ops_addr", cfg.OpsAddr,
		"postgres", c.Pool != nil,
		"redis", c.Redis != nil,
		"expiry_enabled", cfg.Expiry.Enabled,
	)

	srv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           newOpsRouter(c),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting ops server", "addr", cfg.OpsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down ops server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.RecordPoolStats()
			case <-ctx.Done():
				return nil
			}
		}
	})

	if cfg.Expiry.Enabled {
		worker, err := expiry.New(c.Service,
			expiry.WithInterval(cfg.Expiry.Interval),
			expiry.WithBatchSize(cfg.Expiry.BatchSize),
			expiry.WithLogger(log),
		)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}
