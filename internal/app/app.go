// Package app assembles the consent service and its infrastructure from
// configuration. Both binaries build the same Container.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"consentmgr/internal/consent/metrics"
	"consentmgr/internal/consent/revocation"
	"consentmgr/internal/consent/service"
	"consentmgr/internal/consent/store"
	"consentmgr/internal/consent/tracer"
	"consentmgr/internal/platform/config"
	"consentmgr/internal/platform/database"
	"consentmgr/internal/platform/health"
	"consentmgr/internal/platform/redis"
	txcontext "consentmgr/pkg/platform/tx"
)

// Container holds the wired dependencies. Pool and Redis are nil when the
// corresponding URL is not configured.
type Container struct {
	Config  config.Config
	Logger  *slog.Logger
	Pool    *database.Pool
	Redis   *redis.Client
	Store   service.Store
	Revoker service.TokenRevoker
	Metrics *metrics.Metrics
	Service *service.Service
}

// Option configures Build.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers consent metrics with reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Build connects to Postgres and Redis when configured and falls back to the
// in-memory store and revoker otherwise.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger, opts ...Option) (_ *Container, err error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	vocab, err := config.LoadVocabularies(cfg.VocabularyFile)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: cfg, Logger: log, Metrics: metrics.NewWithRegisterer(o.registerer)}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	var tx txcontext.Runner
	c.Pool, err = database.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if c.Pool != nil {
		c.Store = store.NewPostgres(c.Pool.DB())
		tx = txcontext.NewPostgresRunner(c.Pool.DB(), txcontext.WithTimeout(cfg.Database.TxTimeout))
	} else {
		log.Warn("DATABASE_URL not set, using in-memory consent store")
		mem := store.NewInMemory()
		c.Store, tx = mem, mem
	}

	c.Redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if c.Redis != nil {
		c.Revoker = revocation.NewGuarded(
			revocation.NewRedis(c.Redis.Client, revocation.WithTTL(cfg.Redis.RecordTTL)),
			nil, log,
		)
	} else {
		c.Revoker = revocation.NewInMemory()
	}

	c.Service = service.New(c.Store, tx, c.Revoker,
		service.WithLogger(log),
		service.WithMetrics(c.Metrics),
		service.WithTracer(tracer.NewOTel()),
		service.WithVocabularies(vocab),
	)
	return c, nil
}

// RegisterChecks adds readiness checks for the configured backends.
func (c *Container) RegisterChecks(h *health.Handler) {
	if c.Pool != nil {
		h.RegisterCheck("database", c.Pool.Health)
	}
	if c.Redis != nil {
		h.RegisterCheck("redis", c.Redis.Health)
	}
}

// RecordPoolStats publishes database pool statistics.
func (c *Container) RecordPoolStats() {
	c.Pool.RecordPoolStats()
}

// Close releases connections.
func (c *Container) Close() error {
	var errs []error
	if c.Pool != nil {
		errs = append(errs, c.Pool.Close())
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	return errors.Join(errs...)
}
