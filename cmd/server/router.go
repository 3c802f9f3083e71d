package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"consentmgr/internal/app"
	"consentmgr/internal/platform/health"
)

// newOpsRouter serves health checks and Prometheus metrics.
func newOpsRouter(c *app.Container) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := health.New(envName(c))
	c.RegisterChecks(h)
	h.Register(r)

	r.Handle("/metrics", promhttp.Handler())
	return r
}

func envName(c *app.Container) string {
	if c.Pool == nil {
		return "memory"
	}
	return "postgres"
}
