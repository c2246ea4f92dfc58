// Package api assembles the node HTTP surface.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/rxchain/internal/api/handlers"
	"github.com/drfirst/rxchain/internal/api/middleware"
	"github.com/drfirst/rxchain/internal/observability/metrics"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// RouterConfig configures NewRouter
type RouterConfig struct {
	ServiceName string
	Auth        middleware.AuthConfig
	CORSOrigins []string
	// Ready reports whether backing stores are reachable; nil means always ready
	Ready func(ctx context.Context) error
}

// NewRouter wires the middleware chain, the unauthenticated probes and the
// wallet-authenticated contract routes
func NewRouter(h *handlers.Handler, m *metrics.Metrics, cfg RouterConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	if m != nil {
		r.Use(middleware.Metrics(m))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"` + cfg.ServiceName + `","version":"` + Version + `"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.WalletAuth(cfg.Auth))
		r.Mount("/", h.Routes())
	})
	return r
}
