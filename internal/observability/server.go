package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hostuk/visibility/internal/config"
)

// Server exposes liveness, readiness and Prometheus metrics on a dedicated port,
// away from the business listeners.
//
// Keeping it separate means the metrics path is never reachable through the
// public data plane, and a saturated business listener cannot starve the
// orchestrator's health checks.
type Server struct {
	logger   *slog.Logger
	cfg      *config.ObservabilityConfig
	router   *chi.Mux
	server   *http.Server
	checkers []Checker
}

// NewServer builds the observability server. The checkers are probed by readiness.
func NewServer(logger *slog.Logger, cfg *config.ObservabilityConfig, checkers ...Checker) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		panic("observability: config cannot be nil")
	}

	// No request logging here: probes hit these routes every few seconds.
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		router:   r,
		checkers: checkers,
	}

	// Liveness only says the process is up. It never touches a dependency,
	// so a Redis outage does not get the pod restarted.
	r.Get(cfg.LivenessPath, s.liveness)
	// Readiness runs every checker and answers 503 if any fails.
	r.Get(cfg.ReadinessPath, s.readiness)
	// promhttp serves the default registry that promauto registers into.
	r.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in a background goroutine and returns immediately.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%s", s.cfg.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       s.cfg.Timeout,
		ReadHeaderTimeout: s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
		IdleTimeout:       s.cfg.Timeout * 3,
	}

	go func() {
		s.logger.Info("starting observability server",
			slog.String("addr", addr),
			slog.String("liveness_path", s.cfg.LivenessPath),
			slog.String("readiness_path", s.cfg.ReadinessPath),
			slog.String("metrics_path", s.cfg.MetricsPath),
		)

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown stops the server. It is a no-op if Start was never called.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping observability server")
	return s.server.Shutdown(ctx)
}
