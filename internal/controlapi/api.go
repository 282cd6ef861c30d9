package controlapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/hostuk/visibility/internal/config"
	"github.com/hostuk/visibility/internal/logger"
	"github.com/hostuk/visibility/internal/observability"
	"github.com/hostuk/visibility/internal/store"
	"github.com/hostuk/visibility/internal/validation"
)

// Enqueuer schedules a page for propagation to the data plane cache.
type Enqueuer interface {
	EnqueueUpdate(ctx context.Context, pageID, version int64) error
}

// API holds the dependencies and the router for the control plane.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	logger *slog.Logger
	pages  store.Repository
	queue  Enqueuer

	// apiKeyHash is the hex SHA-256 of the accepted API key.
	apiKeyHash string

	// skipAuth disables authentication (tests and local development only).
	skipAuth bool

	maxBodyBytes int64

	// notify tracks in-flight enqueue goroutines so shutdown can wait for them.
	notify         sync.WaitGroup
	notifyAttempts int
	notifyDelay    time.Duration
}

// NewAPI creates an API with authentication enabled.
// Panics if cfg.APIKeyHash is empty.
func NewAPI(log *slog.Logger, repo store.Repository, queue Enqueuer, cfg *config.ControlPlaneConfig) *API {
	return NewAPIWithConfig(log, repo, queue, cfg, false)
}

// NewAPIWithConfig creates an API with explicit control over authentication.
//
// Panics if repo, queue or cfg are nil, or if the API key hash is empty while
// authentication is enabled.
func NewAPIWithConfig(log *slog.Logger, repo store.Repository, queue Enqueuer, cfg *config.ControlPlaneConfig, skipAuth bool) *API {
	validation.AssertNotNilInterface(repo, "page repository")
	validation.AssertNotNilInterface(queue, "update queue")
	validation.AssertNotNil(cfg, "control plane config")

	if !skipAuth && cfg.APIKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}
	if log == nil {
		log = slog.Default()
	}

	api := &API{
		Router:         chi.NewRouter(),
		logger:         log,
		pages:          repo,
		queue:          queue,
		apiKeyHash:     cfg.APIKeyHash,
		skipAuth:       skipAuth,
		maxBodyBytes:   cfg.MaxBodyBytes,
		notifyAttempts: 4,
		notifyDelay:    100 * time.Millisecond,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(logger.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(logger.Middleware(a.logger))
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(observability.HTTPMetrics(observability.ControlPlaneReqDuration, observability.ControlPlaneReqTotal))
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)
		r.Use(a.limitBody)

		r.Post("/pages", a.handleCreatePage)
		r.Route("/pages/{pageID}", func(r chi.Router) {
			r.Get("/targeting", a.handleGetTargeting)
			r.Put("/targeting", a.handlePutTargeting)
			r.Get("/blocks", a.handleListBlocks)
			r.Post("/blocks", a.handleCreateBlock)
		})
		r.Put("/blocks/{blockID}", a.handleUpdateBlock)
	})
}

// Wait blocks until pending queue notifications finish or ctx is done.
func (a *API) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.notify.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleHealthCheck reports that the HTTP server is serving.
// Dependency checks live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
