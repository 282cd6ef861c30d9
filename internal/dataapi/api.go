// Package dataapi implements the HTTP data plane that answers visibility
// questions for pages and blocks on the request hot path.
package dataapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/hostuk/visibility/internal/config"
	"github.com/hostuk/visibility/internal/logger"
	"github.com/hostuk/visibility/internal/observability"
	"github.com/hostuk/visibility/internal/targeting"
	"github.com/hostuk/visibility/internal/validation"
	"github.com/hostuk/visibility/internal/visitor"
)

// RulesReader is the L2 read side.
type RulesReader interface {
	GetPageRules(ctx context.Context, pageID int64) (*targeting.PageRules, error)
}

// LocalCache is the in-process L1. Fills go through SetIfUnchanged with the
// generation read before the L2 fetch, so an invalidation that lands during
// the fetch is not overwritten.
type LocalCache interface {
	Get(pageID int64) (*targeting.PageRules, bool)
	Generation() uint64
	SetIfUnchanged(rules *targeting.PageRules, gen uint64) bool
}

// API serves evaluation requests using a read-through L1 -> L2 strategy.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	logger    *slog.Logger
	l1        LocalCache
	l2        RulesReader
	engine    *targeting.Engine
	extractor *visitor.Extractor

	l2Timeout    time.Duration
	maxBodyBytes int64
}

// NewAPI creates the data plane API. Panics if any dependency is nil.
func NewAPI(log *slog.Logger, l1 LocalCache, l2 RulesReader, engine *targeting.Engine, extractor *visitor.Extractor, cfg *config.DataPlaneConfig) *API {
	validation.AssertNotNilInterface(l1, "l1 cache")
	validation.AssertNotNilInterface(l2, "l2 cache")
	validation.AssertNotNil(engine, "targeting engine")
	validation.AssertNotNil(extractor, "request extractor")
	validation.AssertNotNil(cfg, "data plane config")

	if log == nil {
		log = slog.Default()
	}

	api := &API{
		Router:       chi.NewRouter(),
		logger:       log,
		l1:           l1,
		l2:           l2,
		engine:       engine,
		extractor:    extractor,
		l2Timeout:    cfg.L2Timeout,
		maxBodyBytes: cfg.MaxBodyBytes,
	}

	api.configureRoutes()
	return api
}

func (a *API) configureRoutes() {
	a.Router.Use(logger.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(logger.Middleware(a.logger))
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(observability.HTTPMetrics(observability.DataPlaneReqDuration, observability.DataPlaneReqTotal))
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	a.Router.Route("/v1", func(r chi.Router) {
		r.Get("/pages/{pageID}/access", a.handlePageAccess)
		r.Get("/pages/{pageID}/blocks", a.handleVisibleBlocks)
		r.Post("/evaluate", a.handleEvaluate)
	})
}
