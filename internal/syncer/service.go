// Package syncer propagates page rules from PostgreSQL (source of truth) to the
// Redis L2 read by the data plane. It drains the update queue, runs periodic
// full hydrations and publishes invalidations so data planes drop stale L1 copies.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hostuk/visibility/internal/cache"
	"github.com/hostuk/visibility/internal/config"
	"github.com/hostuk/visibility/internal/observability"
	"github.com/hostuk/visibility/internal/store"
	"github.com/hostuk/visibility/internal/targeting"
	"github.com/hostuk/visibility/internal/validation"
)

// Source is the read side of the store the syncer needs.
type Source interface {
	GetPageRules(ctx context.Context, pageID int64) (*targeting.PageRules, error)
	ListPageIDs(ctx context.Context) ([]int64, error)
}

// Sink is the L2 side: snapshots, queue, invalidations and the hydration marker.
type Sink interface {
	SetPageRulesSafely(ctx context.Context, rules *targeting.PageRules) (cache.SetResult, error)
	DeletePageRules(ctx context.Context, pageID int64) error
	PopUpdate(ctx context.Context, timeout time.Duration) (*cache.SyncMessage, error)
	QueueDepth(ctx context.Context) (int64, error)
	PublishInvalidation(ctx context.Context, pageID, version int64) error
	MarkHydrated(ctx context.Context) error
}

// Service runs the queue worker and the hydration loop.
type Service struct {
	logger *slog.Logger
	cfg    config.SyncerConfig
	source Source
	sink   Sink
	retry  backoff
}

// New creates a syncer.
func New(logger *slog.Logger, cfg config.SyncerConfig, source Source, sink Sink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertNotNilInterface(source, "syncer source")
	validation.AssertNotNilInterface(sink, "syncer sink")

	if cfg.HydrationConcurrency < 1 {
		cfg.HydrationConcurrency = 1
	}

	return &Service{
		logger: logger,
		cfg:    cfg,
		source: source,
		sink:   sink,
		retry: backoff{
			maxRetries: cfg.MaxRetries,
			base:       cfg.BaseRetryDelay,
			max:        cfg.MaxRetryDelay,
		},
	}
}

// Run hydrates once, then drains the queue and re-hydrates every
// HydrationInterval until ctx is cancelled. A cancelled ctx is a clean stop.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer",
		slog.Duration("pop_timeout", s.cfg.PopTimeout),
		slog.Duration("hydration_interval", s.cfg.HydrationInterval),
		slog.Int("hydration_concurrency", s.cfg.HydrationConcurrency),
	)

	if err := s.Hydrate(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial hydration failed", slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.consume(gctx) })
	if s.cfg.HydrationInterval > 0 {
		g.Go(func() error { return s.rehydrate(gctx) })
	}

	err := g.Wait()
	s.logger.Info("syncer stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// consume pops queue messages until ctx is done.
func (s *Service) consume(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := s.sink.PopUpdate(ctx, s.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("queue pop failed", slog.String("error", err.Error()))
			if !sleep(ctx, s.retry.base) {
				return nil
			}
			continue
		}

		s.reportQueueDepth(ctx)

		if msg == nil {
			continue
		}
		s.Process(ctx, *msg)
	}
}

// rehydrate runs a full hydration on every tick.
func (s *Service) rehydrate(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HydrationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Hydrate(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("hydration failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Process syncs the page named by one queue message, with retries, and records
// the job metrics. Failures are logged; the next hydration repairs them.
func (s *Service) Process(ctx context.Context, msg cache.SyncMessage) {
	start := time.Now()
	log := s.logger.With(slog.Int64("page_id", msg.PageID), slog.Int64("version", msg.Version))

	err := s.retry.do(ctx, func() error { return s.SyncPage(ctx, msg.PageID) })

	since := start
	if !msg.EnqueuedAt.IsZero() {
		since = msg.EnqueuedAt
	}
	observability.SyncerJobDuration.Observe(time.Since(since).Seconds())

	if err != nil {
		observability.SyncerJobsTotal.WithLabelValues("fail").Inc()
		log.Error("page sync failed", slog.String("error", err.Error()))
		return
	}

	observability.SyncerJobsTotal.WithLabelValues("success").Inc()
	log.Debug("page synced", slog.Duration("duration", time.Since(start)))
}

// SyncPage copies one page from the store to L2. A page missing from the store
// is removed from L2. Data planes are told to invalidate whenever L2 changed.
func (s *Service) SyncPage(ctx context.Context, pageID int64) error {
	rules, err := s.source.GetPageRules(ctx, pageID)
	if errors.Is(err, store.ErrNotFound) {
		if err := s.sink.DeletePageRules(ctx, pageID); err != nil {
			return err
		}
		return s.sink.PublishInvalidation(ctx, pageID, 0)
	}
	if err != nil {
		return fmt.Errorf("failed to load page %d: %w", pageID, err)
	}

	res, err := s.sink.SetPageRulesSafely(ctx, rules)
	if err != nil {
		return err
	}
	if res == cache.SetResultSkipped {
		return nil
	}
	if res == cache.SetResultRepaired {
		s.logger.Warn("repaired corrupt cache entry", slog.Int64("page_id", pageID))
	}

	return s.sink.PublishInvalidation(ctx, pageID, rules.Version)
}

// Hydrate writes every page to L2 with bounded concurrency and sets the
// hydration marker when all pages succeeded.
func (s *Service) Hydrate(ctx context.Context) error {
	start := time.Now()

	ids, err := s.source.ListPageIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}

	var synced, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.HydrationConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.retry.do(gctx, func() error { return s.SyncPage(gctx, id) }); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				s.logger.Warn("page hydration failed", slog.Int64("page_id", id), slog.String("error", err.Error()))
				return nil
			}
			synced.Add(1)
			observability.SyncerHydratedPages.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("hydration completed",
		slog.Int64("synced", synced.Load()),
		slog.Int64("failed", failed.Load()),
		slog.Duration("duration", time.Since(start)),
	)

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d pages failed to hydrate", n, len(ids))
	}
	return s.sink.MarkHydrated(ctx)
}

func (s *Service) reportQueueDepth(ctx context.Context) {
	depth, err := s.sink.QueueDepth(ctx)
	if err != nil {
		return
	}
	observability.RedisQueueDepth.Set(float64(depth))
}
