// Package main initializes and runs the visibility data plane.
//
// It is the composition root for the evaluation API: requests read compiled
// page rules from the in-process L1 cache, falling back to Redis (L2). The
// invalidation listener keeps L1 in step with the syncer.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hostuk/visibility/internal/cache"
	"github.com/hostuk/visibility/internal/config"
	"github.com/hostuk/visibility/internal/dataapi"
	"github.com/hostuk/visibility/internal/logger"
	"github.com/hostuk/visibility/internal/observability"
	"github.com/hostuk/visibility/internal/server"
	"github.com/hostuk/visibility/internal/targeting"
	"github.com/hostuk/visibility/internal/visitor"
)

const poolMonitorInterval = 15 * time.Second

var errNotHydrated = errors.New("l2 cache has not been hydrated")

func main() {
	if err := run(); err != nil {
		slog.Error("data plane failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(&cfg.App).With(slog.String("component", "data-plane"))
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Caches
	// -------------------------------------------------------------------------
	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	l2 := cache.NewRedisCache(redisClient, &cfg.Redis)
	defer l2.Close()

	l1, err := cache.NewMemoryCache(cfg.Cache.L1Capacity, cfg.Cache.L1TTL)
	if err != nil {
		return fmt.Errorf("build l1 cache: %w", err)
	}
	defer l1.Close()

	go l1.RunMetricsCollector(ctx, cfg.Cache.MetricsInterval)
	go l1.RunInvalidationListener(ctx, log, l2.SubscribeInvalidations(ctx))
	go cache.RunPoolMonitor(ctx, redisClient, poolMonitorInterval)

	// -------------------------------------------------------------------------
	// 3. Request context & evaluation
	// -------------------------------------------------------------------------
	loc, err := cfg.Targeting.Location()
	if err != nil {
		return err
	}

	var classifier visitor.Classifier = visitor.UserAgentClassifier{}
	if cfg.Targeting.UAMemoSize > 0 {
		memo, err := visitor.NewMemoClassifier(classifier, cfg.Targeting.UAMemoSize, cfg.Targeting.UAMemoTTL)
		if err != nil {
			return fmt.Errorf("build user agent memo: %w", err)
		}
		defer memo.Close()
		classifier = memo
	}

	extractor := visitor.NewExtractor(classifier, loc, nil, cfg.Targeting.ExtraCountryHeaders...)
	api := dataapi.NewAPI(log, l1, l2, targeting.New(log), extractor, &cfg.Server.Data)

	// Readiness waits for the syncer's first complete hydration so a fresh
	// Redis is not mistaken for "every page is missing".
	hydrated := observability.CheckerFunc{
		ComponentName: "l2_hydration",
		Fn: func(ctx context.Context) error {
			ok, err := l2.IsHydrated(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errNotHydrated
			}
			return nil
		},
	}

	obs := observability.NewServer(log, &cfg.Observability, cache.NewHealthChecker(redisClient), hydrated)
	obs.Start()

	// -------------------------------------------------------------------------
	// 4. Serve until signalled
	// -------------------------------------------------------------------------
	srv := server.New(cfg.Server.Data.HTTPServerConfig, cfg.Server.Data.Port, api.Router)
	serveErr := server.Run(ctx, log, srv, nil, cfg.App.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}

	if serveErr != nil {
		return serveErr
	}
	log.Info("data plane stopped")
	return nil
}
