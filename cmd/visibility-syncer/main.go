// Package main initializes and runs the visibility syncer worker.
//
// The syncer copies compiled page rules from Postgres into Redis: a full
// hydration at startup and on a timer, plus incremental updates popped from
// the queue fed by the control plane.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hostuk/visibility/internal/cache"
	"github.com/hostuk/visibility/internal/config"
	"github.com/hostuk/visibility/internal/database"
	"github.com/hostuk/visibility/internal/logger"
	"github.com/hostuk/visibility/internal/observability"
	"github.com/hostuk/visibility/internal/store"
	"github.com/hostuk/visibility/internal/syncer"
)

const poolMonitorInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("syncer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(&cfg.App).With(slog.String("component", "syncer"))
	slog.SetDefault(log)
	cfg.LogConfig(log)

	if !cfg.Syncer.Enabled {
		log.Info("syncer disabled by configuration, exiting")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	redisCache := cache.NewRedisCache(redisClient, &cfg.Redis)
	defer redisCache.Close()

	go database.RunPoolMonitor(ctx, pool, poolMonitorInterval)
	go cache.RunPoolMonitor(ctx, redisClient, poolMonitorInterval)

	obs := observability.NewServer(log, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)
	obs.Start()

	svc := syncer.New(log, cfg.Syncer, store.NewPostgresStore(pool), redisCache)
	runErr := svc.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return fmt.Errorf("syncer stopped: %w", runErr)
	}
	log.Info("syncer stopped")
	return nil
}
