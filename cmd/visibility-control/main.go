// Package main initializes and runs the visibility control plane.
//
// It is the composition root for the rule authoring REST API: it wires
// Postgres (source of truth), the Redis update queue and the observability
// server, then serves until SIGINT or SIGTERM.
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
	"github.com/hostuk/visibility/internal/controlapi"
	"github.com/hostuk/visibility/internal/database"
	"github.com/hostuk/visibility/internal/logger"
	"github.com/hostuk/visibility/internal/observability"
	"github.com/hostuk/visibility/internal/server"
	"github.com/hostuk/visibility/internal/store"
)

const poolMonitorInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("control plane failed", slog.String("error", err.Error()))
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

	log := logger.New(&cfg.App).With(slog.String("component", "control-plane"))
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure
	// -------------------------------------------------------------------------
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

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	skipAuth := cfg.Server.Control.APIKeyHash == ""
	if skipAuth {
		log.Warn("no API key hash configured, control plane authentication is disabled")
	}

	api := controlapi.NewAPIWithConfig(log, store.NewPostgresStore(pool), redisCache, &cfg.Server.Control, skipAuth)

	obs := observability.NewServer(log, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)
	obs.Start()

	// -------------------------------------------------------------------------
	// 4. Serve until signalled
	// -------------------------------------------------------------------------
	var tls *server.TLSFiles
	if cfg.Server.Control.TLSEnabled {
		tls = &server.TLSFiles{CertFile: cfg.Server.Control.TLSCert, KeyFile: cfg.Server.Control.TLSKey}
	}

	srv := server.New(cfg.Server.Control.HTTPServerConfig, cfg.Server.Control.Port, api.Router)
	serveErr := server.Run(ctx, log, srv, tls, cfg.App.ShutdownTimeout)

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := api.Wait(shutdownCtx); err != nil {
		log.Warn("pending update notifications abandoned", slog.String("error", err.Error()))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}

	if serveErr != nil {
		return serveErr
	}
	log.Info("control plane stopped")
	return nil
}
