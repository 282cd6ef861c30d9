package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hostuk/visibility/internal/observability"
)

// PoolStats is the subset of pgxpool statistics exported as gauges.
type PoolStats interface {
	TotalConns() int32
	IdleConns() int32
	AcquiredConns() int32
	MaxConns() int32
}

// RunPoolMonitor publishes pool gauges every interval until ctx is cancelled.
// It blocks, so run it in its own goroutine.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		RecordPoolStats(pool.Stat())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RecordPoolStats writes one snapshot to the pool gauges.
func RecordPoolStats(s PoolStats) {
	observability.DatabasePoolConnections.WithLabelValues("total").Set(float64(s.TotalConns()))
	observability.DatabasePoolConnections.WithLabelValues("idle").Set(float64(s.IdleConns()))
	observability.DatabasePoolConnections.WithLabelValues("in_use").Set(float64(s.AcquiredConns()))
	observability.DatabasePoolConnections.WithLabelValues("max").Set(float64(s.MaxConns()))
}
