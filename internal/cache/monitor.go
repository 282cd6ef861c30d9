package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hostuk/visibility/internal/observability"
)

// RunPoolMonitor exports go-redis pool statistics every interval until ctx is done.
// go-redis reports cumulative counts, so counters are advanced by the delta.
func RunPoolMonitor(ctx context.Context, client *redis.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last redis.PoolStats
	for {
		last = recordPoolStats(client.PoolStats(), last)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func recordPoolStats(s *redis.PoolStats, last redis.PoolStats) redis.PoolStats {
	observability.RedisPoolConnections.WithLabelValues("total").Set(float64(s.TotalConns))
	observability.RedisPoolConnections.WithLabelValues("idle").Set(float64(s.IdleConns))
	observability.RedisPoolConnections.WithLabelValues("stale").Set(float64(s.StaleConns))

	addDelta(observability.RedisPoolHits, s.Hits, last.Hits)
	addDelta(observability.RedisPoolMisses, s.Misses, last.Misses)
	addDelta(observability.RedisPoolTimeouts, s.Timeouts, last.Timeouts)

	return *s
}

type adder interface{ Add(float64) }

func addDelta(c adder, current, previous uint32) {
	if current > previous {
		c.Add(float64(current - previous))
	}
}
