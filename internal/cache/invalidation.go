package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hostuk/visibility/internal/observability"
)

// invalidationRetryDelay is the pause after a failed receive before trying again.
const invalidationRetryDelay = 500 * time.Millisecond

// RunInvalidationListener drops L1 entries named on ps until ctx is done, then
// closes ps. Every (re)subscription clears the whole L1: messages published
// while disconnected are lost.
func (c *MemoryCache) RunInvalidationListener(ctx context.Context, logger *slog.Logger, ps *redis.PubSub) {
	if logger == nil {
		logger = slog.Default()
	}
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer stop()

	for {
		msg, err := ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("invalidation subscription failed", slog.String("error", err.Error()))

			t := time.NewTimer(invalidationRetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				c.Clear()
				logger.Info("subscribed to invalidations", slog.String("channel", m.Channel))
			}
		case *redis.Message:
			inv, ok := DecodeQueueMessage(m.Payload)
			if !ok {
				logger.Warn("malformed invalidation message", slog.String("payload", m.Payload))
				continue
			}
			c.Del(inv.PageID)
			observability.DataPlaneInvalidations.Inc()
			logger.Debug("page invalidated", slog.Int64("page_id", inv.PageID), slog.Int64("version", inv.Version))
		}
	}
}
