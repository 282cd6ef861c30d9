package containers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/hostuk/visibility/internal/cache"
	"github.com/hostuk/visibility/internal/config"
)

// Redis is a running container with an application client and cache.
type Redis struct {
	Container testcontainers.Container
	Config    *config.RedisConfig
	Client    *redis.Client
	Cache     *cache.RedisCache
}

// Terminate closes the client and removes the container.
func (c *Redis) Terminate(ctx context.Context) error {
	_ = c.Client.Close()
	return c.Container.Terminate(ctx)
}

// StartRedis runs redis:7-alpine and connects through cache.NewRedisClient.
func StartRedis(ctx context.Context) (*Redis, error) {
	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := ctr.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}
	host, port, _ := strings.Cut(endpoint, ":")

	cfg := &config.RedisConfig{
		Host:                host,
		Port:                port,
		PoolSize:            10,
		PingMaxRetries:      5,
		PingBackoff:         500 * time.Millisecond,
		KeyPrefix:           "visibility",
		QueueKey:            "queue:page_updates",
		InvalidationChannel: "events:page_invalidation",
	}

	client, err := cache.NewRedisClient(ctx, cfg)
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &Redis{
		Container: ctr,
		Config:    cfg,
		Client:    client,
		Cache:     cache.NewRedisCache(client, cfg),
	}, nil
}
