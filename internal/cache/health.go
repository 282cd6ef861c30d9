package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hostuk/visibility/internal/observability"
)

var errNilClient = errors.New("redis client is nil")

var _ observability.Checker = (*HealthChecker)(nil)

// HealthChecker is the readiness probe for Redis.
type HealthChecker struct {
	client *redis.Client
}

func NewHealthChecker(client *redis.Client) *HealthChecker {
	return &HealthChecker{client: client}
}

func (h *HealthChecker) Name() string { return "redis" }

func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return errNilClient
	}
	if err := h.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
