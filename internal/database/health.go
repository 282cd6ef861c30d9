package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hostuk/visibility/internal/observability"
)

var errNilPool = errors.New("database pool is nil")

var _ observability.Checker = (*HealthChecker)(nil)

// HealthChecker is the readiness probe for Postgres. It runs a round trip
// query rather than a bare ping so an exhausted pool reports as not ready.
type HealthChecker struct {
	pool *pgxpool.Pool
}

func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

func (h *HealthChecker) Name() string { return "postgres" }

func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return errNilPool
	}

	var one int
	if err := h.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres round trip: %w", err)
	}
	return nil
}
