// Package containers starts throwaway PostgreSQL and Redis instances with
// testcontainers-go for integration tests.
package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hostuk/visibility/internal/config"
	"github.com/hostuk/visibility/internal/database"
)

// Postgres is a running container with a migrated schema and an open pool.
type Postgres struct {
	Container        testcontainers.Container
	DB               *pgxpool.Pool
	ConnectionString string
}

// Terminate closes the pool and removes the container.
func (c *Postgres) Terminate(ctx context.Context) error {
	c.DB.Close()
	return c.Container.Terminate(ctx)
}

// StartPostgres runs postgres:16-alpine and applies the embedded migrations.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("visibility_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:             connStr,
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	})
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		_ = ctr.Terminate(ctx)
		return nil, err
	}

	return &Postgres{Container: ctr, DB: pool, ConnectionString: connStr}, nil
}

// Truncate empties every table between scenarios.
func (c *Postgres) Truncate(ctx context.Context) error {
	_, err := c.DB.Exec(ctx, `TRUNCATE blocks, pages RESTART IDENTITY CASCADE`)
	return err
}
