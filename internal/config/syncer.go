package config

import (
	"fmt"
	"time"
)

// SyncerConfig contains configuration for the Syncer worker service.
type SyncerConfig struct {
	Enabled    bool          `envconfig:"ENABLED" default:"true"`
	PopTimeout time.Duration `envconfig:"POP_TIMEOUT" default:"5s" validate:"gt=0"`

	// HydrationInterval is the period of the full page re-sync. Zero disables it
	// after the startup run.
	HydrationInterval    time.Duration `envconfig:"HYDRATION_INTERVAL" default:"10m" validate:"min=0"`
	HydrationConcurrency int           `envconfig:"HYDRATION_CONCURRENCY" default:"10" validate:"min=1"`

	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	BaseRetryDelay time.Duration `envconfig:"BASE_RETRY_DELAY" default:"1s"`
	MaxRetryDelay  time.Duration `envconfig:"MAX_RETRY_DELAY" default:"30s"`
}

// Validate checks SyncerConfig fields for correctness.
func (c *SyncerConfig) Validate() error {
	if c.MaxRetryDelay < c.BaseRetryDelay {
		return fmt.Errorf("syncer max retry delay (%s) cannot be lower than base retry delay (%s)", c.MaxRetryDelay, c.BaseRetryDelay)
	}
	return nil
}
