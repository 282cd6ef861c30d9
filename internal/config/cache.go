package config

import "time"

// CacheConfig sizes the data plane's in-process L1 cache of compiled page rules.
type CacheConfig struct {
	// L1Capacity is the hard cap on cached pages.
	L1Capacity int `envconfig:"L1_CAPACITY" default:"10000" validate:"min=1"`

	// L1TTL bounds staleness if an invalidation message is lost.
	L1TTL time.Duration `envconfig:"L1_TTL" default:"60s" validate:"gt=0"`

	// MetricsInterval is how often the L1 gauges are refreshed.
	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"15s" validate:"gt=0"`
}
