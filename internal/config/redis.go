package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RedisConfig contains Redis connection, pool and key-layout settings.
type RedisConfig struct {
	// Connection can be specified as a URL or individual components
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`

	// TLS
	TLSEnabled bool `envconfig:"TLS_ENABLED" default:"false"`

	// Connection Pool
	PoolSize        int           `envconfig:"POOL_SIZE" default:"50" validate:"min=1"`
	MinIdleConns    int           `envconfig:"MIN_IDLE_CONNS" default:"10" validate:"min=0"`
	DialTimeout     time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	PoolTimeout     time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	MinRetryBackoff time.Duration `envconfig:"MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `envconfig:"MAX_RETRY_BACKOFF" default:"512ms"`

	// Ping/connection retry settings
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`

	// Key layout. Several deployments can share one Redis by using distinct prefixes.
	KeyPrefix           string `envconfig:"KEY_PREFIX" default:"visibility"`
	QueueKey            string `envconfig:"QUEUE_KEY" default:"queue:page_updates"`
	InvalidationChannel string `envconfig:"INVALIDATION_CHANNEL" default:"events:page_invalidation"`
}

// Address returns the Redis address in host:port format.
// If URL is provided, it returns that for the redis client to parse.
func (c *RedisConfig) Address() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Validate checks if the Redis configuration is valid.
func (c *RedisConfig) Validate(environment string) error {
	if c.URL != "" {
		if err := validateRedisURL(c.URL); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
	} else if err := c.validateComponents(environment); err != nil {
		return err
	}

	if c.MinIdleConns > c.PoolSize {
		return fmt.Errorf("min_idle_conns (%d) cannot be greater than pool_size (%d)", c.MinIdleConns, c.PoolSize)
	}

	for name, value := range map[string]string{
		"redis key prefix":           c.KeyPrefix,
		"redis queue key":            c.QueueKey,
		"redis invalidation channel": c.InvalidationChannel,
	} {
		if err := validateNoWhitespace(value, name); err != nil {
			return err
		}
	}

	return nil
}

func (c *RedisConfig) validateComponents(environment string) error {
	if err := validateHost(c.Host, "redis"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "redis"); err != nil {
		return err
	}

	if environment != EnvironmentProduction {
		return nil
	}
	if c.Password == "" {
		return fmt.Errorf("redis password is required in production environment")
	}
	if err := validatePasswordStrength(c.Password, "redis", environment); err != nil {
		return err
	}
	if !c.TLSEnabled {
		return fmt.Errorf("redis TLS must be enabled in production environment")
	}
	return nil
}

// IsConfigured returns true if Redis has all required configuration to connect.
func (c *RedisConfig) IsConfigured() bool {
	if c.URL != "" {
		return true
	}
	return c.Host != "" && c.Port != ""
}

// validateRedisURL validates Redis connection URL format
func validateRedisURL(redisURL string) error {
	parsed, err := parseAndValidateURL(redisURL, []string{"redis", "rediss"})
	if err != nil {
		return err
	}

	// Database number in path is optional and defaults to 0
	dbStr := strings.TrimPrefix(parsed.Path, "/")
	if dbStr == "" {
		return nil
	}
	dbNum, err := strconv.Atoi(dbStr)
	if err != nil {
		return fmt.Errorf("database number must be a valid integer: %s", dbStr)
	}
	if dbNum < 0 || dbNum > 15 {
		return fmt.Errorf("database number must be between 0 and 15, got %d", dbNum)
	}

	return nil
}
