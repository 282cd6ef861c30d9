package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DatabaseConfig contains PostgreSQL connection settings for the pages/blocks store.
type DatabaseConfig struct {
	// Connection can be specified as a URL or individual components
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`

	// TLS
	SSLMode string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// Connection Pool
	MaxConns        int           `envconfig:"MAX_CONNS" default:"25" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`

	// MigrateOnStart applies the embedded goose migrations when the control plane boots.
	MigrateOnStart bool `envconfig:"MIGRATE_ON_START" default:"true"`
}

// ConnectionString builds a PostgreSQL connection string.
// If URL is provided, it returns that. Otherwise, it constructs from components.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Validate checks if the database configuration is valid.
func (c *DatabaseConfig) Validate(environment string) error {
	var err error
	if c.URL != "" {
		err = validatePostgresURL(c.URL)
		if err != nil {
			err = fmt.Errorf("invalid database URL: %w", err)
		}
	} else {
		err = c.validateComponents(environment)
	}
	if err != nil {
		return err
	}

	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}

	return nil
}

func (c *DatabaseConfig) validateComponents(environment string) error {
	if err := validateHost(c.Host, "database"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "database"); err != nil {
		return err
	}
	if err := validateNoWhitespace(c.Name, "database name"); err != nil {
		return err
	}
	// PostgreSQL identifiers are limited to 63 bytes
	if len(c.Name) > 63 {
		return fmt.Errorf("database name cannot exceed 63 characters")
	}
	if err := validateNoWhitespace(c.User, "database user"); err != nil {
		return err
	}

	if environment != EnvironmentProduction {
		return nil
	}
	if c.Password == "" {
		return fmt.Errorf("database password is required in production environment")
	}
	if err := validatePasswordStrength(c.Password, "database", environment); err != nil {
		return err
	}
	if !isSecureSSLMode(c.SSLMode) {
		return fmt.Errorf("database SSL mode must be 'require', 'verify-ca', or 'verify-full' in production environment")
	}
	return nil
}

// IsConfigured returns true if database has all required configuration to connect.
func (c *DatabaseConfig) IsConfigured() bool {
	if c.URL != "" {
		return true
	}
	return c.Host != "" && c.Port != "" && c.Name != "" && c.User != ""
}

// validatePostgresURL validates PostgreSQL connection URL format
func validatePostgresURL(dbURL string) error {
	parsed, err := parseAndValidateURL(dbURL, []string{"postgres", "postgresql"})
	if err != nil {
		return err
	}

	if parsed.User == nil || parsed.User.Username() == "" {
		return fmt.Errorf("user is required in URL")
	}

	if strings.TrimPrefix(parsed.Path, "/") == "" {
		return fmt.Errorf("database name is required in URL path")
	}

	return nil
}
