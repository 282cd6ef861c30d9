package config

import (
	"encoding/hex"
	"fmt"
	"time"
)

// HTTPServerConfig is the listener and timeout block shared by both planes.
type HTTPServerConfig struct {
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"` // 512KB
}

func (c *HTTPServerConfig) validate(port, context string) error {
	if err := validatePort(port, context); err != nil {
		return err
	}
	return validateHost(c.Host, context)
}

// ControlPlaneConfig configures the rule authoring API.
type ControlPlaneConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	HTTPServerConfig

	// MaxBodyBytes caps the size of a submitted rule document.
	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"65536" validate:"min=1"`

	// Security
	APIKeyHash string `envconfig:"API_KEY_HASH"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Validate performs validation on the ControlPlaneConfig.
func (c *ControlPlaneConfig) Validate(environment string) error {
	if err := c.validate(c.Port, "control plane"); err != nil {
		return err
	}

	if c.APIKeyHash != "" {
		if err := validateSHA256Hash(c.APIKeyHash); err != nil {
			return fmt.Errorf("invalid API key hash: %w", err)
		}
	}

	if environment == EnvironmentProduction {
		if c.APIKeyHash == "" {
			return fmt.Errorf("API key hash is required in production environment")
		}
		if !c.TLSEnabled {
			return fmt.Errorf("TLS must be enabled in production environment")
		}
	}

	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return fmt.Errorf("TLS enabled but cert or key file not specified")
	}

	return nil
}

// DataPlaneConfig configures the evaluation API.
type DataPlaneConfig struct {
	Port string `envconfig:"PORT" default:"8081"`
	HTTPServerConfig

	// MaxBodyBytes caps POST /v1/evaluate payloads.
	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"65536" validate:"min=1"`

	// L2Timeout bounds a single Redis read on a cache miss.
	L2Timeout time.Duration `envconfig:"L2_TIMEOUT" default:"50ms" validate:"gt=0"`
}

// Validate performs validation on the DataPlaneConfig.
func (c *DataPlaneConfig) Validate() error {
	return c.validate(c.Port, "data plane")
}

// validateSHA256Hash checks if the hash is a valid SHA-256 hex string (64 hex characters)
func validateSHA256Hash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("SHA-256 hash must be 64 characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	return nil
}
