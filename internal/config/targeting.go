package config

import (
	"fmt"
	"time"

	// Embedded zone database so TIMEZONE resolves on minimal images.
	_ "time/tzdata"
)

// TargetingConfig tunes request context extraction for the data plane.
type TargetingConfig struct {
	// Timezone is the IANA zone in which schedule dates and wall-clock windows are read.
	Timezone string `envconfig:"TIMEZONE" default:"UTC"`

	// UAMemoSize is the number of distinct user agents whose classification is kept.
	// Zero disables the memo.
	UAMemoSize int           `envconfig:"UA_MEMO_SIZE" default:"4096" validate:"min=0"`
	UAMemoTTL  time.Duration `envconfig:"UA_MEMO_TTL" default:"1h" validate:"gt=0"`

	// ExtraCountryHeaders are appended, in order, to the built-in CDN header chain.
	ExtraCountryHeaders []string `envconfig:"EXTRA_COUNTRY_HEADERS"`
}

// Validate checks TargetingConfig fields for correctness.
func (c *TargetingConfig) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	for _, h := range c.ExtraCountryHeaders {
		if err := validateNoWhitespace(h, "extra country header"); err != nil {
			return err
		}
	}
	return nil
}

// Location resolves Timezone.
func (c *TargetingConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid targeting timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
