// Package targeting provides the core logic for page- and block-level visibility.
// It implements a Strategy pattern where each rule category (country, device, browser,
// operating system, language, schedule) is a predicate evaluated against a request
// context, and a Profile decides which categories run and in which order.
package targeting

import (
	"strings"
	"time"
)

// Scope identifies the granularity an evaluation applies to.
type Scope string

const (
	// ScopePage is whole-page targeting.
	ScopePage Scope = "page"
	// ScopeBlock is a per-block display condition.
	ScopeBlock Scope = "block"
)

// DeviceType is the coarse device class derived from the user agent.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

// ParseDeviceType maps a free-form string to a known DeviceType.
// The second result is false for anything outside the enumeration.
func ParseDeviceType(s string) (DeviceType, bool) {
	switch DeviceType(strings.ToLower(strings.TrimSpace(s))) {
	case DeviceDesktop:
		return DeviceDesktop, true
	case DeviceMobile:
		return DeviceMobile, true
	case DeviceTablet:
		return DeviceTablet, true
	default:
		return "", false
	}
}

// RuleSet is the declarative document attached to a page ("targeting") or a block ("conditions").
// Every list is an opt-in restriction: an empty list means the category is unconstrained.
// The evaluator never mutates a RuleSet.
type RuleSet struct {
	// Countries is the ISO 3166-1 alpha-2 inclusion list (upper case).
	Countries []string

	// ExcludeCountries is checked before Countries. Only the page profile honours it.
	ExcludeCountries []string

	Devices          []DeviceType
	Browsers         []string
	OperatingSystems []string

	// Languages holds ISO 639-1 primary subtags (lower case).
	Languages []string

	// Schedule is the optional nested date/time/day window.
	Schedule *Schedule

	// FallbackTarget is the URL the caller redirects to when page targeting denies access.
	FallbackTarget string
}

// IsEmpty reports whether the RuleSet constrains nothing.
// FallbackTarget alone is not a constraint.
func (r RuleSet) IsEmpty() bool {
	return len(r.Countries) == 0 &&
		len(r.ExcludeCountries) == 0 &&
		len(r.Devices) == 0 &&
		len(r.Browsers) == 0 &&
		len(r.OperatingSystems) == 0 &&
		len(r.Languages) == 0 &&
		(r.Schedule == nil || r.Schedule.IsZero())
}

// RequestContext holds the normalized facts extracted from one inbound request.
// Empty strings mean "could not be determined".
type RequestContext struct {
	Country         string     `json:"country,omitempty"`
	Device          DeviceType `json:"device,omitempty"`
	Browser         string     `json:"browser,omitempty"`
	OperatingSystem string     `json:"operating_system,omitempty"`

	// Languages preserves first-occurrence order from Accept-Language.
	Languages []string `json:"languages,omitempty"`

	// LanguagesPresent is set when Accept-Language was sent, even if it named
	// no usable language ("*" or a bare weight). Only an absent header is
	// exempt from a language rule.
	LanguagesPresent bool `json:"languages_present,omitempty"`

	// Now is the evaluation instant, already converted to the schedule time zone.
	Now time.Time `json:"now"`
}

// Decision is the outcome consumed by the calling layer.
type Decision struct {
	Allowed        bool       `json:"allowed"`
	Reason         ReasonCode `json:"reason,omitempty"`
	FallbackTarget string     `json:"fallback_target,omitempty"`
}

// Allow returns an allowing Decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying Decision carrying the reason.
func Deny(reason ReasonCode) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Block is the subset of a page block that display conditions need.
type Block struct {
	ID      int64 `json:"id"`
	Enabled bool  `json:"enabled"`

	// StartDate and EndDate are the block's own date columns, evaluated with
	// date-range semantics only and independently of Conditions.Schedule.
	StartDate *Date `json:"start_date,omitempty"`
	EndDate   *Date `json:"end_date,omitempty"`

	Conditions RuleSet `json:"conditions"`
}

// PageRules is the compiled snapshot of a page's targeting and its ordered blocks.
// This is what the syncer writes to the L2 cache and the data plane keeps in L1.
type PageRules struct {
	PageID    int64   `json:"page_id"`
	Version   int64   `json:"version"`
	Targeting RuleSet `json:"targeting"`
	Blocks    []Block `json:"blocks"`
}
