package targeting

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// saturday is 2024-06-15 10:30 UTC.
var saturday = time.Date(2024, time.June, 15, 10, 30, 0, 0, time.UTC)

// monday is 2024-06-17 10:30 UTC.
var monday = time.Date(2024, time.June, 17, 10, 30, 0, 0, time.UTC)

var mondayEvening = time.Date(2024, time.June, 17, 22, 0, 0, 0, time.UTC)

var (
	nineAM = ClockTime(9 * 60)
	fivePM = ClockTime(17 * 60)
)

func ptrDate(y int, m time.Month, d int) *Date {
	return &Date{Year: y, Month: m, Day: d}
}

func TestEngine_EvaluatePage(t *testing.T) {
	t.Parallel()

	desktopGB := RequestContext{
		Country:         "GB",
		Device:          DeviceDesktop,
		Browser:         "Chrome",
		OperatingSystem: "Windows 10",
		Languages:       []string{"en"},
		Now:             monday,
	}

	tests := []struct {
		name  string
		rules RuleSet
		req   RequestContext
		want  Decision
	}{
		// --- Scenarios ---
		{
			name:  "Should deny a country outside the inclusion list",
			rules: RuleSet{Countries: []string{"GB"}},
			req:   RequestContext{Country: "US", Device: DeviceDesktop, Now: monday},
			want:  Deny(ReasonCountryNotAllowed),
		},
		{
			name:  "Should allow an unknown country against an inclusion list",
			rules: RuleSet{Countries: []string{"GB"}},
			req:   RequestContext{Device: DeviceDesktop, Now: monday},
			want:  Allow(),
		},
		{
			name:  "Should deny a desktop when only mobile is allowed",
			rules: RuleSet{Devices: []DeviceType{DeviceMobile}},
			req:   desktopGB,
			want:  Deny(ReasonDeviceNotAllowed),
		},
		{
			name:  "Should allow when Accept-Language is absent",
			rules: RuleSet{Languages: []string{"en", "es"}},
			req:   RequestContext{Device: DeviceDesktop, Now: monday},
			want:  Allow(),
		},

		// --- Exclusions ---
		{
			name:  "Should prefer exclusion when a country is in both lists",
			rules: RuleSet{Countries: []string{"GB"}, ExcludeCountries: []string{"GB"}},
			req:   desktopGB,
			want:  Deny(ReasonCountryExcluded),
		},
		{
			name:  "Should ignore exclusions when the country is unknown",
			rules: RuleSet{ExcludeCountries: []string{"RU"}},
			req:   RequestContext{Device: DeviceDesktop, Now: monday},
			want:  Allow(),
		},
		{
			name:  "Should match countries case-insensitively",
			rules: RuleSet{Countries: []string{"GB"}},
			req:   RequestContext{Country: "gb", Device: DeviceDesktop, Now: monday},
			want:  Allow(),
		},

		// --- Lenient facts ---
		{
			name:  "Should allow an unknown browser",
			rules: RuleSet{Browsers: []string{"Safari"}},
			req:   RequestContext{Device: DeviceDesktop, Now: monday},
			want:  Allow(),
		},
		{
			name:  "Should deny a known browser outside the list",
			rules: RuleSet{Browsers: []string{"Safari"}},
			req:   desktopGB,
			want:  Deny(ReasonBrowserNotAllowed),
		},
		{
			name:  "Should deny a known OS outside the list",
			rules: RuleSet{OperatingSystems: []string{"iOS", "Android"}},
			req:   desktopGB,
			want:  Deny(ReasonOSNotAllowed),
		},
		{
			name:  "Should deny when no accepted language intersects",
			rules: RuleSet{Languages: []string{"fr"}},
			req:   desktopGB,
			want:  Deny(ReasonLanguageNotAllowed),
		},
		{
			name:  "Should allow when any accepted language intersects",
			rules: RuleSet{Languages: []string{"DE", "en"}},
			req:   RequestContext{Device: DeviceDesktop, Languages: []string{"fr", "en"}, Now: monday},
			want:  Allow(),
		},
		{
			name:  "Should allow a request without Accept-Language",
			rules: RuleSet{Languages: []string{"en"}},
			req:   RequestContext{Device: DeviceDesktop, Now: monday},
			want:  Allow(),
		},
		{
			name:  "Should deny a header that names no language",
			rules: RuleSet{Languages: []string{"en"}},
			req:   RequestContext{Device: DeviceDesktop, LanguagesPresent: true, Now: monday},
			want:  Deny(ReasonLanguageNotAllowed),
		},

		// --- Ordering ---
		{
			name:  "Should report the country reason when country and device both fail",
			rules: RuleSet{Countries: []string{"US"}, Devices: []DeviceType{DeviceMobile}},
			req:   desktopGB,
			want:  Deny(ReasonCountryNotAllowed),
		},
		{
			name:  "Should allow when every category passes",
			rules: RuleSet{Countries: []string{"GB"}, Devices: []DeviceType{DeviceDesktop}, Browsers: []string{"chrome"}, Languages: []string{"en"}},
			req:   desktopGB,
			want:  Allow(),
		},

		// --- Schedule ---
		{
			name:  "Should deny before the schedule start date",
			rules: RuleSet{Schedule: &Schedule{Start: ptrDate(2024, time.July, 1)}},
			req:   desktopGB,
			want:  Deny(ReasonScheduleInactive),
		},
		{
			name:  "Should deny a weekday-only page on a saturday",
			rules: RuleSet{Schedule: &Schedule{Days: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}}},
			req:   RequestContext{Device: DeviceDesktop, Now: saturday},
			want:  Deny(ReasonScheduleInactive),
		},
		{
			name:  "Should allow a weekday-only page on a monday",
			rules: RuleSet{Schedule: &Schedule{Days: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}}},
			req:   desktopGB,
			want:  Allow(),
		},
		{
			name:  "Should deny a page outside its time window",
			rules: RuleSet{Schedule: &Schedule{TimeStart: &nineAM, TimeEnd: &fivePM}},
			req:   RequestContext{Device: DeviceDesktop, Now: mondayEvening},
			want:  Deny(ReasonScheduleInactive),
		},
		{
			name:  "Should allow a page inside its time window",
			rules: RuleSet{Schedule: &Schedule{TimeStart: &nineAM, TimeEnd: &fivePM}},
			req:   desktopGB,
			want:  Allow(),
		},
	}

	engine := New(slog.New(slog.DiscardHandler))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			got := engine.EvaluatePage(tt.rules, tt.req)

			// Assert
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_EvaluatePage_FallbackTarget(t *testing.T) {
	t.Parallel()

	engine := New(nil)
	rules := RuleSet{
		Countries:      []string{"GB"},
		FallbackTarget: "https://example.com/unavailable",
	}

	t.Run("Should carry the fallback target on deny", func(t *testing.T) {
		got := engine.EvaluatePage(rules, RequestContext{Country: "US", Now: monday})

		assert.False(t, got.Allowed)
		assert.Equal(t, "https://example.com/unavailable", got.FallbackTarget)
	})

	t.Run("Should omit the fallback target on allow", func(t *testing.T) {
		got := engine.EvaluatePage(rules, RequestContext{Country: "GB", Now: monday})

		assert.True(t, got.Allowed)
		assert.Empty(t, got.FallbackTarget)
	})

	t.Run("Should treat a fallback-only rule set as empty", func(t *testing.T) {
		got := engine.EvaluatePage(RuleSet{FallbackTarget: "https://example.com"}, RequestContext{Now: monday})

		assert.Equal(t, Allow(), got)
	})
}

func TestEngine_ShouldDisplay(t *testing.T) {
	t.Parallel()

	req := RequestContext{Country: "GB", Device: DeviceMobile, Now: saturday}

	tests := []struct {
		name  string
		block Block
		want  Decision
	}{
		{
			name:  "Should hide a disabled block before consulting conditions",
			block: Block{ID: 1, Enabled: false},
			want:  Deny(ReasonBlockDisabled),
		},
		{
			name:  "Should hide a disabled block even when its conditions would pass",
			block: Block{ID: 1, Enabled: false, Conditions: RuleSet{Countries: []string{"GB"}}},
			want:  Deny(ReasonBlockDisabled),
		},
		{
			name:  "Should show an enabled block with no conditions",
			block: Block{ID: 2, Enabled: true},
			want:  Allow(),
		},
		{
			name:  "Should hide a block before its start date",
			block: Block{ID: 3, Enabled: true, StartDate: ptrDate(2024, time.June, 16)},
			want:  Deny(ReasonBlockOutOfRange),
		},
		{
			name:  "Should show a block on its end date",
			block: Block{ID: 4, Enabled: true, EndDate: ptrDate(2024, time.June, 15)},
			want:  Allow(),
		},
		{
			name:  "Should hide a block after its end date",
			block: Block{ID: 5, Enabled: true, EndDate: ptrDate(2024, time.June, 14)},
			want:  Deny(ReasonBlockOutOfRange),
		},
		{
			name: "Should gate on block dates before the nested schedule",
			block: Block{
				ID: 6, Enabled: true, EndDate: ptrDate(2024, time.June, 1),
				Conditions: RuleSet{Schedule: &Schedule{Days: []time.Weekday{time.Monday}}},
			},
			want: Deny(ReasonBlockOutOfRange),
		},
		{
			name: "Should hide a weekday-only block on a Saturday",
			block: Block{
				ID: 7, Enabled: true,
				Conditions: RuleSet{Schedule: &Schedule{Days: []time.Weekday{1, 2, 3, 4, 5}}},
			},
			want: Deny(ReasonScheduleInactive),
		},
		{
			name: "Should ignore exclude_countries at block level",
			block: Block{
				ID: 8, Enabled: true,
				Conditions: RuleSet{ExcludeCountries: []string{"GB"}},
			},
			want: Allow(),
		},
		{
			name: "Should apply device conditions",
			block: Block{
				ID: 9, Enabled: true,
				Conditions: RuleSet{Devices: []DeviceType{DeviceDesktop, DeviceTablet}},
			},
			want: Deny(ReasonDeviceNotAllowed),
		},
	}

	engine := New(nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := engine.ShouldDisplay(tt.block, req)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_VisibleBlocks(t *testing.T) {
	t.Parallel()

	// Arrange
	blocks := []Block{
		{ID: 10, Enabled: true},
		{ID: 11, Enabled: false},
		{ID: 12, Enabled: true, Conditions: RuleSet{Countries: []string{"US"}}},
		{ID: 13, Enabled: true, Conditions: RuleSet{Countries: []string{"GB"}}},
	}
	req := RequestContext{Country: "GB", Device: DeviceDesktop, Now: monday}

	// Act
	visible := New(nil).VisibleBlocks(blocks, req)

	// Assert
	ids := make([]int64, len(visible))
	for i, b := range visible {
		ids[i] = b.ID
	}
	assert.Equal(t, []int64{10, 13}, ids, "order must be preserved")
}

func TestEngine_LogsDenials(t *testing.T) {
	t.Parallel()

	// 1. Thread-Safe Log Capture
	var logBuffer bytes.Buffer
	localLogger := slog.New(slog.NewTextHandler(&logBuffer, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// 2. Act
	got := New(localLogger).EvaluatePage(RuleSet{Devices: []DeviceType{DeviceTablet}}, RequestContext{Device: DeviceMobile})

	// 3. Assert
	assert.False(t, got.Allowed)
	assert.Contains(t, logBuffer.String(), "visibility denied")
	assert.Contains(t, logBuffer.String(), "category=device")
	assert.Contains(t, logBuffer.String(), "reason=device_not_allowed")
}

func TestEngine_DoesNotMutateRuleSet(t *testing.T) {
	t.Parallel()

	rules := RuleSet{Countries: []string{"GB", "US"}, Languages: []string{"en"}}
	before := RuleSet{Countries: []string{"GB", "US"}, Languages: []string{"en"}}

	_ = New(nil).EvaluatePage(rules, RequestContext{Country: "FR", Languages: []string{"fr"}})

	assert.Equal(t, before, rules)
}

func BenchmarkEngine_EvaluatePage(b *testing.B) {
	engine := New(slog.New(slog.DiscardHandler))
	rules := RuleSet{
		Countries:        []string{"GB", "US", "IE"},
		ExcludeCountries: []string{"RU"},
		Devices:          []DeviceType{DeviceMobile, DeviceDesktop},
		Browsers:         []string{"Chrome", "Safari"},
		Languages:        []string{"en", "es"},
		Schedule:         &Schedule{Start: ptrDate(2024, time.January, 1), End: ptrDate(2024, time.December, 31)},
	}
	req := RequestContext{Country: "GB", Device: DeviceDesktop, Browser: "Chrome", Languages: []string{"en"}, Now: monday}

	b.ResetTimer()
	for b.Loop() {
		engine.EvaluatePage(rules, req)
	}
}
