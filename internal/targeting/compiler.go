package targeting

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Document keys as stored in page and block settings.
const (
	keyCountries        = "countries"
	keyExcludeCountries = "exclude_countries"
	keyDevices          = "devices"
	keyBrowsers         = "browsers"
	keyOperatingSystems = "operating_systems"
	keyLanguages        = "languages"
	keySchedule         = "schedule"
	keyFallbackURL      = "fallback_url"

	keyStart     = "start"
	keyEnd       = "end"
	keyTimeStart = "time_start"
	keyTimeEnd   = "time_end"
	keyDays      = "days"
)

// ParseRuleSet converts a stored rule document into a typed RuleSet.
//
// Parsing never fails. Each key is decoded on its own and a key that is
// missing or malformed maps to "no constraint", so one bad field cannot
// disable the rest of the document. A document that is not a JSON object
// yields an empty RuleSet.
func ParseRuleSet(raw []byte) RuleSet {
	fields := objectFields(raw)
	if fields == nil {
		return RuleSet{}
	}

	return RuleSet{
		Countries:        upperCodes(stringList(fields[keyCountries])),
		ExcludeCountries: upperCodes(stringList(fields[keyExcludeCountries])),
		Devices:          deviceList(fields[keyDevices]),
		Browsers:         trimmed(stringList(fields[keyBrowsers])),
		OperatingSystems: trimmed(stringList(fields[keyOperatingSystems])),
		Languages:        languageCodes(stringList(fields[keyLanguages])),
		Schedule:         parseSchedule(fields[keySchedule]),
		FallbackTarget:   stringValue(fields[keyFallbackURL]),
	}
}

// parseSchedule returns nil when the schedule is absent or constrains nothing.
func parseSchedule(raw json.RawMessage) *Schedule {
	fields := objectFields(raw)
	if fields == nil {
		return nil
	}

	s := Schedule{
		Start:     dateValue(fields[keyStart]),
		End:       dateValue(fields[keyEnd]),
		TimeStart: clockValue(fields[keyTimeStart]),
		TimeEnd:   clockValue(fields[keyTimeEnd]),
		Days:      dayList(fields[keyDays]),
	}
	if s.IsZero() {
		return nil
	}
	return &s
}

// MarshalJSON renders the RuleSet in its stored document shape.
func (r RuleSet) MarshalJSON() ([]byte, error) {
	doc := map[string]any{}
	putList(doc, keyCountries, r.Countries)
	putList(doc, keyExcludeCountries, r.ExcludeCountries)
	putList(doc, keyDevices, r.Devices)
	putList(doc, keyBrowsers, r.Browsers)
	putList(doc, keyOperatingSystems, r.OperatingSystems)
	putList(doc, keyLanguages, r.Languages)
	if r.Schedule != nil && !r.Schedule.IsZero() {
		doc[keySchedule] = r.Schedule
	}
	if r.FallbackTarget != "" {
		doc[keyFallbackURL] = r.FallbackTarget
	}
	return json.Marshal(doc)
}

// UnmarshalJSON parses leniently, see ParseRuleSet.
func (r *RuleSet) UnmarshalJSON(b []byte) error {
	*r = ParseRuleSet(b)
	return nil
}

// MarshalJSON renders the schedule in its stored document shape.
func (s Schedule) MarshalJSON() ([]byte, error) {
	doc := map[string]any{}
	if s.Start != nil {
		doc[keyStart] = s.Start
	}
	if s.End != nil {
		doc[keyEnd] = s.End
	}
	if s.TimeStart != nil {
		doc[keyTimeStart] = s.TimeStart
	}
	if s.TimeEnd != nil {
		doc[keyTimeEnd] = s.TimeEnd
	}
	if len(s.Days) > 0 {
		days := make([]int, len(s.Days))
		for i, d := range s.Days {
			days[i] = int(d)
		}
		doc[keyDays] = days
	}
	return json.Marshal(doc)
}

// UnmarshalJSON parses leniently. An unusable schedule becomes the zero Schedule.
func (s *Schedule) UnmarshalJSON(b []byte) error {
	if parsed := parseSchedule(b); parsed != nil {
		*s = *parsed
		return nil
	}
	*s = Schedule{}
	return nil
}

func putList[T any](doc map[string]any, key string, list []T) {
	if len(list) > 0 {
		doc[key] = list
	}
}

// --- lenient decoders ---

func objectFields(raw []byte) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

// stringList accepts an array of strings, keeping only the string elements of
// a mixed array, or a single string.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var mixed []any
	if err := json.Unmarshal(raw, &mixed); err == nil {
		out := make([]string, 0, len(mixed))
		for _, v := range mixed {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}

	if s := stringValue(raw); s != "" {
		return []string{s}
	}
	return nil
}

func stringValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func dateValue(raw json.RawMessage) *Date {
	s := stringValue(raw)
	if s == "" {
		return nil
	}
	d, err := ParseDate(s)
	if err != nil {
		return nil
	}
	return &d
}

func clockValue(raw json.RawMessage) *ClockTime {
	s := stringValue(raw)
	if s == "" {
		return nil
	}
	c, err := ParseClockTime(s)
	if err != nil {
		return nil
	}
	return &c
}

// dayList accepts numbers or numeric strings and drops anything outside 0..6.
func dayList(raw json.RawMessage) []time.Weekday {
	if len(raw) == 0 {
		return nil
	}
	var mixed []any
	if err := json.Unmarshal(raw, &mixed); err != nil {
		return nil
	}

	days := make([]time.Weekday, 0, len(mixed))
	for _, v := range mixed {
		n := -1
		switch val := v.(type) {
		case float64:
			if val == float64(int(val)) {
				n = int(val)
			}
		case string:
			if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				n = parsed
			}
		}
		if n < 0 || n > 6 {
			continue
		}
		if d := time.Weekday(n); !slices.Contains(days, d) {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		return nil
	}
	return days
}

func deviceList(raw json.RawMessage) []DeviceType {
	names := stringList(raw)
	if len(names) == 0 {
		return nil
	}
	devices := make([]DeviceType, 0, len(names))
	for _, name := range names {
		if d, ok := ParseDeviceType(name); ok && !slices.Contains(devices, d) {
			devices = append(devices, d)
		}
	}
	if len(devices) == 0 {
		return nil
	}
	return devices
}

func upperCodes(codes []string) []string {
	return normalise(codes, strings.ToUpper)
}

func languageCodes(codes []string) []string {
	return normalise(codes, PrimarySubtag)
}

func trimmed(values []string) []string {
	return normalise(values, func(s string) string { return s })
}

// normalise trims, transforms, drops empties and de-duplicates while keeping order.
func normalise(values []string, fn func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = fn(strings.TrimSpace(v))
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// PrimarySubtag returns the lower-cased primary language subtag ("en-GB" -> "en").
func PrimarySubtag(tag string) string {
	primary, _, _ := strings.Cut(strings.TrimSpace(tag), "-")
	return strings.ToLower(strings.TrimSpace(primary))
}
