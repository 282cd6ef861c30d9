package targeting

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Date is a civil calendar date with no time zone attached.
// It is interpreted in the location of the instant it is compared against.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses a YYYY-MM-DD string. A longer timestamp is accepted and
// truncated to its date part.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// StartIn returns midnight at the start of the date in loc.
func (d Date) StartIn(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ClockTime is a wall-clock time of day in minutes since midnight.
type ClockTime int

// ParseClockTime parses HH:MM (seconds, if present, are ignored).
func ParseClockTime(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	hh, rest, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	mm, _, _ := strings.Cut(rest, ":")

	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime(h*60 + m), nil
}

// ClockOf returns the wall-clock time of t, truncated to the minute.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// String formats the time as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalText implements encoding.TextMarshaler.
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Schedule is an optional date, time-of-day and day-of-week window.
// A nil field places no constraint on its dimension.
type Schedule struct {
	Start     *Date
	End       *Date
	TimeStart *ClockTime
	TimeEnd   *ClockTime

	// Days uses 0=Sunday..6=Saturday, matching time.Weekday.
	Days []time.Weekday
}

// IsZero reports whether the schedule constrains nothing.
func (s Schedule) IsZero() bool {
	return s.Start == nil && s.End == nil && s.TimeStart == nil && s.TimeEnd == nil && len(s.Days) == 0
}

// InDateRange checks the start and end dates. The end date is inclusive through
// the last instant of that day, so the first failing instant is midnight of the next day.
func (s Schedule) InDateRange(now time.Time) bool {
	loc := now.Location()
	if s.Start != nil && now.Before(s.Start.StartIn(loc)) {
		return false
	}
	if s.End != nil && !now.Before(s.End.StartIn(loc).AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// InTimeWindow checks the time-of-day window. The window is only active when
// both ends are set; a window whose start is after its end never matches.
func (s Schedule) InTimeWindow(now time.Time) bool {
	if s.TimeStart == nil || s.TimeEnd == nil {
		return true
	}
	current := ClockOf(now)
	return current >= *s.TimeStart && current <= *s.TimeEnd
}

// OnAllowedDay checks the day-of-week list.
func (s Schedule) OnAllowedDay(now time.Time) bool {
	if len(s.Days) == 0 {
		return true
	}
	return slices.Contains(s.Days, now.Weekday())
}

// Contains AND-combines the date range, time window and day-of-week checks.
func (s Schedule) Contains(now time.Time) bool {
	return s.InDateRange(now) && s.InTimeWindow(now) && s.OnAllowedDay(now)
}

// ScheduleCategory evaluates the RuleSet's nested schedule.
type ScheduleCategory struct{}

// Name implements Category.
func (c ScheduleCategory) Name() string { return "schedule" }

// Check implements Category.
func (c ScheduleCategory) Check(rules *RuleSet, req *RequestContext) (bool, ReasonCode) {
	if rules.Schedule == nil {
		return true, ""
	}

	if !rules.Schedule.Contains(req.Now) {
		return false, ReasonScheduleInactive
	}
	return true, ""
}
