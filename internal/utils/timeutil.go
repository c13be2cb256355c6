package utils

import (
	"fmt"
	"strings"
	"time"
)

// LineTimeLayout is the timestamp layout inside log lines, always UTC
// with second resolution: "2026-01-05 12:00:00 UTC".
const LineTimeLayout = "2006-01-02 15:04:05"

// FormatUTC renders t in the canonical log-line form.
func FormatUTC(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(LineTimeLayout) + " UTC"
}

// acceptedLayouts are tried in order by ParseTimestamp. Date-only and
// minute-resolution forms are allowed on input; output is always
// second-resolution UTC.
var acceptedLayouts = []string{
	"2006-01-02 15:04:05 UTC",
	"2006-01-02 15:04 UTC",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses the timestamp forms the tool surface accepts:
// ISO-8601 with Z or +00:00, and "YYYY-MM-DD [HH:MM[:SS]] [UTC]".
// The result is normalized to UTC at second resolution.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseTimeBound parses a query time bound. Date-only values expand to
// the start of day, or to 23:59:59.999999 when end is true, so inclusive
// day ranges behave as users expect.
func ParseTimeBound(s string, end bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		t = t.UTC()
		if end {
			return t.Add(24*time.Hour - time.Microsecond), nil
		}
		return t, nil
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// DaysSince returns fractional days elapsed between then and now,
// clamped at zero.
func DaysSince(then, now time.Time) float64 {
	if then.IsZero() || now.Before(then) {
		return 0
	}
	return now.Sub(then).Hours() / 24
}
