package query

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/utils"
)

// nlParser handles natural-language bounds ("yesterday", "2 days ago",
// "last friday"). Built once; the rule sets are immutable.
var nlParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// TimeRange is an inclusive [Start, End] filter. Nil ends are open.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// ParseTimeRange resolves the three range forms a query accepts:
// symbolic windows (last_7d, last_30d, today), explicit bounds in any
// accepted timestamp layout, and natural-language text.
func ParseTimeRange(symbolic, start, end string, now time.Time) (TimeRange, error) {
	var tr TimeRange

	switch strings.ToLower(strings.TrimSpace(symbolic)) {
	case "":
	case "last_7d":
		s := now.AddDate(0, 0, -7)
		tr.Start = &s
		return tr, nil
	case "last_30d":
		s := now.AddDate(0, 0, -30)
		tr.Start = &s
		return tr, nil
	case "today":
		s := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		e := s.Add(24*time.Hour - time.Microsecond)
		tr.Start = &s
		tr.End = &e
		return tr, nil
	default:
		t, err := parseBound(symbolic, false, now)
		if err != nil {
			return tr, err
		}
		tr.Start = &t
		return tr, nil
	}

	if start != "" {
		t, err := parseBound(start, false, now)
		if err != nil {
			return tr, err
		}
		tr.Start = &t
	}
	if end != "" {
		t, err := parseBound(end, true, now)
		if err != nil {
			return tr, err
		}
		tr.End = &t
	}
	if tr.Start != nil && tr.End != nil && tr.End.Before(*tr.Start) {
		return tr, fault.New(fault.CodeMessageInvalid, "time range ends before it starts").
			WithDetail("start", tr.Start.Format(time.RFC3339)).
			WithDetail("end", tr.End.Format(time.RFC3339))
	}
	return tr, nil
}

// parseBound tries the exact layouts first, then natural language.
func parseBound(s string, end bool, now time.Time) (time.Time, error) {
	if t, err := utils.ParseTimeBound(s, end); err == nil {
		return t, nil
	}
	if r, err := nlParser.Parse(s, now); err == nil && r != nil {
		return r.Time.UTC().Truncate(time.Second), nil
	}
	return time.Time{}, fault.New(fault.CodeMessageInvalid, "unrecognized time bound %q", s).
		WithSuggestion(`use ISO-8601, "YYYY-MM-DD [HH:MM[:SS]] UTC", last_7d/last_30d/today, or phrases like "2 days ago"`)
}

// Contains reports whether t falls inside the range.
func (tr TimeRange) Contains(t time.Time) bool {
	if tr.Start != nil && t.Before(*tr.Start) {
		return false
	}
	if tr.End != nil && t.After(*tr.End) {
		return false
	}
	return true
}
