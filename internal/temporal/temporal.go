// Package temporal provides pure time utilities for the planning engine:
// parsing of time expressions into epoch milliseconds, business-hour checks,
// and slack/feasibility computations over schedules.
//
// All functions are stateless. Times are absolute epoch milliseconds unless
// a time.Time is explicitly part of the signature.
package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/planforge/planforge/internal/types"
)

// Millisecond counts for common units.
const (
	MillisPerSecond int64 = 1000
	MillisPerMinute int64 = 60 * MillisPerSecond
	MillisPerHour   int64 = 60 * MillisPerMinute
	MillisPerDay    int64 = 24 * MillisPerHour
)

// Business hours are Monday through Friday, 09:00 to 17:00 local time.
const (
	businessDayStartHour = 9
	businessDayEndHour   = 17
)

var relativeExpr = regexp.MustCompile(`^in\s+(\d+)\s*(ms|milliseconds?|s|seconds?|m|minutes?|h|hours?|d|days?)$`)

// ParseExpression converts a time expression to absolute epoch milliseconds.
// Supported forms:
//
//	"now"                     the reference instant itself
//	"in 5 minutes"            relative offsets (ms, seconds, minutes, hours, days)
//	"tomorrow"                next day at 09:00 local time
//	"tomorrow 14:30"          next day at the given local time
//	"15:04"                   next occurrence of that local time
//	"2026-01-02T15:04:05Z"    RFC 3339
//	"1735689600000"           epoch milliseconds verbatim
//
// Relative forms are resolved against now, which must itself be epoch
// milliseconds.
func ParseExpression(expr string, now int64) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(expr))
	if s == "" {
		return 0, types.NewError(types.TIME_PARSE_FAILED, "empty time expression")
	}

	if s == "now" {
		return now, nil
	}

	if m := relativeExpr.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, types.WrapError(types.TIME_PARSE_FAILED, fmt.Sprintf("bad offset in %q", expr), err)
		}
		return now + n*unitMillis(m[2]), nil
	}

	if strings.HasPrefix(s, "tomorrow") {
		return parseTomorrow(s, now)
	}

	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(expr)); err == nil {
		return t.UnixMilli(), nil
	}

	if hhmm, err := parseClockTime(s, now); err == nil {
		return hhmm, nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms >= 0 {
		return ms, nil
	}

	return 0, types.NewError(types.TIME_PARSE_FAILED, fmt.Sprintf("unrecognized time expression %q", expr))
}

func unitMillis(unit string) int64 {
	switch {
	case strings.HasPrefix(unit, "ms") || strings.HasPrefix(unit, "milli"):
		return 1
	case strings.HasPrefix(unit, "s"):
		return MillisPerSecond
	case strings.HasPrefix(unit, "m"):
		return MillisPerMinute
	case strings.HasPrefix(unit, "h"):
		return MillisPerHour
	default:
		return MillisPerDay
	}
}

func parseTomorrow(s string, now int64) (int64, error) {
	day := time.UnixMilli(now).Local().AddDate(0, 0, 1)
	hour, minute := businessDayStartHour, 0

	rest := strings.TrimSpace(strings.TrimPrefix(s, "tomorrow"))
	if rest != "" {
		h, m, err := splitClock(rest)
		if err != nil {
			return 0, err
		}
		hour, minute = h, m
	}

	t := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.Local)
	return t.UnixMilli(), nil
}

// parseClockTime resolves "15:04" to the next occurrence of that local time
// at or after now.
func parseClockTime(s string, now int64) (int64, error) {
	hour, minute, err := splitClock(s)
	if err != nil {
		return 0, err
	}
	ref := time.UnixMilli(now).Local()
	t := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, time.Local)
	if t.UnixMilli() < now {
		t = t.AddDate(0, 0, 1)
	}
	return t.UnixMilli(), nil
}

func splitClock(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, types.NewError(types.TIME_PARSE_FAILED, fmt.Sprintf("not a clock time: %q", s))
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, types.NewError(types.TIME_PARSE_FAILED, fmt.Sprintf("bad hour in %q", s))
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, types.NewError(types.TIME_PARSE_FAILED, fmt.Sprintf("bad minute in %q", s))
	}
	return hour, minute, nil
}

// IsBusinessHours reports whether ts falls within business hours
// (Mon-Fri 09:00-17:00) in the given location. A nil location means local
// time.
func IsBusinessHours(ts int64, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	t := time.UnixMilli(ts).In(loc)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return t.Hour() >= businessDayStartHour && t.Hour() < businessDayEndHour
}

// NextBusinessHour returns the earliest instant at or after ts that falls
// within business hours in the given location.
func NextBusinessHour(ts int64, loc *time.Location) int64 {
	if loc == nil {
		loc = time.Local
	}
	t := time.UnixMilli(ts).In(loc)
	for {
		switch {
		case t.Weekday() == time.Saturday || t.Weekday() == time.Sunday || t.Hour() >= businessDayEndHour:
			next := t.AddDate(0, 0, 1)
			t = time.Date(next.Year(), next.Month(), next.Day(), businessDayStartHour, 0, 0, 0, loc)
		case t.Hour() < businessDayStartHour:
			t = time.Date(t.Year(), t.Month(), t.Day(), businessDayStartHour, 0, 0, 0, loc)
		default:
			return t.UnixMilli()
		}
	}
}

// Slack returns how far endTime can slip without passing latestFinish.
// Negative slack means the finish time already violates the bound.
func Slack(latestFinish, endTime int64) int64 {
	return latestFinish - endTime
}

// Feasible reports whether a schedule ending at endTime meets the deadline.
// A zero deadline means no deadline is declared.
func Feasible(endTime, deadline int64) bool {
	if deadline == 0 {
		return true
	}
	return endTime <= deadline
}

// MaxMillis returns the larger of two epoch-millisecond values.
func MaxMillis(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
