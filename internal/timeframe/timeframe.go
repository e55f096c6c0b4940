// Package timeframe provides calendar-day ranges shared by queries, alerts and
// reports. All days are UTC.
package timeframe

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// RangeLabel names a date range relative to "now".
type RangeLabel string

const (
	RangeLabelToday      RangeLabel = "today"
	RangeLabelYesterday  RangeLabel = "yesterday"
	RangeLabelLast7Days  RangeLabel = "last_7_days"
	RangeLabelLast30Days RangeLabel = "last_30_days"
	RangeLabelThisMonth  RangeLabel = "this_month"
	RangeLabelLastMonth  RangeLabel = "last_month"
)

// ComparisonPeriod names how far back an alert baseline is taken.
type ComparisonPeriod string

const (
	PreviousDay   ComparisonPeriod = "previous_day"
	PreviousWeek  ComparisonPeriod = "previous_week"
	PreviousMonth ComparisonPeriod = "previous_month"
)

// Range is an inclusive span of calendar days.
type Range struct {
	Start time.Time
	End   time.Time
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DateString formats t as a UTC calendar date.
func DateString(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// SingleDay returns the range covering only the day of t.
func SingleDay(t time.Time) Range {
	d := Day(t)
	return Range{Start: d, End: d}
}

// NewRange validates and normalizes a range.
func NewRange(start, end time.Time) (Range, error) {
	s, e := Day(start), Day(end)
	if e.Before(s) {
		return Range{}, fmt.Errorf("end date %s is before start date %s", DateString(e), DateString(s))
	}
	return Range{Start: s, End: e}, nil
}

// ParseDate parses a YYYY-MM-DD date, returning fallback for empty input.
func ParseDate(value string, fallback time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Day(fallback), nil
	}
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return t, nil
}

// ParseRange parses optional start/end dates. Missing values default to the
// last defaultDays days ending on the day of now.
func ParseRange(start, end string, now time.Time, defaultDays int) (Range, error) {
	if defaultDays < 1 {
		defaultDays = 1
	}
	endDay, err := ParseDate(end, now)
	if err != nil {
		return Range{}, err
	}
	startDay, err := ParseDate(start, endDay.AddDate(0, 0, -(defaultDays-1)))
	if err != nil {
		return Range{}, err
	}
	return NewRange(startDay, endDay)
}

// Named resolves a RangeLabel relative to now.
func Named(label RangeLabel, now time.Time) (Range, error) {
	today := Day(now)
	switch label {
	case RangeLabelToday:
		return Range{Start: today, End: today}, nil
	case RangeLabelYesterday:
		y := today.AddDate(0, 0, -1)
		return Range{Start: y, End: y}, nil
	case RangeLabelLast7Days:
		return Range{Start: today.AddDate(0, 0, -6), End: today}, nil
	case RangeLabelLast30Days:
		return Range{Start: today.AddDate(0, 0, -29), End: today}, nil
	case RangeLabelThisMonth:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Range{Start: first, End: today}, nil
	case RangeLabelLastMonth:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Range{Start: first.AddDate(0, -1, 0), End: first.AddDate(0, 0, -1)}, nil
	default:
		return Range{}, fmt.Errorf("unknown date range %q", label)
	}
}

// Shift moves r back by the comparison period.
func (r Range) Shift(period ComparisonPeriod) (Range, error) {
	switch period {
	case PreviousDay:
		return Range{Start: r.Start.AddDate(0, 0, -1), End: r.End.AddDate(0, 0, -1)}, nil
	case PreviousWeek:
		return Range{Start: r.Start.AddDate(0, 0, -7), End: r.End.AddDate(0, 0, -7)}, nil
	case PreviousMonth:
		return Range{Start: r.Start.AddDate(0, -1, 0), End: r.End.AddDate(0, -1, 0)}, nil
	default:
		return Range{}, fmt.Errorf("unknown comparison period %q", period)
	}
}

// From is the first instant of the range.
func (r Range) From() time.Time { return r.Start }

// Until is the exclusive upper bound: midnight after the last day.
func (r Range) Until() time.Time { return r.End.AddDate(0, 0, 1) }

func (r Range) StartDate() string { return DateString(r.Start) }

func (r Range) EndDate() string { return DateString(r.End) }

// Days returns the number of calendar days covered.
func (r Range) Days() int {
	return int(r.Until().Sub(r.Start).Hours()/24 + 0.5)
}

// Dates lists every day of the range as YYYY-MM-DD.
func (r Range) Dates() []string {
	var out []string
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		out = append(out, DateString(d))
	}
	return out
}
