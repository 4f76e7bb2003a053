package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the storage layout for dates. It sorts lexicographically
// in calendar order.
const DateLayout = "2006-01-02"

// DisplayLayout is how dates are shown to operators and managers.
const DisplayLayout = "02.01.2006"

var parseLayouts = []string{
	DateLayout,
	DisplayLayout,
	"02-01-2006",
	"02/01/2006",
	"2006.01.02",
}

// ParseDate parses a calendar date written in any accepted layout and
// returns midnight of that day in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// DateKey returns the storage key for the calendar day of t.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// NormalizeDateKey converts any accepted date string into a storage key.
func NormalizeDateKey(s string, loc *time.Location) (string, error) {
	t, err := ParseDate(s, loc)
	if err != nil {
		return "", err
	}
	return DateKey(t), nil
}

// DayBounds returns the first and last second of the calendar day of t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1).Add(-time.Second)
}

// DateRange returns every date key from start to end inclusive, ascending.
// It returns nil when start is after end.
func DateRange(start, end time.Time) []string {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, start.Location())

	var keys []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		keys = append(keys, DateKey(d))
	}
	return keys
}
