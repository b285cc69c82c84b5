// Package day handles the calendar-day keys (YYYY-MM-DD) that challenges are
// filed under.
//
// ISO 8601 day strings sort lexicographically in calendar order, so ranges
// over them can be checked with plain string comparison.
package day

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Layout is the Go time layout for a day key.
const Layout = "2006-01-02"

// dayRegex matches: {YYYY}-{MM}-{DD}
var dayRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var (
	ErrInvalidDay   = errors.New("day: invalid date format")
	ErrInvalidRange = errors.New("day: range start is after end")
)

// Parse validates a day key and returns it as midnight UTC.
func Parse(s string) (time.Time, error) {
	if !dayRegex.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: %q (expected YYYY-MM-DD)", ErrInvalidDay, s)
	}
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDay, s)
	}
	return t, nil
}

// Of returns the day key of t in UTC.
func Of(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Range is an inclusive span of days. Empty bounds are open.
type Range struct {
	From string
	To   string
}

// NewRange validates both bounds (when set) and their order.
func NewRange(from, to string) (Range, error) {
	for _, s := range []string{from, to} {
		if s == "" {
			continue
		}
		if _, err := Parse(s); err != nil {
			return Range{}, err
		}
	}
	if from != "" && to != "" && from > to {
		return Range{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, from, to)
	}
	return Range{From: from, To: to}, nil
}

// Contains reports whether the day key falls within the range.
func (r Range) Contains(s string) bool {
	if r.From != "" && s < r.From {
		return false
	}
	if r.To != "" && s > r.To {
		return false
	}
	return true
}
