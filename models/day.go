package models

import (
	"fmt"
	"time"
)

// DayLayout is the storage and wire format of a Day.
const DayLayout = "2006-01-02"

// Day is a calendar date with no time of day. It is captured once, in the user's
// local zone at the moment of the action, and never reinterpreted afterwards.
type Day string

// ParseDay validates s as YYYY-MM-DD.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return Day(t.Format(DayLayout)), nil
}

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day(t.In(loc).Format(DayLayout))
}

// Time returns midnight UTC of d. Arithmetic is done on this value only, so a
// stored day never shifts with the server's zone.
func (d Day) Time() time.Time {
	t, err := time.Parse(DayLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Valid reports whether d is a well-formed day.
func (d Day) Valid() bool {
	_, err := time.Parse(DayLayout, string(d))
	return err == nil
}

// AddDays returns d shifted by n calendar days.
func (d Day) AddDays(n int) Day {
	return Day(d.Time().AddDate(0, 0, n).Format(DayLayout))
}

// Before reports whether d is strictly earlier than o.
func (d Day) Before(o Day) bool { return d < o }

// After reports whether d is strictly later than o.
func (d Day) After(o Day) bool { return d > o }

// DaysUntil returns the number of days from d to o (negative when o is earlier).
func (d Day) DaysUntil(o Day) int {
	return int(o.Time().Sub(d.Time()).Hours() / 24)
}

func (d Day) String() string { return string(d) }
