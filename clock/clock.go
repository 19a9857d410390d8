// Package clock supplies wall time and per-user calendar days.
package clock

import (
	"sync"
	"time"

	"github.com/cppla/ascend/models"
)

// Clock is the time source used by the core. Today is the user's local calendar day.
type Clock interface {
	Now() time.Time
	Location(userID uint) *time.Location
	Today(userID uint) models.Day
}

// ZoneResolver maps a user to their IANA zone.
type ZoneResolver func(userID uint) *time.Location

// System reads the machine clock.
type System struct {
	Zones ZoneResolver
}

// NewSystem returns a System clock; a nil resolver means UTC for everybody.
func NewSystem(zones ZoneResolver) *System {
	return &System{Zones: zones}
}

func (s *System) Now() time.Time { return time.Now() }

func (s *System) Location(userID uint) *time.Location {
	if s.Zones == nil {
		return time.UTC
	}
	if loc := s.Zones(userID); loc != nil {
		return loc
	}
	return time.UTC
}

func (s *System) Today(userID uint) models.Day {
	return models.DayOf(s.Now(), s.Location(userID))
}

// Fixed is a settable clock for tests. Safe for concurrent use.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

// NewFixed returns a clock frozen at now. All users share loc (UTC when nil).
func NewFixed(now time.Time, loc *time.Location) *Fixed {
	if loc == nil {
		loc = time.UTC
	}
	return &Fixed{now: now, loc: loc}
}

// AtDay returns a clock frozen at noon of day d in UTC.
func AtDay(d models.Day) *Fixed {
	return NewFixed(d.Time().Add(12*time.Hour), time.UTC)
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fixed) Location(uint) *time.Location { return f.loc }

func (f *Fixed) Today(userID uint) models.Day {
	return models.DayOf(f.Now(), f.loc)
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// AdvanceDays moves the clock forward by n calendar days.
func (f *Fixed) AdvanceDays(n int) {
	f.mu.Lock()
	f.now = f.now.AddDate(0, 0, n)
	f.mu.Unlock()
}

// Millis returns c.Now() as unix milliseconds.
func Millis(c Clock) int64 {
	return c.Now().UnixMilli()
}
