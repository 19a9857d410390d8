// Package progress derives read-only views from a user's ledger and check-ins.
// Every function is pure.
package progress

import (
	"time"

	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/models"
)

// Level is a named streak tier.
type Level string

const (
	LevelBeginner  Level = "beginner"
	LevelRising    Level = "rising"
	LevelCommitted Level = "committed"
	LevelMaster    Level = "master"
	LevelLegendary Level = "legendary"
)

type tier struct {
	level Level
	from  int
}

// ascending by threshold
var tiers = []tier{
	{LevelBeginner, 0},
	{LevelRising, 7},
	{LevelCommitted, 14},
	{LevelMaster, 30},
	{LevelLegendary, 100},
}

// LevelInfo places a streak on the tier table.
type LevelInfo struct {
	Level     Level `json:"level"`
	Streak    int   `json:"streak"`
	Next      Level `json:"next,omitempty"`
	DaysToGo  int   `json:"days_to_next,omitempty"`
	Threshold int   `json:"threshold"`
}

// LevelFor maps a current streak to its tier.
func LevelFor(currentStreak int) Level {
	return Describe(currentStreak).Level
}

// Describe returns the tier of currentStreak and the distance to the next one.
func Describe(currentStreak int) LevelInfo {
	info := LevelInfo{Level: LevelBeginner, Streak: currentStreak}
	for i, t := range tiers {
		if currentStreak < t.from {
			break
		}
		info.Level = t.level
		info.Threshold = t.from
		info.Next = ""
		info.DaysToGo = 0
		if i+1 < len(tiers) {
			info.Next = tiers[i+1].level
			info.DaysToGo = tiers[i+1].from - currentStreak
		}
	}
	return info
}

// WeeklyCompletionRate is the share of the seven days ending at asOf that were
// completed or bank-covered.
func WeeklyCompletionRate(entries []models.LedgerEntry, bank ledger.BankView, asOf models.Day) float64 {
	q := ledger.Qualifying(entries, bank, asOf)
	hit := 0
	for i := 0; i < 7; i++ {
		if q[asOf.AddDays(-i)] {
			hit++
		}
	}
	return float64(hit) / 7
}

// AtRisk reports whether today, in loc, has no completion yet and the local
// hour has reached cutoffHour.
func AtRisk(entries []models.LedgerEntry, now time.Time, loc *time.Location, cutoffHour int) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := models.DayOf(now, loc)
	for _, e := range entries {
		if e.Day == today && e.Completed {
			return false
		}
	}
	return local.Hour() >= cutoffHour
}
