package progress

import (
	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/models"
)

// Trend directions.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendSteady    = "steady"
	TrendUnknown   = "unknown"
)

// trendDelta is the change in half averages that counts as movement.
const trendDelta = 0.5

// MoodDay is one daily bucket.
type MoodDay struct {
	Day     models.Day `json:"day"`
	Average *float64   `json:"average,omitempty"`
	Count   int        `json:"count"`
}

// MoodTrend aggregates mood over a window of days.
type MoodTrend struct {
	From      models.Day `json:"from"`
	To        models.Day `json:"to"`
	Days      []MoodDay  `json:"days"`
	Average   *float64   `json:"average,omitempty"`
	Direction string     `json:"direction"`
}

// MoodAggregate buckets check-ins by day over the days ending at asOf.
// Check-ins without a mood are ignored.
func MoodAggregate(checkIns []models.CheckIn, asOf models.Day, days int) MoodTrend {
	if days <= 0 {
		days = 14
	}
	from := asOf.AddDays(-(days - 1))
	sums := map[models.Day]float64{}
	counts := map[models.Day]int{}
	for _, c := range checkIns {
		if c.Mood == nil || c.Day.Before(from) || c.Day.After(asOf) {
			continue
		}
		sums[c.Day] += float64(*c.Mood)
		counts[c.Day]++
	}

	out := MoodTrend{From: from, To: asOf, Direction: TrendUnknown}
	var total float64
	var n int
	for i := 0; i < days; i++ {
		d := from.AddDays(i)
		b := MoodDay{Day: d, Count: counts[d]}
		if b.Count > 0 {
			avg := sums[d] / float64(b.Count)
			b.Average = &avg
			total += sums[d]
			n += b.Count
		}
		out.Days = append(out.Days, b)
	}
	if n > 0 {
		avg := total / float64(n)
		out.Average = &avg
	}
	out.Direction = direction(out.Days)
	return out
}

// direction compares the mean of daily averages in the first and second half.
func direction(days []MoodDay) string {
	half := len(days) / 2
	first, okA := meanOf(days[:half])
	second, okB := meanOf(days[half:])
	if !okA || !okB {
		return TrendUnknown
	}
	switch d := second - first; {
	case d >= trendDelta:
		return TrendImproving
	case d <= -trendDelta:
		return TrendDeclining
	default:
		return TrendSteady
	}
}

func meanOf(days []MoodDay) (float64, bool) {
	var sum float64
	n := 0
	for _, d := range days {
		if d.Average != nil {
			sum += *d.Average
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Summary is the weekly roll-up also written server-side by the
// weekly-summary trigger.
type Summary struct {
	WeekStart      models.Day `json:"week_start"`
	WeekEnd        models.Day `json:"week_end"`
	Completed      int        `json:"completed"`
	Skipped        int        `json:"skipped"`
	Covered        int        `json:"covered"`
	Missed         int        `json:"missed"`
	CompletionRate float64    `json:"completion_rate"`
	AverageEffort  *float64   `json:"average_effort,omitempty"`
	AverageMood    *float64   `json:"average_mood,omitempty"`
}

// WeeklySummary rolls up the seven days ending at weekEnd.
func WeeklySummary(entries []models.LedgerEntry, bank ledger.BankView, checkIns []models.CheckIn, weekEnd models.Day) Summary {
	start := weekEnd.AddDays(-6)
	s := Summary{WeekStart: start, WeekEnd: weekEnd}

	byDay := map[models.Day]models.LedgerEntry{}
	for _, e := range entries {
		if !e.Day.Before(start) && !e.Day.After(weekEnd) {
			byDay[e.Day] = e
		}
	}
	var effort float64
	efforts := 0
	for i := 0; i < 7; i++ {
		d := start.AddDays(i)
		e, ok := byDay[d]
		switch {
		case ok && e.Completed:
			s.Completed++
			if e.EffortLevel != nil {
				effort += float64(*e.EffortLevel)
				efforts++
			}
		case bank.Covered[d]:
			s.Covered++
		case ok && e.Skipped:
			s.Skipped++
		default:
			s.Missed++
		}
	}
	s.CompletionRate = float64(s.Completed+s.Covered) / 7
	if efforts > 0 {
		avg := effort / float64(efforts)
		s.AverageEffort = &avg
	}
	s.AverageMood = MoodAggregate(checkIns, weekEnd, 7).Average
	return s
}
