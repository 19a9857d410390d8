package ledger

import (
	"sort"

	"github.com/cppla/ascend/models"
)

// Qualifying returns the days up to and including today that count toward a
// streak: a completed entry or a funded bank cover. Entries dated after today
// are ignored.
func Qualifying(entries []models.LedgerEntry, bank BankView, today models.Day) map[models.Day]bool {
	q := make(map[models.Day]bool, len(entries)+len(bank.Covered))
	for _, e := range entries {
		if e.Completed && !e.Day.After(today) {
			q[e.Day] = true
		}
	}
	for d := range bank.Covered {
		if !d.After(today) {
			q[d] = true
		}
	}
	return q
}

// CurrentRun walks backward from today. An incomplete today does not break the
// run; the walk stops at the first earlier day that does not qualify.
func CurrentRun(q map[models.Day]bool, today models.Day) int {
	d := today
	if !q[d] {
		d = d.AddDays(-1)
	}
	n := 0
	for q[d] {
		n++
		d = d.AddDays(-1)
	}
	return n
}

// LongestRun is the longest run of consecutive qualifying days in q.
func LongestRun(q map[models.Day]bool) int {
	days := make([]models.Day, 0, len(q))
	for d := range q {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	best, run := 0, 0
	for i, d := range days {
		if i > 0 && days[i-1].AddDays(1) == d {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}

// Recompute derives the streak counters from the ledger. longestStreak never
// drops below previousLongest, even when history is corrected.
func Recompute(userID uint, entries []models.LedgerEntry, bank BankView, today models.Day, previousLongest int) models.StreakState {
	q := Qualifying(entries, bank, today)
	current := CurrentRun(q, today)

	longest := LongestRun(q)
	if previousLongest > longest {
		longest = previousLongest
	}
	if current > longest {
		longest = current
	}

	balance := bank.Balance()
	if balance < 0 {
		balance = 0
	}
	return models.StreakState{
		UserID:           userID,
		CurrentStreak:    current,
		LongestStreak:    longest,
		LastComputedDate: today,
		StreakBankDays:   balance,
	}
}
