package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/models"
)

func completions(days ...models.Day) []models.LedgerEntry {
	out := make([]models.LedgerEntry, 0, len(days))
	for _, d := range days {
		out = append(out, models.LedgerEntry{UserID: testUser, Day: d, Completed: true})
	}
	return out
}

func credits(n int) ledger.BankView {
	return ledger.ReplayBank([]models.StreakBankTransaction{{ID: "g", Kind: models.BankGrant, Amount: n, RecordedAt: 1}})
}

func TestPlanProtection(t *testing.T) {
	T := models.Day("2024-06-10")
	run := func(end models.Day, n int) []models.Day {
		var ds []models.Day
		for i := n - 1; i >= 0; i-- {
			ds = append(ds, end.AddDays(-i))
		}
		return ds
	}

	tests := []struct {
		name    string
		entries []models.LedgerEntry
		bank    ledger.BankView
		cached  int
		want    []models.Day
	}{
		{
			name:    "single missed day bridged",
			entries: completions(append(run(T.AddDays(-2), 5), T)...),
			bank:    credits(1),
			cached:  5,
			want:    []models.Day{T.AddDays(-1)},
		},
		{
			name:    "no credits",
			entries: completions(append(run(T.AddDays(-2), 5), T)...),
			bank:    credits(0),
			cached:  5,
		},
		{
			name:    "gap longer than balance",
			entries: completions(append(run(T.AddDays(-3), 5), T)...),
			bank:    credits(1),
			cached:  5,
		},
		{
			name:    "two-day gap with two credits",
			entries: completions(append(run(T.AddDays(-3), 5), T)...),
			bank:    credits(2),
			cached:  5,
			want:    []models.Day{T.AddDays(-2), T.AddDays(-1)},
		},
		{
			name:    "yesterday missed while today is open",
			entries: completions(run(T.AddDays(-2), 3)...),
			bank:    credits(1),
			cached:  3,
			want:    []models.Day{T.AddDays(-1)},
		},
		{
			name:    "nothing earlier to reconnect to",
			entries: completions(T),
			bank:    credits(3),
			cached:  3,
		},
		{
			name:    "unbroken run needs nothing",
			entries: completions(run(T, 4)...),
			bank:    credits(3),
			cached:  4,
		},
		{
			name: "successive gaps while credits last",
			entries: completions(
				T.AddDays(-6), T.AddDays(-5),
				T.AddDays(-3),
				T.AddDays(-1), T,
			),
			bank:   credits(2),
			cached: 6,
			want:   []models.Day{T.AddDays(-4), T.AddDays(-2)},
		},
		{
			name: "stops once the cached streak is restored",
			entries: completions(
				T.AddDays(-6), T.AddDays(-5),
				T.AddDays(-3),
				T.AddDays(-1), T,
			),
			bank:   credits(2),
			cached: 3,
			want:   []models.Day{T.AddDays(-2)},
		},
		{
			name:    "settled break is left alone",
			entries: completions(append(run(T.AddDays(-2), 5), T)...),
			bank:    credits(1),
			cached:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlanProtection(tt.entries, tt.bank, T, tt.cached))
		})
	}
}
