package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cppla/ascend/models"
)

func completedRun(end models.Day, n int) []models.LedgerEntry {
	out := make([]models.LedgerEntry, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, models.LedgerEntry{UserID: testUser, Day: end.AddDays(-i), Completed: true})
	}
	return out
}

func TestRecompute(t *testing.T) {
	today := day("2024-05-20")
	grant := models.StreakBankTransaction{ID: "g", Kind: models.BankGrant, Amount: 1, RecordedAt: 1}
	cover := func(d models.Day) models.StreakBankTransaction {
		return models.StreakBankTransaction{ID: "c-" + string(d), Kind: models.BankConsume, CoveredDay: d, RecordedAt: 2}
	}

	tests := []struct {
		name         string
		entries      []models.LedgerEntry
		bank         []models.StreakBankTransaction
		prevLongest  int
		wantCurrent  int
		wantLongest  int
		wantBankDays int
	}{
		{
			name:        "empty ledger",
			wantCurrent: 0,
			wantLongest: 0,
		},
		{
			name:        "incomplete today keeps run ending yesterday",
			entries:     completedRun(today.AddDays(-1), 3),
			wantCurrent: 3,
			wantLongest: 3,
		},
		{
			name:        "completing today extends the run",
			entries:     completedRun(today, 4),
			prevLongest: 3,
			wantCurrent: 4,
			wantLongest: 4,
		},
		{
			name:        "missed yesterday breaks the run",
			entries:     completedRun(today.AddDays(-2), 5),
			prevLongest: 5,
			wantCurrent: 0,
			wantLongest: 5,
		},
		{
			name:        "miss then complete today restarts at one",
			entries:     append(completedRun(today.AddDays(-2), 5), models.LedgerEntry{Day: today, Completed: true}),
			prevLongest: 5,
			wantCurrent: 1,
			wantLongest: 5,
		},
		{
			name:        "skip does not qualify",
			entries:     append(completedRun(today.AddDays(-2), 2), models.LedgerEntry{Day: today.AddDays(-1), Skipped: true}),
			wantCurrent: 0,
			wantLongest: 2,
		},
		{
			name:        "bank cover bridges the gap",
			entries:     append(completedRun(today.AddDays(-2), 5), models.LedgerEntry{Day: today, Completed: true}),
			bank:        []models.StreakBankTransaction{grant, cover(today.AddDays(-1))},
			wantCurrent: 7,
			wantLongest: 7,
		},
		{
			name:         "unfunded cover does not bridge",
			entries:      append(completedRun(today.AddDays(-2), 2), models.LedgerEntry{Day: today, Completed: true}),
			bank:         []models.StreakBankTransaction{cover(today.AddDays(-1))},
			wantCurrent:  1,
			wantLongest:  2,
			wantBankDays: 0,
		},
		{
			name:        "future entries are ignored",
			entries:     []models.LedgerEntry{{Day: today.AddDays(1), Completed: true}},
			wantCurrent: 0,
			wantLongest: 0,
		},
		{
			name:         "unspent grant shows as bank days",
			entries:      completedRun(today, 1),
			bank:         []models.StreakBankTransaction{grant},
			wantCurrent:  1,
			wantLongest:  1,
			wantBankDays: 1,
		},
		{
			name:        "longest never decreases after a correction",
			entries:     completedRun(today, 2),
			prevLongest: 30,
			wantCurrent: 2,
			wantLongest: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Recompute(testUser, tt.entries, ReplayBank(tt.bank), today, tt.prevLongest)
			assert.Equal(t, tt.wantCurrent, got.CurrentStreak)
			assert.Equal(t, tt.wantLongest, got.LongestStreak)
			assert.Equal(t, tt.wantBankDays, got.StreakBankDays)
			assert.Equal(t, today, got.LastComputedDate)
			assert.GreaterOrEqual(t, got.LongestStreak, got.CurrentStreak)
		})
	}
}

func TestLongestMonotonicAcrossSequence(t *testing.T) {
	today := day("2024-05-20")
	var entries []models.LedgerEntry
	longest := 0
	// build up, then rewrite history into skips; longest must hold
	for i := 9; i >= 0; i-- {
		entries = append(entries, models.LedgerEntry{Day: today.AddDays(-i), Completed: true})
		s := Recompute(testUser, entries, BankView{}, today, longest)
		assert.GreaterOrEqual(t, s.LongestStreak, longest)
		longest = s.LongestStreak
	}
	for i := range entries {
		entries[i].Completed = false
		entries[i].Skipped = true
		s := Recompute(testUser, entries, BankView{}, today, longest)
		assert.GreaterOrEqual(t, s.LongestStreak, longest)
		longest = s.LongestStreak
	}
	assert.Equal(t, 10, longest)
}

func TestReplayBankCoversDayOnce(t *testing.T) {
	rows := []models.StreakBankTransaction{
		{ID: "b", Kind: models.BankConsume, CoveredDay: day("2024-05-01"), RecordedAt: 20},
		{ID: "g", Kind: models.BankGrant, Amount: 2, RecordedAt: 10},
		{ID: "a", Kind: models.BankConsume, CoveredDay: day("2024-05-01"), RecordedAt: 20},
		{ID: "c", Kind: models.BankConsume, CoveredDay: day("2024-05-02"), RecordedAt: 30},
		{ID: "d", Kind: models.BankConsume, CoveredDay: day("2024-05-03"), RecordedAt: 40},
	}
	v := ReplayBank(rows)
	assert.Equal(t, 2, v.Granted)
	assert.Equal(t, 2, v.Consumed)
	assert.Equal(t, 0, v.Balance())
	assert.True(t, v.Covered[day("2024-05-01")])
	assert.True(t, v.Covered[day("2024-05-02")])
	assert.False(t, v.Covered[day("2024-05-03")])
	if assert.Len(t, v.Unfunded, 1) {
		assert.Equal(t, "d", v.Unfunded[0].ID)
	}
}
