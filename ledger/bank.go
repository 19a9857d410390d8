package ledger

import (
	"sort"

	"github.com/cppla/ascend/models"
)

// BankView is the replayed state of a user's streak bank.
type BankView struct {
	Granted  int
	Consumed int
	// Covered holds every day protected by a funded consumption.
	Covered map[models.Day]bool
	// Unfunded lists consumptions that found no credit left, in replay order.
	// They appear after two devices spent the same credit offline.
	Unfunded []models.StreakBankTransaction
}

// Balance is the number of credits still available.
func (v BankView) Balance() int {
	return v.Granted - v.Consumed
}

// ReplayBank folds bank rows in (RecordedAt, ID) order. Grants add credits;
// a consume spends one if any is left and covers its day, otherwise it is
// unfunded and covers nothing. A day is covered at most once.
func ReplayBank(txs []models.StreakBankTransaction) BankView {
	sorted := append([]models.StreakBankTransaction(nil), txs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].RecordedAt != sorted[j].RecordedAt {
			return sorted[i].RecordedAt < sorted[j].RecordedAt
		}
		return sorted[i].ID < sorted[j].ID
	})

	v := BankView{Covered: map[models.Day]bool{}}
	for _, t := range sorted {
		switch t.Kind {
		case models.BankGrant:
			if t.Amount > 0 {
				v.Granted += t.Amount
			}
		case models.BankConsume:
			if v.Covered[t.CoveredDay] {
				continue
			}
			if v.Balance() <= 0 {
				v.Unfunded = append(v.Unfunded, t)
				continue
			}
			v.Consumed++
			v.Covered[t.CoveredDay] = true
		}
	}
	return v
}
