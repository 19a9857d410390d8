package reconcile

import (
	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/models"
)

// PlanProtection returns the missed days that bank credits should cover so that
// the current run climbs back to target, the streak cached before the drop. A
// gap is bridged only when it sits directly behind the current run (or behind
// yesterday when today is still open), an earlier qualifying day exists, and
// the balance covers every day of the gap. Bridging stops once the run reaches
// target or the credits run out.
func PlanProtection(entries []models.LedgerEntry, bank ledger.BankView, today models.Day, target int) []models.Day {
	q := ledger.Qualifying(entries, bank, today)
	if len(q) == 0 {
		return nil
	}
	earliest := today
	for d := range q {
		if d.Before(earliest) {
			earliest = d
		}
	}

	balance := bank.Balance()
	var plan []models.Day
	for balance > 0 && ledger.CurrentRun(q, today) < target {
		d := today
		if !q[d] {
			d = d.AddDays(-1)
		}
		for q[d] {
			d = d.AddDays(-1)
		}

		var gap []models.Day
		for !q[d] && !d.Before(earliest) {
			gap = append(gap, d)
			d = d.AddDays(-1)
		}
		if len(gap) == 0 || d.Before(earliest) || len(gap) > balance {
			break
		}
		for _, g := range gap {
			q[g] = true
		}
		balance -= len(gap)
		plan = append(plan, gap...)
	}

	// oldest first so consumption rows replay in calendar order
	for i, j := 0, len(plan)-1; i < j; i, j = i+1, j-1 {
		plan[i], plan[j] = plan[j], plan[i]
	}
	return plan
}
