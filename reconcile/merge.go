package reconcile

import (
	"sort"

	"github.com/cppla/ascend/models"
)

// Conflict is a day where two differing entries carried the same timestamp and
// the same richness.
type Conflict struct {
	Day      models.Day `json:"day"`
	KeptID   string     `json:"kept_id"`
	LostID   string     `json:"lost_id"`
	KeptFrom string     `json:"kept_from"`
}

// MergeResult is the merged entry view of one user.
type MergeResult struct {
	// Entries is the winner per day, ordered by day.
	Entries []models.LedgerEntry
	// Writes are the winners that differ from the local copy and must be stored.
	Writes    []models.LedgerEntry
	Conflicts []Conflict
}

// preferred reports whether a beats b for the same day: later RecordedAt, then
// richer payload, then the local copy, then the larger ID.
func preferred(a, b models.LedgerEntry) bool {
	if a.RecordedAt != b.RecordedAt {
		return a.RecordedAt > b.RecordedAt
	}
	if ra, rb := a.Richness(), b.Richness(); ra != rb {
		return ra > rb
	}
	if a.Source != b.Source {
		return a.Source == models.SourceLocal
	}
	return a.ID > b.ID
}

// Merge resolves local and remote entries per day. The result does not depend
// on input order. Remote rows must carry their server version in RemoteUpdatedAt.
func Merge(local, remote []models.LedgerEntry) MergeResult {
	locals := make(map[models.Day]models.LedgerEntry, len(local))
	for _, e := range local {
		if cur, ok := locals[e.Day]; !ok || preferred(e, cur) {
			locals[e.Day] = e
		}
	}
	remotes := make(map[models.Day]models.LedgerEntry, len(remote))
	for _, e := range remote {
		if cur, ok := remotes[e.Day]; !ok || preferred(e, cur) {
			remotes[e.Day] = e
		}
	}

	var res MergeResult
	for d, l := range locals {
		r, ok := remotes[d]
		if !ok {
			res.Entries = append(res.Entries, l)
			continue
		}
		if l.SamePayload(r) && l.RecordedAt == r.RecordedAt {
			// our own row echoed back, or a row both sides already agree on
			if l.RemoteUpdatedAt != r.RemoteUpdatedAt && (l.Pending() || l.Source == models.SourceRemote) {
				l.RemoteUpdatedAt = r.RemoteUpdatedAt
				res.Writes = append(res.Writes, l)
			}
			res.Entries = append(res.Entries, l)
			continue
		}

		tied := l.RecordedAt == r.RecordedAt && l.Richness() == r.Richness()
		if preferred(r, l) {
			r.Source = models.SourceRemote
			res.Entries = append(res.Entries, r)
			res.Writes = append(res.Writes, r)
			if tied {
				res.Conflicts = append(res.Conflicts, Conflict{Day: d, KeptID: r.ID, LostID: l.ID, KeptFrom: models.SourceRemote})
			}
			continue
		}

		if tied {
			// both devices keep their own copy; re-pushing would ping-pong
			res.Conflicts = append(res.Conflicts, Conflict{Day: d, KeptID: l.ID, LostID: r.ID, KeptFrom: models.SourceLocal})
		} else if !l.Pending() {
			// the remote holds a poorer row for the day; queue ours again
			l.Source = models.SourceLocal
			l.RemoteUpdatedAt = 0
			res.Writes = append(res.Writes, l)
		}
		res.Entries = append(res.Entries, l)
	}
	for d, r := range remotes {
		if _, ok := locals[d]; ok {
			continue
		}
		r.Source = models.SourceRemote
		res.Entries = append(res.Entries, r)
		res.Writes = append(res.Writes, r)
	}

	sortEntries(res.Entries)
	sortEntries(res.Writes)
	sort.Slice(res.Conflicts, func(i, j int) bool { return res.Conflicts[i].Day < res.Conflicts[j].Day })
	return res
}

// BankMergeResult is the union of local and remote bank rows.
type BankMergeResult struct {
	Rows   []models.StreakBankTransaction
	Writes []models.StreakBankTransaction
}

// MergeBank unions bank rows by ID. Rows are immutable once written, so a row
// on both sides only needs its remote version recorded locally.
func MergeBank(local, remote []models.StreakBankTransaction) BankMergeResult {
	byID := make(map[string]models.StreakBankTransaction, len(local)+len(remote))
	for _, t := range local {
		byID[t.ID] = t
	}
	var res BankMergeResult
	for _, r := range remote {
		l, ok := byID[r.ID]
		switch {
		case !ok:
			byID[r.ID] = r
			res.Writes = append(res.Writes, r)
		case l.RemoteUpdatedAt != r.RemoteUpdatedAt:
			l.RemoteUpdatedAt = r.RemoteUpdatedAt
			byID[r.ID] = l
			res.Writes = append(res.Writes, l)
		}
	}
	for _, t := range byID {
		res.Rows = append(res.Rows, t)
	}
	sortBank(res.Rows)
	sortBank(res.Writes)
	return res
}

func sortEntries(es []models.LedgerEntry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Day < es[j].Day })
}

func sortBank(txs []models.StreakBankTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].RecordedAt != txs[j].RecordedAt {
			return txs[i].RecordedAt < txs[j].RecordedAt
		}
		return txs[i].ID < txs[j].ID
	})
}
