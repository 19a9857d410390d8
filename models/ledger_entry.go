package models

// Entry sources, relative to the device holding the row.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// LedgerEntry is one fact about one calendar day for one user. A later write for
// the same day supersedes the row; rows are never deleted.
type LedgerEntry struct {
	ID           string  `gorm:"primaryKey;size:36" json:"id"`
	UserID       uint    `gorm:"uniqueIndex:idx_ledger_user_day;not null" json:"user_id"`
	Day          Day     `gorm:"uniqueIndex:idx_ledger_user_day;size:10;not null" json:"day"`
	Completed    bool    `gorm:"not null;default:false" json:"completed"`
	Skipped      bool    `gorm:"not null;default:false" json:"skipped"`
	SkipReason   string  `gorm:"size:255" json:"skip_reason,omitempty"`
	ChallengeRef *string `gorm:"size:64" json:"challenge_ref,omitempty"`
	EffortLevel  *int    `json:"effort_level,omitempty"`
	Notes        string  `gorm:"type:text" json:"notes,omitempty"`
	// RecordedAt is the unix millisecond timestamp of the write.
	RecordedAt int64  `gorm:"not null" json:"recorded_at"`
	Source     string `gorm:"size:8;not null" json:"source"`
	// RemoteUpdatedAt is the remote version of this row; zero means not yet pushed.
	RemoteUpdatedAt int64 `gorm:"index" json:"remote_updated_at"`
}

// Richness ranks how much information an entry carries. A completion always
// outranks a bare skip or miss.
func (e LedgerEntry) Richness() int {
	score := 0
	if e.Completed {
		score += 8
	}
	if e.EffortLevel != nil {
		score += 4
	}
	if e.Notes != "" {
		score += 2
	}
	if e.ChallengeRef != nil && *e.ChallengeRef != "" {
		score++
	}
	return score
}

// SamePayload reports whether e and o record the same fact, ignoring bookkeeping
// fields (ID, timestamps, source).
func (e LedgerEntry) SamePayload(o LedgerEntry) bool {
	return e.UserID == o.UserID &&
		e.Day == o.Day &&
		e.Completed == o.Completed &&
		e.Skipped == o.Skipped &&
		e.SkipReason == o.SkipReason &&
		e.Notes == o.Notes &&
		equalStringPtr(e.ChallengeRef, o.ChallengeRef) &&
		equalIntPtr(e.EffortLevel, o.EffortLevel)
}

// Pending reports whether a local row still has to be pushed.
func (e LedgerEntry) Pending() bool {
	return e.Source == SourceLocal && e.RemoteUpdatedAt == 0
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
