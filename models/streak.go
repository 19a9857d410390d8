package models

import "time"

// StreakState is the cached summary derived from the ledger. It is never an
// independent source of truth.
type StreakState struct {
	UserID           uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CurrentStreak    int       `gorm:"not null;default:0" json:"current_streak"`
	LongestStreak    int       `gorm:"not null;default:0" json:"longest_streak"`
	LastComputedDate Day       `gorm:"size:10" json:"last_computed_date"`
	StreakBankDays   int       `gorm:"not null;default:0" json:"streak_bank_days"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Bank transaction kinds.
const (
	BankGrant   = "grant"
	BankConsume = "consume"
)

// StreakBankTransaction records a bank credit grant or the consumption of one
// credit to cover a missed day. Balance and coverage are replayed from these rows.
type StreakBankTransaction struct {
	ID     string `gorm:"primaryKey;size:64" json:"id"`
	UserID uint   `gorm:"index;not null" json:"user_id"`
	Kind   string `gorm:"size:8;not null" json:"kind"`
	// Amount is the number of credits granted; consumes always spend one.
	Amount     int    `gorm:"not null;default:0" json:"amount"`
	CoveredDay Day    `gorm:"size:10;index" json:"covered_day,omitempty"`
	ConsumedOn Day    `gorm:"size:10" json:"consumed_on,omitempty"`
	Reason     string `gorm:"size:255" json:"reason,omitempty"`
	// RecordedAt is the unix millisecond timestamp of the write.
	RecordedAt      int64 `gorm:"not null" json:"recorded_at"`
	RemoteUpdatedAt int64 `gorm:"index" json:"remote_updated_at"`
}

// Pending reports whether the row still has to be pushed.
func (t StreakBankTransaction) Pending() bool {
	return t.RemoteUpdatedAt == 0
}

// Sync entity types.
const (
	EntityLedgerEntry     = "ledger_entry"
	EntityBankTransaction = "bank_transaction"
)

// SyncCursor is the remote watermark already merged for one user and entity type.
type SyncCursor struct {
	UserID     uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	EntityType string    `gorm:"primaryKey;size:32" json:"entity_type"`
	Watermark  int64     `gorm:"not null;default:0" json:"watermark"`
	UpdatedAt  time.Time `json:"updated_at"`
}
