package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/ascend/models"
)

// remoteEntryRow is the remote table shape of a LedgerEntry. The server owns
// updated_at; source is implied by which side reads the row.
type remoteEntryRow struct {
	ID           string     `gorm:"primaryKey;size:36"`
	UserID       uint       `gorm:"uniqueIndex:idx_remote_ledger_user_day;not null"`
	Day          models.Day `gorm:"uniqueIndex:idx_remote_ledger_user_day;size:10;not null"`
	Completed    bool       `gorm:"not null;default:false"`
	Skipped      bool       `gorm:"not null;default:false"`
	SkipReason   string     `gorm:"size:255"`
	ChallengeRef *string    `gorm:"size:64"`
	EffortLevel  *int       `gorm:"column:effort_level"`
	Notes        string     `gorm:"type:text"`
	RecordedAt   int64      `gorm:"not null"`
	UpdatedAt    int64      `gorm:"index;autoUpdateTime:false"`
}

func (remoteEntryRow) TableName() string { return "ledger_entries" }

type remoteBankRow struct {
	ID         string     `gorm:"primaryKey;size:64"`
	UserID     uint       `gorm:"index;not null"`
	Kind       string     `gorm:"size:8;not null"`
	Amount     int        `gorm:"not null;default:0"`
	CoveredDay models.Day `gorm:"size:10"`
	ConsumedOn models.Day `gorm:"size:10"`
	Reason     string     `gorm:"size:255"`
	RecordedAt int64      `gorm:"not null"`
	UpdatedAt  int64      `gorm:"index;autoUpdateTime:false"`
}

func (remoteBankRow) TableName() string { return "streak_bank_transactions" }

type remoteStreakRow struct {
	UserID           uint       `gorm:"primaryKey;autoIncrement:false"`
	CurrentStreak    int        `gorm:"not null;default:0"`
	LongestStreak    int        `gorm:"not null;default:0"`
	LastComputedDate models.Day `gorm:"size:10"`
	StreakBankDays   int        `gorm:"not null;default:0"`
	UpdatedAt        int64      `gorm:"autoUpdateTime:false"`
}

func (remoteStreakRow) TableName() string { return "streak_states" }

// RemoteModels lists the remote tables for environments that let the client
// migrate (tests, self-hosted). Hosted deployments apply remote_schema.sql.
func RemoteModels() []interface{} {
	return []interface{}{&remoteEntryRow{}, &remoteBankRow{}, &remoteStreakRow{}}
}

func toRemoteEntry(e models.LedgerEntry) remoteEntryRow {
	return remoteEntryRow{
		ID:           e.ID,
		UserID:       e.UserID,
		Day:          e.Day,
		Completed:    e.Completed,
		Skipped:      e.Skipped,
		SkipReason:   e.SkipReason,
		ChallengeRef: e.ChallengeRef,
		EffortLevel:  e.EffortLevel,
		Notes:        e.Notes,
		RecordedAt:   e.RecordedAt,
	}
}

func (r remoteEntryRow) toModel() models.LedgerEntry {
	return models.LedgerEntry{
		ID:              r.ID,
		UserID:          r.UserID,
		Day:             r.Day,
		Completed:       r.Completed,
		Skipped:         r.Skipped,
		SkipReason:      r.SkipReason,
		ChallengeRef:    r.ChallengeRef,
		EffortLevel:     r.EffortLevel,
		Notes:           r.Notes,
		RecordedAt:      r.RecordedAt,
		Source:          models.SourceRemote,
		RemoteUpdatedAt: r.UpdatedAt,
	}
}

func toRemoteBank(t models.StreakBankTransaction) remoteBankRow {
	return remoteBankRow{
		ID:         t.ID,
		UserID:     t.UserID,
		Kind:       t.Kind,
		Amount:     t.Amount,
		CoveredDay: t.CoveredDay,
		ConsumedOn: t.ConsumedOn,
		Reason:     t.Reason,
		RecordedAt: t.RecordedAt,
	}
}

func (r remoteBankRow) toModel() models.StreakBankTransaction {
	return models.StreakBankTransaction{
		ID:              r.ID,
		UserID:          r.UserID,
		Kind:            r.Kind,
		Amount:          r.Amount,
		CoveredDay:      r.CoveredDay,
		ConsumedOn:      r.ConsumedOn,
		Reason:          r.Reason,
		RecordedAt:      r.RecordedAt,
		RemoteUpdatedAt: r.UpdatedAt,
	}
}

// GormRemote talks to the hosted relational backend (mysql or postgres).
// Versions come from the database clock so that every client shares one timeline.
type GormRemote struct {
	db *gorm.DB
}

// NewGormRemote wraps an open remote connection.
func NewGormRemote(db *gorm.DB) *GormRemote {
	return &GormRemote{db: db}
}

// serverMillisExpr returns the dialect's expression for the current unix time in ms.
func (s *GormRemote) serverMillisExpr() clause.Expr {
	switch s.db.Dialector.Name() {
	case "postgres":
		return gorm.Expr("CAST(EXTRACT(EPOCH FROM clock_timestamp()) * 1000 AS BIGINT)")
	case "mysql":
		return gorm.Expr("CAST(ROUND(UNIX_TIMESTAMP(NOW(3)) * 1000) AS SIGNED)")
	default:
		return gorm.Expr("CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)")
	}
}

// scoped runs fn in a transaction bound to userID. On postgres the id is
// exposed as app.user_id for the row-level security policies.
func (s *GormRemote) scoped(ctx context.Context, userID uint, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.db.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT set_config('app.user_id', ?, true)", strconv.FormatUint(uint64(userID), 10)).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
}

func (s *GormRemote) FetchEntriesSince(ctx context.Context, userID uint, watermark int64) ([]models.LedgerEntry, error) {
	var rows []remoteEntryRow
	err := s.scoped(ctx, userID, func(tx *gorm.DB) error {
		return tx.Where("user_id = ? AND updated_at >= ?", userID, watermark).
			Order("updated_at ASC, day ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch ledger entries: %w", err)
	}
	out := make([]models.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// UpsertEntry writes e keyed by (user, day). A stored row with a later
// RecordedAt is kept; the returned version is that of the surviving row.
func (s *GormRemote) UpsertEntry(ctx context.Context, e models.LedgerEntry) (int64, error) {
	var version int64
	err := s.scoped(ctx, e.UserID, func(tx *gorm.DB) error {
		var existing remoteEntryRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND day = ?", e.UserID, e.Day).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.RecordedAt > e.RecordedAt {
				version = existing.UpdatedAt
				return nil
			}
			row := toRemoteEntry(e)
			if err := tx.Model(&remoteEntryRow{}).
				Where("user_id = ? AND day = ?", e.UserID, e.Day).
				Updates(map[string]interface{}{
					"id":            row.ID,
					"completed":     row.Completed,
					"skipped":       row.Skipped,
					"skip_reason":   row.SkipReason,
					"challenge_ref": row.ChallengeRef,
					"effort_level":  row.EffortLevel,
					"notes":         row.Notes,
					"recorded_at":   row.RecordedAt,
					"updated_at":    s.serverMillisExpr(),
				}).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := toRemoteEntry(e)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			if err := tx.Model(&remoteEntryRow{}).Where("id = ?", row.ID).
				Update("updated_at", s.serverMillisExpr()).Error; err != nil {
				return err
			}
		default:
			return err
		}
		var stored remoteEntryRow
		if err := tx.Where("user_id = ? AND day = ?", e.UserID, e.Day).First(&stored).Error; err != nil {
			return err
		}
		version = stored.UpdatedAt
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert ledger entry: %w", err)
	}
	return version, nil
}

func (s *GormRemote) FetchBankSince(ctx context.Context, userID uint, watermark int64) ([]models.StreakBankTransaction, error) {
	var rows []remoteBankRow
	err := s.scoped(ctx, userID, func(tx *gorm.DB) error {
		return tx.Where("user_id = ? AND updated_at >= ?", userID, watermark).
			Order("updated_at ASC, id ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch bank transactions: %w", err)
	}
	out := make([]models.StreakBankTransaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// UpsertBank inserts t once; bank rows are immutable after their first write.
func (s *GormRemote) UpsertBank(ctx context.Context, t models.StreakBankTransaction) (int64, error) {
	var version int64
	err := s.scoped(ctx, t.UserID, func(tx *gorm.DB) error {
		row := toRemoteBank(t)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			if err := tx.Model(&remoteBankRow{}).Where("id = ?", row.ID).
				Update("updated_at", s.serverMillisExpr()).Error; err != nil {
				return err
			}
		}
		var stored remoteBankRow
		if err := tx.First(&stored, "id = ?", row.ID).Error; err != nil {
			return err
		}
		version = stored.UpdatedAt
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert bank transaction: %w", err)
	}
	return version, nil
}

func (s *GormRemote) FetchStreakState(ctx context.Context, userID uint) (*models.StreakState, error) {
	var row remoteStreakRow
	err := s.scoped(ctx, userID, func(tx *gorm.DB) error {
		return tx.First(&row, "user_id = ?", userID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch streak state: %w", err)
	}
	return &models.StreakState{
		UserID:           row.UserID,
		CurrentStreak:    row.CurrentStreak,
		LongestStreak:    row.LongestStreak,
		LastComputedDate: row.LastComputedDate,
		StreakBankDays:   row.StreakBankDays,
		UpdatedAt:        time.UnixMilli(row.UpdatedAt),
	}, nil
}

func (s *GormRemote) UpsertStreakState(ctx context.Context, st models.StreakState) error {
	row := remoteStreakRow{
		UserID:           st.UserID,
		CurrentStreak:    st.CurrentStreak,
		LongestStreak:    st.LongestStreak,
		LastComputedDate: st.LastComputedDate,
		StreakBankDays:   st.StreakBankDays,
	}
	err := s.scoped(ctx, st.UserID, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"current_streak":     row.CurrentStreak,
				"longest_streak":     row.LongestStreak,
				"last_computed_date": row.LastComputedDate,
				"streak_bank_days":   row.StreakBankDays,
				"updated_at":         s.serverMillisExpr(),
			}),
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("upsert streak state: %w", err)
	}
	return nil
}

func (s *GormRemote) Now(ctx context.Context) (time.Time, error) {
	var ms int64
	err := s.db.WithContext(ctx).Raw("SELECT ?", s.serverMillisExpr()).Scan(&ms).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("remote clock: %w", err)
	}
	return time.UnixMilli(ms), nil
}
