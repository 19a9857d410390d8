package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/ascend/models"
)

// LocalModels lists the tables of the on-device cache, in migration order.
func LocalModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.LedgerEntry{},
		&models.StreakBankTransaction{},
		&models.StreakState{},
		&models.SyncCursor{},
		&models.CheckIn{},
	}
}

var entryUpsertColumns = []string{
	"id", "completed", "skipped", "skip_reason", "challenge_ref", "effort_level",
	"notes", "recorded_at", "source", "remote_updated_at",
}

// GormLocal is the Local cache backed by gorm, normally on sqlite.
type GormLocal struct {
	db *gorm.DB
}

// NewGormLocal wraps an already migrated database.
func NewGormLocal(db *gorm.DB) *GormLocal {
	return &GormLocal{db: db}
}

// DB returns the underlying gorm handle.
func (s *GormLocal) DB() *gorm.DB { return s.db }

func (s *GormLocal) GetEntry(ctx context.Context, userID uint, day models.Day) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := s.db.WithContext(ctx).Where("user_id = ? AND day = ?", userID, day).First(&e).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// PutEntry upserts by (user, day); the incoming row replaces every payload
// column, including the ID when a remote row wins the merge.
func (s *GormLocal) PutEntry(ctx context.Context, e *models.LedgerEntry) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns(entryUpsertColumns),
	}).Create(e).Error
}

func (s *GormLocal) QueryEntries(ctx context.Context, userID uint, r DayRange) ([]models.LedgerEntry, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if r.From != "" {
		q = q.Where("day >= ?", r.From)
	}
	if r.To != "" {
		q = q.Where("day <= ?", r.To)
	}
	var out []models.LedgerEntry
	if err := q.Order("day ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormLocal) ListBank(ctx context.Context, userID uint) ([]models.StreakBankTransaction, error) {
	var out []models.StreakBankTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("recorded_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormLocal) PutBank(ctx context.Context, t *models.StreakBankTransaction) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(t).Error
}

func (s *GormLocal) GetStreakState(ctx context.Context, userID uint) (*models.StreakState, error) {
	var st models.StreakState
	if err := s.db.WithContext(ctx).First(&st, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (s *GormLocal) PutStreakState(ctx context.Context, st *models.StreakState) error {
	return s.db.WithContext(ctx).Save(st).Error
}

func (s *GormLocal) GetCursor(ctx context.Context, userID uint, entityType string) (*models.SyncCursor, error) {
	var c models.SyncCursor
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND entity_type = ?", userID, entityType).
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *GormLocal) PutCursor(ctx context.Context, c *models.SyncCursor) error {
	return s.db.WithContext(ctx).Save(c).Error
}

func (s *GormLocal) PutCheckIn(ctx context.Context, c *models.CheckIn) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *GormLocal) QueryCheckIns(ctx context.Context, userID uint, r DayRange) ([]models.CheckIn, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if r.From != "" {
		q = q.Where("day >= ?", r.From)
	}
	if r.To != "" {
		q = q.Where("day <= ?", r.To)
	}
	var out []models.CheckIn
	if err := q.Order("day ASC, created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormLocal) Atomic(ctx context.Context, fn func(tx Local) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormLocal{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
