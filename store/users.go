package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"gorm.io/gorm"

	"github.com/cppla/ascend/models"
)

// ErrUsernameTaken is returned when registering an existing username.
var ErrUsernameTaken = errors.New("username already exists")

const zoneCacheSize = 1024

// Users reads and writes local accounts and resolves each user's timezone.
// Resolved zones are kept in a small LRU because Today is asked on every write.
type Users struct {
	db    *gorm.DB
	zones *lru.Cache
}

// NewUsers wraps a migrated database holding the users table.
func NewUsers(db *gorm.DB) *Users {
	zones, _ := lru.New(zoneCacheSize)
	return &Users{db: db, zones: zones}
}

// Create inserts u. The username comparison is case-insensitive.
func (s *Users) Create(ctx context.Context, u *models.User) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("LOWER(username) = ?", strings.ToLower(u.Username)).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrUsernameTaken
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Users) ByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Users) ByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("LOWER(username) = ?", strings.ToLower(username)).First(&u).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// Save persists profile changes and drops the cached zone.
func (s *Users) Save(ctx context.Context, u *models.User) error {
	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	s.zones.Remove(u.ID)
	return nil
}

// Location is a clock.ZoneResolver. Unknown users and lookup failures get UTC.
func (s *Users) Location(userID uint) *time.Location {
	if v, ok := s.zones.Get(userID); ok {
		return v.(*time.Location)
	}
	u, err := s.ByID(context.Background(), userID)
	if err != nil {
		return time.UTC
	}
	loc := u.Location()
	s.zones.Add(userID, loc)
	return loc
}
