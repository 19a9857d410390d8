package models

import (
	"time"

	"gorm.io/gorm"
)

// Training paths a user can follow.
const (
	PathDiscipline   = "discipline"
	PathClarity      = "clarity"
	PathConfidence   = "confidence"
	PathPurpose      = "purpose"
	PathAuthenticity = "authenticity"
)

// TrainingPaths lists every supported path in display order.
var TrainingPaths = []string{PathDiscipline, PathClarity, PathConfidence, PathPurpose, PathAuthenticity}

// ValidTrainingPath reports whether p is a known path.
func ValidTrainingPath(p string) bool {
	for _, v := range TrainingPaths {
		if v == p {
			return true
		}
	}
	return false
}

// User is a local account. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"size:64;uniqueIndex;not null" json:"username"`
	PasswordHash string         `gorm:"size:255" json:"-"`
	TrainingPath string         `gorm:"size:32" json:"training_path"`
	Timezone     string         `gorm:"size:64" json:"timezone"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// Location resolves the user's timezone, falling back to UTC.
func (u *User) Location() *time.Location {
	if u == nil || u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
