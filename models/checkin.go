package models

import "time"

// CheckIn is a daily mood/energy check-in.
type CheckIn struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    uint      `gorm:"index:idx_checkin_user_day;not null" json:"user_id"`
	Day       Day       `gorm:"index:idx_checkin_user_day;size:10;not null" json:"day"`
	Mood      *int      `json:"mood,omitempty"`
	Energy    *int      `json:"energy,omitempty"`
	Note      string    `gorm:"type:text" json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
