package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"index"`
	Name         string
	PhotoURL     string
	Provider     string
	Plan         string `gorm:"not null;default:free"`
	DefaultMode  string
	CustomAPIKey string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type NoteModel struct {
	ID          string         `gorm:"primaryKey"`
	UserID      string         `gorm:"not null;index"`
	Title       string         `gorm:"not null"`
	Content     string         `gorm:"type:text;not null"`
	RawInput    string         `gorm:"type:text;not null"`
	Tags        datatypes.JSON `gorm:"type:jsonb"`
	Mode        string         `gorm:"not null"`
	Type        string         `gorm:"not null"`
	DateCreated time.Time      `gorm:"not null;index"`
	// Position keeps insertion order: higher is newer.
	Position  int64 `gorm:"not null;index"`
	UpdatedAt time.Time
}

type UsageModel struct {
	UserID        string `gorm:"primaryKey"`
	Count         int    `gorm:"not null"`
	LastResetDate string `gorm:"not null"`
	UpdatedAt     time.Time
}
