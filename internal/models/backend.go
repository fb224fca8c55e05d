package models

import (
	"time"

	"gorm.io/gorm"
)

// The models below are persisted by the development backend only.

// Account couples a user with the business profile shown in the app
type Account struct {
	BaseModel
	UserID  string `gorm:"unique;not null"`
	Profile string `gorm:"type:text;not null;default:'{}'"` // raw JSON document

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// OTPChallenge is a one-time code sent to a phone number
type OTPChallenge struct {
	BaseModel
	Phone      string     `gorm:"index;not null"`
	CodeHash   string     `gorm:"not null"`
	ExpiresAt  time.Time  `gorm:"not null"`
	ConsumedAt *time.Time
}

// RefreshToken is an opaque, single-use identity-provider refresh token
type RefreshToken struct {
	BaseModel
	Token     string     `gorm:"unique;not null"`
	UserID    string     `gorm:"index;not null"`
	ExpiresAt time.Time  `gorm:"not null"`
	RevokedAt *time.Time
}

// ServerSession is a session issued by the application backend
type ServerSession struct {
	BaseModel
	UserID        string     `gorm:"index;not null"`
	ExpiresAt     time.Time  `gorm:"not null"`
	InvalidatedAt *time.Time

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Valid reports whether the server session can still be used
func (s *ServerSession) Valid(now time.Time) bool {
	return s.InvalidatedAt == nil && now.Before(s.ExpiresAt)
}

// AutoMigrate runs database migrations for all backend models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&User{}, &Account{}, &OTPChallenge{}, &RefreshToken{}, &ServerSession{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}

// FindByIDWithPreload finds a record by ID with preloading
func FindByIDWithPreload[T any](db *gorm.DB, id string, model *T, preloads ...string) error {
	query := db
	for _, preload := range preloads {
		query = query.Preload(preload)
	}
	return query.Where("id = ?", id).First(model).Error
}
