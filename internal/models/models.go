package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all persisted models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"-" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// Role values a marketplace account can hold
const (
	RoleArtist = "artist"
	RoleClient = "client"
)

// User is the authenticated user's record. The client receives it from the
// profile service or reconstructs it from the credential cache.
type User struct {
	BaseModel
	Phone     string    `json:"phone" gorm:"unique;not null"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role" gorm:"not null;default:artist"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	UpdatedAt time.Time `json:"-" gorm:"autoUpdateTime"`
}

// DisplayName returns "First Last", falling back to the phone number
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Phone
	}
	return name
}

// Profile is the business profile owned by the profile service. The session
// core passes it through untouched.
type Profile = json.RawMessage

// AuthenticatedProfile is the payload returned for a valid credential
type AuthenticatedProfile struct {
	User    *User   `json:"user"`
	Profile Profile `json:"profile"`
}

// Session is an identity-provider session
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // epoch seconds, 0 means the session never expires
	User         *User  `json:"user,omitempty"`
}

// HasExpiry reports whether the session carries an expiry
func (s *Session) HasExpiry() bool {
	return s.ExpiresAt > 0
}

// ExpiresIn returns the time left until expiry, relative to now
func (s *Session) ExpiresIn(now time.Time) time.Duration {
	return time.Unix(s.ExpiresAt, 0).Sub(now)
}

// Expired reports whether the session is past its expiry
func (s *Session) Expired(now time.Time) bool {
	return s.HasExpiry() && s.ExpiresIn(now) <= 0
}

// AuthEventType identifies identity-provider auth-change events
type AuthEventType string

const (
	EventSignedOut  AuthEventType = "SIGNED_OUT"
	EventNewSession AuthEventType = "NEW_SESSION"
)

// AuthEvent is delivered to auth-change subscribers
type AuthEvent struct {
	Type    AuthEventType
	Session *Session // set for EventNewSession
}
