// Package session decides, at any moment, whether the app is authenticated
// and under which strategy.
//
// A Facade is the only surface the UI layer consumes. Init resolves the
// active strategy once at startup (identity-provider session, then server
// session, then bearer token); afterwards a Monitor keeps the state in step
// with identity-provider events and app foreground transitions, and a
// Refresher renews the identity-provider session before it expires.
//
// Every transition replaces the published State wholesale. Work that spans a
// network call captures a generation number first and is discarded if a
// logout or sign-out happened in the meantime.
package session

import (
	"bytes"
	"fmt"

	"github.com/gigwork-dev/gigwork/internal/models"
)

// Mode is the active authentication strategy
type Mode string

const (
	ModeIdentitySession Mode = "identity-provider-session"
	ModeBearerToken     Mode = "bearer-token"
	ModeServerSession   Mode = "server-session"
	ModeNone            Mode = "none"
)

// ParseMode converts a strategy name to a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeIdentitySession, ModeBearerToken, ModeServerSession, ModeNone:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid mode '%s'", s)
	}
}

// State is the value published by the Facade
type State struct {
	Mode            Mode
	Loading         bool
	IdentitySession *models.Session
	User            *models.User
	Profile         models.Profile
}

// Authenticated reports whether a strategy is active
func (s State) Authenticated() bool {
	return s.Mode != ModeNone
}

// clone returns a deep copy so callers can't mutate published state
func (s State) clone() State {
	out := s
	if s.IdentitySession != nil {
		session := *s.IdentitySession
		out.IdentitySession = &session
	}
	if s.User != nil {
		user := *s.User
		out.User = &user
	}
	if s.Profile != nil {
		out.Profile = bytes.Clone(s.Profile)
	}
	return out
}

// equal reports whether two states would render the same
func (s State) equal(o State) bool {
	if s.Mode != o.Mode || s.Loading != o.Loading {
		return false
	}
	if (s.IdentitySession == nil) != (o.IdentitySession == nil) ||
		(s.IdentitySession != nil && *s.IdentitySession != *o.IdentitySession) {
		return false
	}
	if (s.User == nil) != (o.User == nil) || (s.User != nil && *s.User != *o.User) {
		return false
	}
	return bytes.Equal(s.Profile, o.Profile)
}

func initialState() State {
	return State{Mode: ModeNone, Loading: true}
}

func signedOutState(loading bool) State {
	return State{Mode: ModeNone, Loading: loading}
}
