// Package credstore persists the client's credentials: the bearer token, the
// server session identifier, the cached user record and the identity
// provider's session. Values survive process restarts when a durable backend
// (keyring or file) is used.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gigwork-dev/gigwork/internal/autherr"
	"github.com/gigwork-dev/gigwork/internal/models"
)

// Storage keys
const (
	KeyBearerToken     = "bearer_token"
	KeyServerSessionID = "server_session_id"
	KeyCachedUser      = "cached_user"
	KeyIdentitySession = "identity_session"
)

var allKeys = []string{KeyBearerToken, KeyServerSessionID, KeyCachedUser, KeyIdentitySession}

// ErrNotFound is returned by backends for a key that holds no value
var ErrNotFound = errors.New("credential not found")

// Backend is a durable string key-value store.
// Delete must succeed when the key is already absent.
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Store exposes typed access to the credentials kept in a Backend
type Store struct {
	backend Backend
}

// New creates a store on top of backend
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) get(key string) (string, error) {
	value, err := s.backend.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w: %w", key, autherr.ErrStorage, err)
	}
	return value, nil
}

// set stores value under key; an empty value deletes the key
func (s *Store) set(key, value string) error {
	if value == "" {
		return s.delete(key)
	}
	if err := s.backend.Set(key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w: %w", key, autherr.ErrStorage, err)
	}
	return nil
}

func (s *Store) delete(key string) error {
	if err := s.backend.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete %s: %w: %w", key, autherr.ErrStorage, err)
	}
	return nil
}

// BearerToken returns the persisted bearer token, or "" when none is stored
func (s *Store) BearerToken() (string, error) {
	return s.get(KeyBearerToken)
}

// SetBearerToken persists token. An empty token removes it.
func (s *Store) SetBearerToken(token string) error {
	return s.set(KeyBearerToken, token)
}

// ServerSessionID returns the persisted server session id, or "" when none is stored
func (s *Store) ServerSessionID() (string, error) {
	return s.get(KeyServerSessionID)
}

// SetServerSessionID persists id. An empty id removes it.
func (s *Store) SetServerSessionID(id string) error {
	return s.set(KeyServerSessionID, id)
}

// CachedUser returns the user cached by the last successful profile fetch
func (s *Store) CachedUser() (*models.User, error) {
	raw, err := s.get(KeyCachedUser)
	if err != nil || raw == "" {
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("failed to decode cached user: %w: %w", autherr.ErrStorage, err)
	}
	return &user, nil
}

// SetCachedUser replaces the cached user. A nil user removes it.
func (s *Store) SetCachedUser(user *models.User) error {
	if user == nil {
		return s.delete(KeyCachedUser)
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode cached user: %w", err)
	}
	return s.set(KeyCachedUser, string(data))
}

// LoadIdentitySession returns the identity provider session persisted by the
// identity client, or nil when there is none
func (s *Store) LoadIdentitySession() (*models.Session, error) {
	raw, err := s.get(KeyIdentitySession)
	if err != nil || raw == "" {
		return nil, err
	}

	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to decode identity session: %w: %w", autherr.ErrStorage, err)
	}
	return &session, nil
}

// SaveIdentitySession persists the identity provider session
func (s *Store) SaveIdentitySession(session *models.Session) error {
	if session == nil {
		return s.DeleteIdentitySession()
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode identity session: %w", err)
	}
	return s.set(KeyIdentitySession, string(data))
}

// DeleteIdentitySession removes the identity provider session
func (s *Store) DeleteIdentitySession() error {
	return s.delete(KeyIdentitySession)
}

// Clear removes every credential. All keys are attempted even if one fails.
func (s *Store) Clear() error {
	var errs []error
	for _, key := range allKeys {
		if err := s.delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
