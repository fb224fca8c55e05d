// Package identity is the client for the remote identity provider and for the
// server-session endpoints of the application backend.
//
// The client owns the long-lived identity-provider session: it persists it
// through a SessionStorage, renews it on request and tells subscribers about
// sign-outs and newly issued sessions.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gigwork-dev/gigwork/internal/autherr"
	"github.com/gigwork-dev/gigwork/internal/client"
	"github.com/gigwork-dev/gigwork/internal/models"
)

// SessionStorage persists the identity-provider session across restarts
type SessionStorage interface {
	LoadIdentitySession() (*models.Session, error)
	SaveIdentitySession(session *models.Session) error
	DeleteIdentitySession() error
}

// Options configures a Client
type Options struct {
	IdentityURL string // identity provider, serves /auth/v1/*
	APIURL      string // application backend, serves /api/*
	Storage     SessionStorage
	Logger      zerolog.Logger
	HTTPClient  *http.Client
}

// Client talks to the identity provider and the application backend
type Client struct {
	identity *client.Client
	api      *client.Client
	storage  SessionStorage
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	session *models.Session
	loaded  bool
	epoch   uint64 // incremented by SignOut; stale refreshes are dropped

	listenersMu sync.Mutex
	listeners   map[uint64]func(models.AuthEvent)
	nextID      uint64
}

// New creates an identity client
func New(opts Options) *Client {
	c := &Client{
		identity:  client.New(opts.IdentityURL),
		api:       client.New(opts.APIURL),
		storage:   opts.Storage,
		logger:    opts.Logger,
		now:       time.Now,
		listeners: make(map[uint64]func(models.AuthEvent)),
	}
	if opts.HTTPClient != nil {
		c.identity.SetHTTPClient(opts.HTTPClient)
		c.api.SetHTTPClient(opts.HTTPClient)
	}
	return c
}

// tokenRequest is the body of a refresh-token grant
type tokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// OTPRequest asks for a one-time code to be sent to a phone
type OTPRequest struct {
	Phone string `json:"phone"`
}

// VerifyRequest redeems a one-time code
type VerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// TokenResponse carries a bearer token issued by the application backend
type TokenResponse struct {
	Token string `json:"token"`
}

// ServerSessionResponse carries a server session identifier
type ServerSessionResponse struct {
	SessionID string `json:"session_id"`
}

func copySession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	dup := *s
	return &dup
}

// current returns the in-memory session, loading it from storage on first use
func (c *Client) current() (*models.Session, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded && c.storage != nil {
		session, err := c.storage.LoadIdentitySession()
		if err != nil {
			return nil, c.epoch, err
		}
		c.session = session
	}
	c.loaded = true

	return copySession(c.session), c.epoch, nil
}

// drop forgets a session the provider no longer accepts, without emitting a sign-out
func (c *Client) drop(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return
	}
	c.session = nil
	if c.storage != nil {
		if err := c.storage.DeleteIdentitySession(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to delete rejected identity session")
		}
	}
}

// adopt installs a freshly issued session unless a sign-out happened since epoch
func (c *Client) adopt(session *models.Session, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return false
	}
	c.session = copySession(session)
	c.loaded = true
	if c.storage != nil {
		if err := c.storage.SaveIdentitySession(session); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to persist identity session")
		}
	}
	return true
}

// GetCurrentSession returns the current identity-provider session, or nil
// when there is none. An expired session is renewed first; if the provider
// rejects the renewal the session is forgotten and nil is returned.
func (c *Client) GetCurrentSession(ctx context.Context) (*models.Session, error) {
	session, epoch, err := c.current()
	if err != nil || session == nil {
		return nil, err
	}

	if !session.Expired(c.now()) {
		return session, nil
	}

	refreshed, rejected, err := c.refresh(ctx, session, epoch)
	if rejected {
		c.drop(epoch)
		return nil, nil
	}
	return refreshed, err
}

// RefreshSession asks the provider for a renewed session. A rejected refresh
// returns nil without error; the current session is left in place.
func (c *Client) RefreshSession(ctx context.Context) (*models.Session, error) {
	session, epoch, err := c.current()
	if err != nil || session == nil {
		return nil, err
	}

	refreshed, _, err := c.refresh(ctx, session, epoch)
	return refreshed, err
}

func (c *Client) refresh(ctx context.Context, session *models.Session, epoch uint64) (*models.Session, bool, error) {
	if session.RefreshToken == "" {
		return nil, true, nil
	}

	var refreshed models.Session
	err := c.identity.Do(ctx, http.MethodPost, "/auth/v1/token", "", tokenRequest{RefreshToken: session.RefreshToken}, &refreshed)
	if err != nil {
		if client.HasStatus(err, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden) {
			c.logger.Debug().Err(err).Msg("Identity provider rejected session refresh")
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("failed to refresh session: %w", err)
	}

	if !c.adopt(&refreshed, epoch) {
		c.logger.Debug().Msg("Discarding session refresh that completed after sign-out")
		return nil, false, nil
	}

	c.emit(models.AuthEvent{Type: models.EventNewSession, Session: copySession(&refreshed)})
	return copySession(&refreshed), false, nil
}

// RequestOTP asks the identity provider to send a one-time code to phone
func (c *Client) RequestOTP(ctx context.Context, phone string) error {
	if err := c.identity.Do(ctx, http.MethodPost, "/auth/v1/otp", "", OTPRequest{Phone: phone}, nil); err != nil {
		return fmt.Errorf("failed to request code: %w", err)
	}
	return nil
}

// SignInWithOTP redeems a one-time code for an identity-provider session and
// announces it to subscribers
func (c *Client) SignInWithOTP(ctx context.Context, phone, code string) (*models.Session, error) {
	_, epoch, err := c.current()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load previous identity session")
	}

	var session models.Session
	if err := c.identity.Do(ctx, http.MethodPost, "/auth/v1/verify", "", VerifyRequest{Phone: phone, Code: code}, &session); err != nil {
		if client.HasStatus(err, http.StatusBadRequest, http.StatusUnauthorized) {
			return nil, fmt.Errorf("code rejected: %w: %w", autherr.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("failed to verify code: %w", err)
	}

	if !c.adopt(&session, epoch) {
		return nil, fmt.Errorf("signed out while signing in")
	}

	c.emit(models.AuthEvent{Type: models.EventNewSession, Session: copySession(&session)})
	return copySession(&session), nil
}

// SignOut ends the identity-provider session. It is idempotent: without a
// session it does nothing. The local session is forgotten even when the
// provider cannot be reached.
func (c *Client) SignOut(ctx context.Context) error {
	session, _, loadErr := c.current()

	c.mu.Lock()
	c.epoch++
	c.session = nil
	c.loaded = true
	var storageErr error
	if c.storage != nil {
		storageErr = c.storage.DeleteIdentitySession()
	}
	c.mu.Unlock()

	if session == nil {
		if loadErr != nil {
			return loadErr
		}
		return storageErr
	}

	remoteErr := c.identity.Do(ctx, http.MethodPost, "/auth/v1/logout", session.AccessToken, nil, nil)
	if remoteErr != nil {
		c.logger.Warn().Err(remoteErr).Msg("Identity provider sign-out failed; local session removed")
	}

	c.emit(models.AuthEvent{Type: models.EventSignedOut})

	if storageErr != nil {
		return storageErr
	}
	return nil
}

// OnAuthChange registers callback for auth-change events and returns a
// function that removes it
func (c *Client) OnAuthChange(callback func(models.AuthEvent)) func() {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = callback
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

func (c *Client) emit(event models.AuthEvent) {
	c.listenersMu.Lock()
	callbacks := make([]func(models.AuthEvent), 0, len(c.listeners))
	for id := uint64(0); id < c.nextID; id++ {
		if cb, ok := c.listeners[id]; ok {
			callbacks = append(callbacks, cb)
		}
	}
	c.listenersMu.Unlock()

	for _, cb := range callbacks {
		cb(event)
	}
}

// ValidateServerSession exchanges a server session id for the user and
// profile it belongs to. Invalid or expired ids yield autherr.ErrInvalidSession.
func (c *Client) ValidateServerSession(ctx context.Context, sessionID string) (*models.AuthenticatedProfile, error) {
	var resp models.AuthenticatedProfile
	path := "/api/sessions/" + url.PathEscape(sessionID)
	if err := c.api.Do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		if client.HasStatus(err, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound) {
			return nil, fmt.Errorf("server session rejected: %w: %w", autherr.ErrInvalidSession, err)
		}
		return nil, fmt.Errorf("failed to validate server session: %w", err)
	}

	if resp.User == nil {
		return nil, fmt.Errorf("server session response has no user: %w", autherr.ErrInvalidSession)
	}

	return &resp, nil
}

// InvalidateServerSession ends a server session on the application backend
func (c *Client) InvalidateServerSession(ctx context.Context, sessionID string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID)
	if err := c.api.Do(ctx, http.MethodDelete, path, "", nil, nil); err != nil {
		return fmt.Errorf("failed to invalidate server session: %w", err)
	}
	return nil
}

// CreateServerSession redeems a one-time code for a server session id
func (c *Client) CreateServerSession(ctx context.Context, phone, code string) (string, error) {
	var resp ServerSessionResponse
	if err := c.api.Do(ctx, http.MethodPost, "/api/sessions", "", VerifyRequest{Phone: phone, Code: code}, &resp); err != nil {
		if client.HasStatus(err, http.StatusBadRequest, http.StatusUnauthorized) {
			return "", fmt.Errorf("code rejected: %w: %w", autherr.ErrUnauthorized, err)
		}
		return "", fmt.Errorf("failed to create server session: %w", err)
	}
	return resp.SessionID, nil
}

// IssueBearerToken redeems a one-time code for a bearer token usable with the profile service
func (c *Client) IssueBearerToken(ctx context.Context, phone, code string) (string, error) {
	var resp TokenResponse
	if err := c.api.Do(ctx, http.MethodPost, "/api/auth/token", "", VerifyRequest{Phone: phone, Code: code}, &resp); err != nil {
		if client.HasStatus(err, http.StatusBadRequest, http.StatusUnauthorized) {
			return "", fmt.Errorf("code rejected: %w: %w", autherr.ErrUnauthorized, err)
		}
		return "", fmt.Errorf("failed to issue token: %w", err)
	}
	return resp.Token, nil
}
