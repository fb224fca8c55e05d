package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gigwork-dev/gigwork/internal/autherr"
	"github.com/gigwork-dev/gigwork/internal/credstore"
	"github.com/gigwork-dev/gigwork/internal/lifecycle"
	"github.com/gigwork-dev/gigwork/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// mockIdentity is an in-memory identity provider
type mockIdentity struct {
	mu sync.Mutex

	session    *models.Session
	sessionErr error

	// refreshed is returned by RefreshSession and becomes the current session
	refreshed  *models.Session
	refreshErr error
	// refreshStarted is closed when RefreshSession is entered; the call then
	// waits for releaseRefresh to be closed
	refreshStarted chan struct{}
	releaseRefresh chan struct{}
	refreshCalls   int

	serverSessions map[string]*models.AuthenticatedProfile
	invalidated    []string
	signOutCalls   int
	// incremented by SignOut; refreshes started before it are dropped
	epoch int

	listeners map[int]func(models.AuthEvent)
	nextID    int
}

func newMockIdentity() *mockIdentity {
	return &mockIdentity{
		serverSessions: make(map[string]*models.AuthenticatedProfile),
		listeners:      make(map[int]func(models.AuthEvent)),
	}
}

func (m *mockIdentity) GetCurrentSession(ctx context.Context) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionErr != nil {
		return nil, m.sessionErr
	}
	return m.session, nil
}

// RefreshSession installs refreshed and announces it, like the real provider.
// A refresh that completes after a sign-out is dropped.
func (m *mockIdentity) RefreshSession(ctx context.Context) (*models.Session, error) {
	m.mu.Lock()
	m.refreshCalls++
	started, release := m.refreshStarted, m.releaseRefresh
	epoch := m.epoch
	m.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}

	m.mu.Lock()
	if m.refreshErr != nil || m.refreshed == nil || epoch != m.epoch {
		err := m.refreshErr
		m.mu.Unlock()
		return nil, err
	}
	refreshed := *m.refreshed
	m.session = &refreshed
	m.mu.Unlock()

	m.emit(models.AuthEvent{Type: models.EventNewSession, Session: &refreshed})
	return &refreshed, nil
}

// issue installs session as current and announces it, as a sign-in does
func (m *mockIdentity) issue(session *models.Session) {
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	m.emit(models.AuthEvent{Type: models.EventNewSession, Session: session})
}

// SignOut drops the session and announces it, like the real provider
func (m *mockIdentity) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.signOutCalls++
	m.epoch++
	had := m.session != nil
	m.session = nil
	m.mu.Unlock()

	if had {
		m.emit(models.AuthEvent{Type: models.EventSignedOut})
	}
	return nil
}

func (m *mockIdentity) OnAuthChange(callback func(models.AuthEvent)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = callback
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *mockIdentity) ValidateServerSession(ctx context.Context, sessionID string) (*models.AuthenticatedProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.serverSessions[sessionID]
	if !ok {
		return nil, autherr.ErrInvalidSession
	}
	return resp, nil
}

func (m *mockIdentity) InvalidateServerSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, sessionID)
	delete(m.serverSessions, sessionID)
	return nil
}

func (m *mockIdentity) emit(event models.AuthEvent) {
	m.mu.Lock()
	callbacks := make([]func(models.AuthEvent), 0, len(m.listeners))
	for _, cb := range m.listeners {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(event)
	}
}

func (m *mockIdentity) listenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func (m *mockIdentity) refreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls
}

func (m *mockIdentity) signOutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signOutCalls
}

// mockProfiles maps bearer tokens to profiles
type mockProfiles struct {
	mu       sync.Mutex
	profiles map[string]*models.AuthenticatedProfile
	err      error
	calls    int
}

func newMockProfiles() *mockProfiles {
	return &mockProfiles{profiles: make(map[string]*models.AuthenticatedProfile)}
}

func (m *mockProfiles) GetAuthenticatedProfile(ctx context.Context, bearerToken string) (*models.AuthenticatedProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	resp, ok := m.profiles[bearerToken]
	if !ok {
		return nil, autherr.ErrUnauthorized
	}
	return resp, nil
}

// failingBackend reads from an in-memory backend but refuses writes, and
// reads too when failReads is set
type failingBackend struct {
	*credstore.MemoryBackend
	failReads bool
}

func (b failingBackend) Get(key string) (string, error) {
	if b.failReads {
		return "", errors.New("keychain locked")
	}
	return b.MemoryBackend.Get(key)
}

func (failingBackend) Set(key, value string) error {
	return errors.New("disk full")
}

func artist(id string) *models.AuthenticatedProfile {
	return &models.AuthenticatedProfile{
		User:    &models.User{BaseModel: models.BaseModel{ID: id}, Phone: "+15550100", Role: models.RoleArtist},
		Profile: models.Profile(`{"bio":"painter"}`),
	}
}

func sessionExpiringIn(token string, d time.Duration) *models.Session {
	return &models.Session{
		AccessToken:  token,
		RefreshToken: "rt-" + token,
		ExpiresAt:    testNow.Add(d).Unix(),
	}
}

type harness struct {
	identity *mockIdentity
	profiles *mockProfiles
	store    *credstore.Store
	tracker  *lifecycle.Tracker
}

func newHarness() *harness {
	return &harness{
		identity: newMockIdentity(),
		profiles: newMockProfiles(),
		store:    credstore.New(credstore.NewMemoryBackend()),
		tracker:  lifecycle.NewTracker(lifecycle.Active),
	}
}

func (h *harness) facade(opts ...func(*Options)) *Facade {
	o := Options{
		Identity:    h.identity,
		Profiles:    h.profiles,
		Store:       h.store,
		AppState:    h.tracker,
		Logger:      zerolog.Nop(),
		Development: true,
		Now:         func() time.Time { return testNow },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return New(o)
}

// stateRecorder collects published states
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
