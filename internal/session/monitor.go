package session

import (
	"context"
	"sync"
	"time"

	"github.com/gigwork-dev/gigwork/internal/autherr"
	"github.com/gigwork-dev/gigwork/internal/lifecycle"
	"github.com/gigwork-dev/gigwork/internal/models"
)

// Monitor keeps the facade's state consistent with identity-provider events
// and app foreground transitions
type Monitor struct {
	facade   *Facade
	appState AppStateSource
	timeout  time.Duration

	mu          sync.Mutex
	last        lifecycle.State
	unsubscribe []func()
}

func newMonitor(f *Facade, appState AppStateSource, timeout time.Duration) *Monitor {
	last := lifecycle.Active
	if reporter, ok := appState.(stateReporter); ok {
		last = reporter.State()
	}
	return &Monitor{facade: f, appState: appState, timeout: timeout, last: last}
}

func (m *Monitor) start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.facade.identity != nil {
		m.unsubscribe = append(m.unsubscribe, m.facade.identity.OnAuthChange(m.handleAuthEvent))
	}
	if m.appState != nil {
		m.unsubscribe = append(m.unsubscribe, m.appState.OnAppStateChange(m.handleAppState))
	}
}

func (m *Monitor) stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
}

func (m *Monitor) callbackContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(m.facade.ctx, m.timeout)
}

func (m *Monitor) handleAuthEvent(event models.AuthEvent) {
	m.facade.safely("auth change", func() {
		switch event.Type {
		case models.EventSignedOut:
			m.onSignedOut()
		case models.EventNewSession:
			m.onNewSession(event.Session)
		}
	})
}

// onSignedOut resets an identity-provider session. Server-session and
// bearer-token modes only end through Logout.
func (m *Monitor) onSignedOut() {
	f := m.facade
	if f.ownSignOuts.Load() > 0 {
		return
	}

	f.mu.Lock()
	cur := f.state
	if !cur.Loading && cur.Mode != ModeIdentitySession {
		f.mu.Unlock()
		return
	}
	f.generation++
	f.state = signedOutState(cur.Loading)
	err := f.store.Clear()
	f.mu.Unlock()

	if err != nil {
		f.devLogger().Warn().Err(err).Msg("Failed to clear credentials after sign-out")
	}
	f.logger.Info().Msg("Identity provider signed out")
	f.publish()
}

// onNewSession adopts a rotated or newly issued identity-provider session
func (m *Monitor) onNewSession(session *models.Session) {
	if session == nil || session.AccessToken == "" {
		return
	}
	f := m.facade

	ctx, cancel := m.callbackContext()
	defer cancel()

	gen, _ := f.advance()

	resolution := &Resolution{
		State:       State{Mode: ModeIdentitySession, IdentitySession: session},
		BearerToken: session.AccessToken,
	}
	if err := fetchProfile(ctx, f.profiles, f.store, session.AccessToken, resolution); err != nil {
		f.devLogger().Warn().
			Err(err).
			Str("error_kind", autherr.Kind(err)).
			Msg("Profile re-fetch after new session failed, using cached user")
	}

	// The provider delivers events after installing the session, so a sign-out
	// can land in between. Only the provider's current session may be adopted.
	current, err := f.identity.GetCurrentSession(ctx)
	if err != nil || current == nil || current.AccessToken != session.AccessToken {
		f.logger.Debug().Err(err).Msg("Ignoring new session that is no longer current")
		return
	}

	committed, err := f.commit(gen, func(cur State) (State, error) {
		if err := resolution.persist(f.store); err != nil {
			f.devLogger().Warn().Err(err).Msg("Failed to persist new session credentials")
		}
		next := resolution.State
		next.Loading = cur.Loading
		return next, nil
	})
	if err == nil && committed {
		f.logger.Info().Str("mode", string(ModeIdentitySession)).Msg("Adopted new identity session")
	}
}

// handleAppState runs a refresh check on every non-active to active edge
func (m *Monitor) handleAppState(next lifecycle.State) {
	m.mu.Lock()
	prev := m.last
	m.last = next
	m.mu.Unlock()

	if prev == lifecycle.Active || next != lifecycle.Active {
		return
	}

	m.facade.safely("foreground", func() {
		ctx, cancel := m.callbackContext()
		defer cancel()
		m.facade.refresher.CheckAndRefresh(ctx)
	})
}
