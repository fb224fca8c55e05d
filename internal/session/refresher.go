package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gigwork-dev/gigwork/internal/autherr"
	"github.com/gigwork-dev/gigwork/internal/models"
)

// DefaultRefreshThreshold is how close to expiry a session gets renewed
const DefaultRefreshThreshold = 300 * time.Second

// Refresher renews the identity-provider session before it expires
type Refresher struct {
	facade    *Facade
	threshold time.Duration
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func newRefresher(f *Facade, threshold time.Duration, now func() time.Time) *Refresher {
	return &Refresher{facade: f, threshold: threshold, now: now}
}

// CheckAndRefresh renews the identity-provider session when it expires within
// the threshold, and stores the new bearer token. A session without expiry, a
// rejected refresh or a network failure leave everything as it was. It
// reports whether a refreshed session was committed.
func (r *Refresher) CheckAndRefresh(ctx context.Context) bool {
	f := r.facade
	logger := f.logger.With().Str("component", "refresher").Logger()

	gen, _ := f.snapshot()

	current, err := f.identity.GetCurrentSession(ctx)
	if err != nil {
		logger.Debug().Err(err).Str("error_kind", autherr.Kind(err)).Msg("Could not read identity session")
		return false
	}
	if current == nil || !current.HasExpiry() {
		return false
	}

	remaining := current.ExpiresIn(r.now())
	if remaining >= r.threshold {
		logger.Debug().Dur("expires_in", remaining).Msg("Session refresh not due yet")
		return false
	}

	refreshed, err := f.identity.RefreshSession(ctx)
	if err != nil || refreshed == nil || refreshed.AccessToken == "" {
		logger.Debug().Err(err).Str("error_kind", autherr.Kind(err)).Msg("Session refresh did not succeed")
		return false
	}

	committed, err := f.commit(gen, func(cur State) (State, error) {
		if cur.Mode != ModeIdentitySession {
			return cur, errNotIdentityMode
		}
		if err := f.store.SetBearerToken(refreshed.AccessToken); err != nil {
			return State{}, err
		}
		next := cur
		next.IdentitySession = refreshed
		return next, nil
	})
	if err != nil && !errors.Is(err, errNotIdentityMode) {
		logger.Warn().Err(err).Msg("Failed to persist refreshed bearer token")
	}
	if err == nil && !committed && r.adopted(refreshed) {
		// The provider's NEW_SESSION event already installed the renewed session
		committed = true
	}
	if !committed || err != nil {
		logger.Debug().Msg("Discarding refreshed session, state changed while refreshing")
		return false
	}

	logger.Info().
		Time("expires_at", time.Unix(refreshed.ExpiresAt, 0)).
		Msg("Identity session refreshed")
	return true
}

// adopted reports whether the published state already carries session
func (r *Refresher) adopted(session *models.Session) bool {
	_, cur := r.facade.snapshot()
	return cur.Mode == ModeIdentitySession &&
		cur.IdentitySession != nil &&
		cur.IdentitySession.AccessToken == session.AccessToken
}

var errNotIdentityMode = errors.New("not in identity-provider-session mode")

// Schedule runs CheckAndRefresh on a cron schedule, e.g. "*/5 * * * *" or
// "@every 1m", until Stop is called or ctx is done
func (r *Refresher) Schedule(ctx context.Context, spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return fmt.Errorf("refresh schedule already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		r.facade.safely("scheduled refresh", func() {
			r.CheckAndRefresh(ctx)
		})
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule '%s': %w", spec, err)
	}

	c.Start()
	r.cron = c
	return nil
}

// Stop cancels the schedule started by Schedule
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		c.Stop()
	}
}
