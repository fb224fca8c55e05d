package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gigwork-dev/gigwork/internal/autherr"
)

// DefaultCallbackTimeout bounds the work triggered by a lifecycle event
const DefaultCallbackTimeout = 30 * time.Second

// Options configures a Facade
type Options struct {
	Identity IdentityBackend
	Profiles ProfileService
	Store    CredentialStore
	AppState AppStateSource // optional

	Logger zerolog.Logger
	// Development enables logging of swallowed lifecycle callback failures
	Development bool

	// RefreshThreshold defaults to DefaultRefreshThreshold
	RefreshThreshold time.Duration
	// RefreshSchedule is an optional cron spec for periodic refresh checks
	RefreshSchedule string
	// CallbackTimeout defaults to DefaultCallbackTimeout
	CallbackTimeout time.Duration

	// Strategies overrides DefaultStrategies
	Strategies []Strategy
	// Now overrides time.Now
	Now func() time.Time
}

// Facade is the single surface the app consumes. Construct one per process
// with New, call Init once at startup and Dispose on teardown.
type Facade struct {
	identity IdentityBackend
	profiles ProfileService
	store    CredentialStore
	logger   zerolog.Logger
	dev      bool

	resolver  *Resolver
	monitor   *Monitor
	refresher *Refresher
	schedule  string

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	generation uint64

	// >0 while the facade itself is tearing down an identity session
	ownSignOuts atomic.Int32

	subsMu      sync.Mutex
	subscribers map[uint64]func(State)
	nextSubID   uint64

	// publish bookkeeping: one goroutine delivers at a time, the others
	// leave a pending mark for it
	publishMu  sync.Mutex
	delivering bool
	pending    bool

	initOnce    sync.Once
	disposeOnce sync.Once
}

// New creates a facade in the loading state. Nothing is resolved or
// subscribed until Init.
func New(opts Options) *Facade {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	threshold := opts.RefreshThreshold
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	callbackTimeout := opts.CallbackTimeout
	if callbackTimeout <= 0 {
		callbackTimeout = DefaultCallbackTimeout
	}
	strategies := opts.Strategies
	if strategies == nil {
		strategies = DefaultStrategies(opts.Identity, opts.Profiles, opts.Store, opts.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	f := &Facade{
		identity:    opts.Identity,
		profiles:    opts.Profiles,
		store:       opts.Store,
		logger:      opts.Logger,
		dev:         opts.Development,
		resolver:    NewResolver(opts.Logger, strategies...),
		schedule:    opts.RefreshSchedule,
		ctx:         ctx,
		cancel:      cancel,
		state:       initialState(),
		subscribers: make(map[uint64]func(State)),
	}
	f.refresher = newRefresher(f, threshold, now)
	f.monitor = newMonitor(f, opts.AppState, callbackTimeout)
	return f
}

// Init acquires the lifecycle subscriptions and runs startup resolution.
// Only the first call does anything; Loading is false when it returns.
func (f *Facade) Init(ctx context.Context) error {
	var err error
	f.initOnce.Do(func() {
		f.monitor.start()

		if f.schedule != "" {
			if scheduleErr := f.refresher.Schedule(f.ctx, f.schedule); scheduleErr != nil {
				err = scheduleErr
			}
		}

		gen, _ := f.snapshot()
		resolution := f.resolver.Resolve(ctx)
		f.finishResolution(gen, resolution)
	})
	return err
}

// Dispose releases the subscriptions acquired by Init and stops scheduled
// refreshes. It is safe to call more than once.
func (f *Facade) Dispose() {
	f.disposeOnce.Do(func() {
		f.cancel()
		f.monitor.stop()
		f.refresher.Stop()

		f.subsMu.Lock()
		f.subscribers = make(map[uint64]func(State))
		f.subsMu.Unlock()
	})
}

// CurrentState returns a snapshot of the published state
func (f *Facade) CurrentState() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.clone()
}

// Refresher returns the facade's session refresher
func (f *Facade) Refresher() *Refresher {
	return f.refresher
}

// Subscribe registers fn to receive every published state and returns a
// function that removes it. fn must not block.
func (f *Facade) Subscribe(fn func(State)) func() {
	f.subsMu.Lock()
	id := f.nextSubID
	f.nextSubID++
	f.subscribers[id] = fn
	f.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.subsMu.Lock()
			delete(f.subscribers, id)
			f.subsMu.Unlock()
		})
	}
}

// MarkAuthenticated switches to the bearer-token or server-session strategy
// after a login flow has stored the matching credential. On failure the state
// becomes ModeNone and the returned error wraps autherr.ErrSignInFailed.
func (f *Facade) MarkAuthenticated(ctx context.Context, mode Mode) error {
	if mode != ModeBearerToken && mode != ModeServerSession {
		return fmt.Errorf("cannot mark authenticated via %q: %w", mode, autherr.ErrSignInFailed)
	}

	gen, prev := f.advance()

	if prev.Mode == ModeIdentitySession {
		f.endIdentitySession(ctx, prev)
	}

	resolution, err := f.authenticate(ctx, mode)
	if err == nil {
		var committed bool
		committed, err = f.commit(gen, func(cur State) (State, error) {
			if err := resolution.persist(f.store); err != nil {
				return State{}, err
			}
			next := resolution.State
			next.Loading = cur.Loading
			return next, nil
		})
		if err == nil && !committed {
			return fmt.Errorf("%w: superseded by a concurrent sign-out", autherr.ErrSignInFailed)
		}
	}

	if err != nil {
		f.logger.Warn().
			Err(err).
			Str("mode", string(mode)).
			Str("error_kind", autherr.Kind(err)).
			Msg("Sign-in failed")

		f.commit(gen, func(cur State) (State, error) {
			return signedOutState(cur.Loading), nil
		})
		return fmt.Errorf("%w: %w", autherr.ErrSignInFailed, err)
	}

	f.logger.Info().Str("mode", string(mode)).Msg("Signed in")
	return nil
}

func (f *Facade) authenticate(ctx context.Context, mode Mode) (*Resolution, error) {
	switch mode {
	case ModeServerSession:
		return (&serverSessionStrategy{identity: f.identity, store: f.store}).Resolve(ctx)
	default:
		return (&bearerTokenStrategy{profiles: f.profiles, store: f.store}).Resolve(ctx)
	}
}

// endIdentitySession signs out of the identity provider without treating
// the resulting SIGNED_OUT event as a logout
func (f *Facade) endIdentitySession(ctx context.Context, prev State) {
	f.ownSignOuts.Add(1)
	defer f.ownSignOuts.Add(-1)

	if err := f.identity.SignOut(ctx); err != nil {
		f.logger.Warn().Err(err).Msg("Failed to end identity session before switching strategy")
	}

	// The stored bearer token belonged to the identity session
	if prev.IdentitySession != nil {
		if token, err := f.store.BearerToken(); err == nil && token == prev.IdentitySession.AccessToken {
			if err := f.store.SetBearerToken(""); err != nil {
				f.logger.Warn().Err(err).Msg("Failed to remove identity bearer token")
			}
		}
	}
}

// Logout ends every session and clears stored credentials. The state is
// ModeNone afterwards even when an error is returned. Calling it while
// already signed out is a no-op apart from the idempotent backend calls.
func (f *Facade) Logout(ctx context.Context) error {
	f.mu.Lock()
	prev := f.state
	f.generation++
	next := signedOutState(prev.Loading)
	changed := !prev.equal(next)
	f.state = next
	f.mu.Unlock()

	if changed {
		f.publish()
	}

	var errs []error

	// Any stored server session is ended, including one Init had not
	// resolved yet
	sessionID, err := f.store.ServerSessionID()
	switch {
	case err != nil:
		f.logger.Warn().Err(err).Msg("Failed to read server session id for invalidation")
	case sessionID != "":
		if err := f.identity.InvalidateServerSession(ctx, sessionID); err != nil {
			f.logger.Debug().Err(err).Msg("Server session invalidation failed, ignoring")
		}
	}

	if err := f.identity.SignOut(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := f.store.Clear(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		f.logger.Warn().Err(err).Str("error_kind", autherr.Kind(err)).Msg("Logout completed with errors")
		return fmt.Errorf("logout: %w", err)
	}

	if changed {
		f.logger.Info().Str("previous_mode", string(prev.Mode)).Msg("Logged out")
	}
	return nil
}

// snapshot returns the current generation and state
func (f *Facade) snapshot() (uint64, State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation, f.state.clone()
}

// advance starts a new generation, invalidating in-flight work
func (f *Facade) advance() (uint64, State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	return f.generation, f.state.clone()
}

// commit applies fn to the current state if no newer generation started
// since gen. fn runs under the state lock, so credential writes it performs
// are never interleaved with a logout. An error from fn leaves the state
// untouched.
func (f *Facade) commit(gen uint64, fn func(cur State) (State, error)) (bool, error) {
	f.mu.Lock()
	if gen != f.generation {
		f.mu.Unlock()
		return false, nil
	}

	next, err := fn(f.state)
	if err != nil {
		f.mu.Unlock()
		return false, err
	}

	changed := !f.state.equal(next)
	f.state = next
	f.mu.Unlock()

	if changed {
		f.publish()
	}
	return true, nil
}

// finishResolution publishes the startup result and clears Loading. A
// resolution overtaken by another transition only clears Loading.
func (f *Facade) finishResolution(gen uint64, resolution *Resolution) {
	f.mu.Lock()
	if gen == f.generation {
		if err := resolution.persist(f.store); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to persist resolved credentials")
		}
		f.state = resolution.State
	}
	f.state.Loading = false
	f.mu.Unlock()

	f.publish()
}

// publish delivers the latest state to subscribers, one delivery at a time.
// A publish that arrives during a delivery, including one triggered by a
// subscriber, is folded into a follow-up delivery of the newest state.
func (f *Facade) publish() {
	f.publishMu.Lock()
	f.pending = true
	if f.delivering {
		f.publishMu.Unlock()
		return
	}
	f.delivering = true

	for f.pending {
		f.pending = false
		f.publishMu.Unlock()
		f.deliver(f.CurrentState())
		f.publishMu.Lock()
	}

	f.delivering = false
	f.publishMu.Unlock()
}

func (f *Facade) deliver(state State) {
	f.subsMu.Lock()
	subscribers := make([]func(State), 0, len(f.subscribers))
	for id := uint64(0); id < f.nextSubID; id++ {
		if fn, ok := f.subscribers[id]; ok {
			subscribers = append(subscribers, fn)
		}
	}
	f.subsMu.Unlock()

	for _, fn := range subscribers {
		f.safely("subscriber", func() { fn(state.clone()) })
	}
}

// safely runs fn, swallowing panics
func (f *Facade) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			f.devLogger().Error().Interface("panic", r).Str("callback", what).Msg("Callback panicked")
		}
	}()
	fn()
}

// devLogger returns the logger for swallowed failures, silent outside development
func (f *Facade) devLogger() *zerolog.Logger {
	if f.dev {
		return &f.logger
	}
	nop := zerolog.Nop()
	return &nop
}
