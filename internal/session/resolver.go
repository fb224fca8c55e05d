package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gigwork-dev/gigwork/internal/autherr"
	"github.com/gigwork-dev/gigwork/internal/models"
)

// Resolution is the outcome of a successful strategy: the state to publish
// and the credentials to persist alongside it. Persisting happens when the
// state is committed, so a superseded resolution writes nothing.
type Resolution struct {
	State State

	// BearerToken is stored when non-empty
	BearerToken string
	// CachedUser replaces the cached user when non-nil
	CachedUser *models.User
}

// persist writes the resolution's credentials to store
func (r *Resolution) persist(store CredentialStore) error {
	if r.BearerToken != "" {
		if err := store.SetBearerToken(r.BearerToken); err != nil {
			return err
		}
	}
	if r.CachedUser != nil {
		if err := store.SetCachedUser(r.CachedUser); err != nil {
			return err
		}
	}
	return nil
}

// Strategy is one step of the startup fallback chain. It returns an error
// wrapping autherr.ErrNoCredential when it has nothing to try.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context) (*Resolution, error)
}

// Resolver runs strategies in order and takes the first success
type Resolver struct {
	strategies []Strategy
	logger     zerolog.Logger
}

// NewResolver creates a resolver over an ordered list of strategies
func NewResolver(logger zerolog.Logger, strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies, logger: logger}
}

// DefaultStrategies returns the standard chain: identity-provider session,
// then persisted server session, then persisted bearer token
func DefaultStrategies(identity IdentityBackend, profiles ProfileService, store CredentialStore, logger zerolog.Logger) []Strategy {
	return []Strategy{
		&identityStrategy{identity: identity, profiles: profiles, store: store, logger: logger},
		&serverSessionStrategy{identity: identity, store: store},
		&bearerTokenStrategy{profiles: profiles, store: store},
	}
}

// Resolve never fails: exhaustion yields a Resolution in ModeNone
func (r *Resolver) Resolve(ctx context.Context) *Resolution {
	for _, strategy := range r.strategies {
		resolution, err := strategy.Resolve(ctx)
		if err == nil {
			r.logger.Info().
				Str("strategy", strategy.Name()).
				Str("mode", string(resolution.State.Mode)).
				Msg("Session resolved")
			return resolution
		}

		r.logger.Debug().
			Err(err).
			Str("strategy", strategy.Name()).
			Str("error_kind", autherr.Kind(err)).
			Msg("Strategy did not resolve, trying next")
	}

	r.logger.Info().Str("mode", string(ModeNone)).Msg("No credentials resolved")
	return &Resolution{State: State{Mode: ModeNone}}
}

// fetchProfile fills user and profile from the profile service. When the
// service fails, the cached user is used instead and the error is returned
// for logging only.
func fetchProfile(ctx context.Context, profiles ProfileService, store CredentialStore, token string, res *Resolution) error {
	resp, err := profiles.GetAuthenticatedProfile(ctx, token)
	if err == nil {
		res.State.User = resp.User
		res.State.Profile = resp.Profile
		res.CachedUser = resp.User
		return nil
	}

	cached, cacheErr := store.CachedUser()
	if cacheErr == nil {
		res.State.User = cached
	}
	return err
}

type identityStrategy struct {
	identity IdentityBackend
	profiles ProfileService
	store    CredentialStore
	logger   zerolog.Logger
}

func (s *identityStrategy) Name() string { return string(ModeIdentitySession) }

func (s *identityStrategy) Resolve(ctx context.Context) (*Resolution, error) {
	session, err := s.identity.GetCurrentSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity session probe failed: %w", err)
	}
	if session == nil || session.AccessToken == "" {
		return nil, fmt.Errorf("no identity session: %w", autherr.ErrNoCredential)
	}

	res := &Resolution{
		State:       State{Mode: ModeIdentitySession, IdentitySession: session},
		BearerToken: session.AccessToken,
	}
	if err := fetchProfile(ctx, s.profiles, s.store, session.AccessToken, res); err != nil {
		s.logger.Warn().
			Err(err).
			Str("error_kind", autherr.Kind(err)).
			Bool("cached_user", res.State.User != nil).
			Msg("Profile fetch failed for identity session, using cached user")
	}
	return res, nil
}

type serverSessionStrategy struct {
	identity IdentityBackend
	store    CredentialStore
}

func (s *serverSessionStrategy) Name() string { return string(ModeServerSession) }

func (s *serverSessionStrategy) Resolve(ctx context.Context) (*Resolution, error) {
	sessionID, err := s.store.ServerSessionID()
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, fmt.Errorf("no server session id: %w", autherr.ErrNoCredential)
	}

	resp, err := s.identity.ValidateServerSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		State:      State{Mode: ModeServerSession, User: resp.User, Profile: resp.Profile},
		CachedUser: resp.User,
	}, nil
}

type bearerTokenStrategy struct {
	profiles ProfileService
	store    CredentialStore
}

func (s *bearerTokenStrategy) Name() string { return string(ModeBearerToken) }

func (s *bearerTokenStrategy) Resolve(ctx context.Context) (*Resolution, error) {
	token, err := s.store.BearerToken()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("no bearer token: %w", autherr.ErrNoCredential)
	}

	resp, err := s.profiles.GetAuthenticatedProfile(ctx, token)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		State:      State{Mode: ModeBearerToken, User: resp.User, Profile: resp.Profile},
		CachedUser: resp.User,
	}, nil
}
