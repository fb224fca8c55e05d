package session

import (
	"context"

	"github.com/gigwork-dev/gigwork/internal/lifecycle"
	"github.com/gigwork-dev/gigwork/internal/models"
)

// IdentityBackend is the remote identity provider plus the server-session
// endpoints of the application backend
type IdentityBackend interface {
	// GetCurrentSession returns nil when there is no usable session
	GetCurrentSession(ctx context.Context) (*models.Session, error)
	// RefreshSession returns nil when the provider rejects the refresh
	RefreshSession(ctx context.Context) (*models.Session, error)
	SignOut(ctx context.Context) error
	OnAuthChange(callback func(models.AuthEvent)) (unsubscribe func())
	ValidateServerSession(ctx context.Context, sessionID string) (*models.AuthenticatedProfile, error)
	InvalidateServerSession(ctx context.Context, sessionID string) error
}

// ProfileService returns the user and business profile behind a bearer token
type ProfileService interface {
	GetAuthenticatedProfile(ctx context.Context, bearerToken string) (*models.AuthenticatedProfile, error)
}

// CredentialStore is durable storage for credentials. Getters return zero
// values when nothing is stored.
type CredentialStore interface {
	BearerToken() (string, error)
	SetBearerToken(token string) error
	ServerSessionID() (string, error)
	SetServerSessionID(id string) error
	CachedUser() (*models.User, error)
	SetCachedUser(user *models.User) error
	Clear() error
}

// AppStateSource reports app foreground/background changes
type AppStateSource interface {
	OnAppStateChange(callback func(lifecycle.State)) (unsubscribe func())
}

// stateReporter is implemented by sources that know the current app state
type stateReporter interface {
	State() lifecycle.State
}
