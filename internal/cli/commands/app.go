package commands

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/gigwork-dev/gigwork/internal/config"
	"github.com/gigwork-dev/gigwork/internal/credstore"
	"github.com/gigwork-dev/gigwork/internal/identity"
	"github.com/gigwork-dev/gigwork/internal/lifecycle"
	"github.com/gigwork-dev/gigwork/internal/logger"
	"github.com/gigwork-dev/gigwork/internal/profile"
	"github.com/gigwork-dev/gigwork/internal/session"
)

// App is the client stack a command runs against
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    *credstore.Store
	Identity *identity.Client
	Tracker  *lifecycle.Tracker
	Facade   *session.Facade
}

// openApp loads configuration and wires the client stack
var openApp = func() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	return NewApp(cfg, logger.GetLogger())
}

// NewApp wires the credential store, the service clients and the session
// facade described by cfg. The facade is not initialized.
func NewApp(cfg *config.Config, log zerolog.Logger) (*App, error) {
	store, err := credstore.Open(credstore.Options{
		Kind:    cfg.Credentials.Backend,
		Path:    cfg.Credentials.Path,
		Service: credstore.DefaultKeyringService,
		Account: keyringAccount(cfg.Client.APIURL),
	})
	if err != nil {
		return nil, err
	}

	return newStack(cfg, log, store), nil
}

func newStack(cfg *config.Config, log zerolog.Logger, store *credstore.Store) *App {
	httpClient := &http.Client{Timeout: cfg.Client.HTTPTimeout}

	identityClient := identity.New(identity.Options{
		IdentityURL: cfg.Client.IdentityURL,
		APIURL:      cfg.Client.APIURL,
		Storage:     store,
		Logger:      log.With().Str("component", "identity").Logger(),
		HTTPClient:  httpClient,
	})

	profiles := profile.New(cfg.Client.APIURL)
	profiles.SetHTTPClient(httpClient)

	tracker := lifecycle.NewTracker(lifecycle.Active)

	facade := session.New(session.Options{
		Identity:         identityClient,
		Profiles:         profiles,
		Store:            store,
		AppState:         tracker,
		Logger:           log.With().Str("component", "session").Logger(),
		Development:      cfg.Session.Development,
		RefreshThreshold: cfg.Session.RefreshThreshold,
		RefreshSchedule:  cfg.Session.RefreshSchedule,
	})

	return &App{
		Config:   cfg,
		Logger:   log,
		Store:    store,
		Identity: identityClient,
		Tracker:  tracker,
		Facade:   facade,
	}
}

// Close releases the facade's subscriptions
func (a *App) Close() {
	a.Facade.Dispose()
}

// keyringAccount namespaces keychain items by backend host
func keyringAccount(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

// describeState renders a facade state for humans
func describeState(state session.State) string {
	if state.Loading {
		return "Resolving session..."
	}
	if !state.Authenticated() {
		return "Not signed in"
	}

	s := fmt.Sprintf("Signed in via %s", state.Mode)
	if state.User != nil {
		s += fmt.Sprintf(" as %s (%s)", state.User.DisplayName(), state.User.Role)
	}
	return s
}
