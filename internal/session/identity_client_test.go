package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigwork-dev/gigwork/internal/credstore"
	"github.com/gigwork-dev/gigwork/internal/identity"
	"github.com/gigwork-dev/gigwork/internal/lifecycle"
	"github.com/gigwork-dev/gigwork/internal/models"
	"github.com/gigwork-dev/gigwork/internal/profile"
)

// newProviderServer serves a refresh that rotates at-1 into at-2, a logout,
// and the profile for either token
func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.RefreshToken != "rt-at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(models.Session{
			AccessToken:  "at-2",
			RefreshToken: "rt-at-2",
			ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		})
	})
	mux.HandleFunc("POST /auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/profile/me", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") {
		case "at-1", "at-2":
			json.NewEncoder(w).Encode(artist("u1"))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// identityClientWithSession returns a real identity client whose persisted
// session at-1 expires in two minutes
func identityClientWithSession(t *testing.T, baseURL string, store *credstore.Store) *identity.Client {
	t.Helper()

	require.NoError(t, store.SaveIdentitySession(&models.Session{
		AccessToken:  "at-1",
		RefreshToken: "rt-at-1",
		ExpiresAt:    time.Now().Add(120 * time.Second).Unix(),
	}))

	return identity.New(identity.Options{
		IdentityURL: baseURL,
		APIURL:      baseURL,
		Storage:     store,
		Logger:      zerolog.Nop(),
	})
}

func facadeWithProvider(t *testing.T, idc *identity.Client, baseURL string, store *credstore.Store) *Facade {
	t.Helper()

	f := New(Options{
		Identity:    idc,
		Profiles:    profile.New(baseURL),
		Store:       store,
		AppState:    lifecycle.NewTracker(lifecycle.Active),
		Logger:      zerolog.Nop(),
		Development: true,
	})
	t.Cleanup(f.Dispose)

	require.NoError(t, f.Init(context.Background()))
	require.Equal(t, ModeIdentitySession, f.CurrentState().Mode)
	return f
}

func TestCheckAndRefresh_RotatesProviderSession(t *testing.T) {
	ts := newProviderServer(t)
	store := credstore.New(credstore.NewMemoryBackend())
	idc := identityClientWithSession(t, ts.URL, store)
	f := facadeWithProvider(t, idc, ts.URL, store)

	assert.True(t, f.Refresher().CheckAndRefresh(context.Background()))

	state := f.CurrentState()
	assert.Equal(t, ModeIdentitySession, state.Mode)
	require.NotNil(t, state.IdentitySession)
	assert.Equal(t, "at-2", state.IdentitySession.AccessToken)

	token, err := store.BearerToken()
	require.NoError(t, err)
	assert.Equal(t, "at-2", token)

	persisted, err := store.LoadIdentitySession()
	require.NoError(t, err)
	assert.Equal(t, "rt-at-2", persisted.RefreshToken)
}

func TestLogout_DuringProviderAnnouncement(t *testing.T) {
	ts := newProviderServer(t)
	store := credstore.New(credstore.NewMemoryBackend())
	idc := identityClientWithSession(t, ts.URL, store)

	// Registered before the facade, so it sees NEW_SESSION first and holds
	// the announcement open
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	idc.OnAuthChange(func(event models.AuthEvent) {
		if event.Type == models.EventNewSession {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	})

	f := facadeWithProvider(t, idc, ts.URL, store)

	done := make(chan bool, 1)
	go func() { done <- f.Refresher().CheckAndRefresh(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh was never announced")
	}
	require.NoError(t, f.Logout(context.Background()))
	close(release)

	select {
	case refreshed := <-done:
		assert.False(t, refreshed)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not finish")
	}

	state := f.CurrentState()
	assert.Equal(t, ModeNone, state.Mode)
	assert.Nil(t, state.User)

	token, err := store.BearerToken()
	require.NoError(t, err)
	assert.Empty(t, token, "no token is written after logout")

	persisted, err := store.LoadIdentitySession()
	require.NoError(t, err)
	assert.Nil(t, persisted)
}
