package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigwork-dev/gigwork/internal/autherr"
	"github.com/gigwork-dev/gigwork/internal/lifecycle"
	"github.com/gigwork-dev/gigwork/internal/models"
)

func TestCheckAndRefresh(t *testing.T) {
	tests := []struct {
		name            string
		session         *models.Session
		refreshErr      error
		rejectRefresh   bool
		expectedCalls   int
		expectedRefresh bool
	}{
		{
			name:          "far from expiry",
			session:       sessionExpiringIn("at-1", 10*time.Minute),
			expectedCalls: 0,
		},
		{
			name:          "exactly at threshold",
			session:       sessionExpiringIn("at-1", DefaultRefreshThreshold),
			expectedCalls: 0,
		},
		{
			name:            "inside threshold",
			session:         sessionExpiringIn("at-1", 4*time.Minute),
			expectedCalls:   1,
			expectedRefresh: true,
		},
		{
			name:            "already expired",
			session:         sessionExpiringIn("at-1", -time.Minute),
			expectedCalls:   1,
			expectedRefresh: true,
		},
		{
			name:          "no expiry",
			session:       &models.Session{AccessToken: "at-1", RefreshToken: "rt"},
			expectedCalls: 0,
		},
		{
			name:          "refresh rejected",
			session:       sessionExpiringIn("at-1", time.Minute),
			rejectRefresh: true,
			expectedCalls: 1,
		},
		{
			name:          "network failure",
			session:       sessionExpiringIn("at-1", time.Minute),
			refreshErr:    autherr.ErrTransientNetwork,
			expectedCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.identity.session = tt.session
			h.identity.refreshErr = tt.refreshErr
			if !tt.rejectRefresh {
				h.identity.refreshed = sessionExpiringIn("at-2", time.Hour)
			}
			h.profiles.profiles["at-1"] = artist("u1")

			f := h.facade()
			defer f.Dispose()
			require.NoError(t, f.Init(context.Background()))
			require.Equal(t, ModeIdentitySession, f.CurrentState().Mode)

			refreshed := f.Refresher().CheckAndRefresh(context.Background())
			assert.Equal(t, tt.expectedRefresh, refreshed)
			assert.Equal(t, tt.expectedCalls, h.identity.refreshCount())

			state := f.CurrentState()
			assert.Equal(t, ModeIdentitySession, state.Mode, "refresh never signs out")
			token, err := h.store.BearerToken()
			require.NoError(t, err)

			if tt.expectedRefresh {
				assert.Equal(t, "at-2", token)
				assert.Equal(t, "at-2", state.IdentitySession.AccessToken)
			} else {
				assert.Equal(t, "at-1", token)
				assert.Equal(t, "at-1", state.IdentitySession.AccessToken)
			}
		})
	}
}

func TestCheckAndRefresh_NoSession(t *testing.T) {
	h := newHarness()
	f := h.facade()
	defer f.Dispose()
	require.NoError(t, f.Init(context.Background()))

	assert.False(t, f.Refresher().CheckAndRefresh(context.Background()))
	assert.Equal(t, 0, h.identity.refreshCount())
	assert.Equal(t, ModeNone, f.CurrentState().Mode)
}

func TestCheckAndRefresh_CustomThreshold(t *testing.T) {
	h := newHarness()
	h.identity.session = sessionExpiringIn("at-1", 10*time.Minute)
	h.identity.refreshed = sessionExpiringIn("at-2", time.Hour)
	h.profiles.profiles["at-1"] = artist("u1")

	f := h.facade(func(o *Options) { o.RefreshThreshold = 15 * time.Minute })
	defer f.Dispose()
	require.NoError(t, f.Init(context.Background()))

	assert.True(t, f.Refresher().CheckAndRefresh(context.Background()))
}

func TestForegroundRefresh_EdgeTriggered(t *testing.T) {
	h := newHarness()
	h.tracker = lifecycle.NewTracker(lifecycle.Background)
	h.identity.session = sessionExpiringIn("at-1", time.Minute)
	// The renewed session is still inside the threshold, so every check refreshes
	h.identity.refreshed = sessionExpiringIn("at-1", 2*time.Minute)
	h.profiles.profiles["at-1"] = artist("u1")

	f := h.facade()
	defer f.Dispose()
	require.NoError(t, f.Init(context.Background()))
	require.Equal(t, 0, h.identity.refreshCount())

	h.tracker.Set(lifecycle.Active)
	assert.Equal(t, 1, h.identity.refreshCount(), "background to active")

	h.tracker.Set(lifecycle.Active)
	assert.Equal(t, 1, h.identity.refreshCount(), "active to active")

	h.tracker.Set(lifecycle.Inactive)
	h.tracker.Set(lifecycle.Background)
	assert.Equal(t, 1, h.identity.refreshCount(), "leaving the foreground")

	h.tracker.Set(lifecycle.Active)
	assert.Equal(t, 2, h.identity.refreshCount(), "background to active again")
}

func TestForegroundRefresh_FailureIsSwallowed(t *testing.T) {
	h := newHarness()
	h.tracker = lifecycle.NewTracker(lifecycle.Inactive)
	h.identity.session = sessionExpiringIn("at-1", time.Minute)
	h.identity.refreshErr = autherr.ErrTransientNetwork
	h.profiles.profiles["at-1"] = artist("u1")

	f := h.facade()
	defer f.Dispose()
	require.NoError(t, f.Init(context.Background()))

	assert.NotPanics(t, func() { h.tracker.Set(lifecycle.Active) })
	assert.Equal(t, 1, h.identity.refreshCount())
	assert.Equal(t, ModeIdentitySession, f.CurrentState().Mode)
}

func TestRefresher_Schedule(t *testing.T) {
	h := newHarness()
	f := h.facade()
	defer f.Dispose()

	r := f.Refresher()
	require.NoError(t, r.Schedule(context.Background(), "@every 1h"))
	assert.Error(t, r.Schedule(context.Background(), "@every 1h"), "already running")

	r.Stop()
	r.Stop()

	assert.Error(t, r.Schedule(context.Background(), "every so often"))
	require.NoError(t, r.Schedule(context.Background(), "*/5 * * * *"))
	r.Stop()
}
