package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigwork-dev/gigwork/internal/config"
	"github.com/gigwork-dev/gigwork/internal/models"
)

const (
	testPhone = "+15550100"
	testCode  = "123456"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Backend.DatabaseURL = filepath.Join(t.TempDir(), "test.sqlite")
	cfg.Backend.JWTSecret = "test-secret"
	cfg.Backend.DevOTPCode = testCode

	s, err := New(cfg, zerolog.Nop(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func doJSON(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func requestCode(t *testing.T, s *Server) {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/auth/v1/otp", "", OTPRequest{Phone: testPhone})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
}

func signIn(t *testing.T, s *Server) models.Session {
	t.Helper()
	requestCode(t, s)

	w := doJSON(t, s, http.MethodPost, "/auth/v1/verify", "", VerifyRequest{Phone: testPhone, Code: testCode})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var session models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	return session
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "online")
}

func TestSignIn_CreatesUser(t *testing.T) {
	s := newTestServer(t)
	session := signIn(t, s)

	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Greater(t, session.ExpiresAt, time.Now().Unix())
	require.NotNil(t, session.User)
	assert.Equal(t, testPhone, session.User.Phone)
	assert.Equal(t, models.RoleArtist, session.User.Role)

	// Signing in again reuses the account
	again := signIn(t, s)
	assert.Equal(t, session.User.ID, again.User.ID)
}

func TestVerify_RejectsBadCodes(t *testing.T) {
	s := newTestServer(t)

	// No code requested yet
	w := doJSON(t, s, http.MethodPost, "/auth/v1/verify", "", VerifyRequest{Phone: testPhone, Code: testCode})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	requestCode(t, s)

	w = doJSON(t, s, http.MethodPost, "/auth/v1/verify", "", VerifyRequest{Phone: testPhone, Code: "654321"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodPost, "/auth/v1/verify", "", VerifyRequest{Phone: testPhone, Code: testCode})
	require.Equal(t, http.StatusOK, w.Code)

	// Codes are single use
	w = doJSON(t, s, http.MethodPost, "/auth/v1/verify", "", VerifyRequest{Phone: testPhone, Code: testCode})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerify_ExpiredCode(t *testing.T) {
	s := newTestServer(t)
	requestCode(t, s)

	s.now = func() time.Time { return time.Now().UTC().Add(otpTTL + time.Minute) }
	w := doJSON(t, s, http.MethodPost, "/auth/v1/verify", "", VerifyRequest{Phone: testPhone, Code: testCode})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{name: "phone not e164", path: "/auth/v1/otp", body: OTPRequest{Phone: "555-0100"}},
		{name: "missing phone", path: "/auth/v1/otp", body: map[string]string{}},
		{name: "short code", path: "/auth/v1/verify", body: VerifyRequest{Phone: testPhone, Code: "123"}},
		{name: "letters in code", path: "/api/auth/token", body: VerifyRequest{Phone: testPhone, Code: "12345a"}},
		{name: "session missing code", path: "/api/sessions", body: map[string]string{"phone": testPhone}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRefresh_RotatesTokens(t *testing.T) {
	s := newTestServer(t)
	session := signIn(t, s)

	w := doJSON(t, s, http.MethodPost, "/auth/v1/token", "", RefreshRequest{RefreshToken: session.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var refreshed models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refreshed))
	assert.NotEqual(t, session.RefreshToken, refreshed.RefreshToken)
	assert.NotEmpty(t, refreshed.AccessToken)

	// The old refresh token was consumed
	w = doJSON(t, s, http.MethodPost, "/auth/v1/token", "", RefreshRequest{RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodPost, "/auth/v1/token", "", RefreshRequest{RefreshToken: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_RevokesRefreshTokens(t *testing.T) {
	s := newTestServer(t)
	session := signIn(t, s)

	w := doJSON(t, s, http.MethodPost, "/auth/v1/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodPost, "/auth/v1/logout", session.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodPost, "/auth/v1/logout", session.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code, "logout is idempotent")

	w = doJSON(t, s, http.MethodPost, "/auth/v1/token", "", RefreshRequest{RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProfile(t *testing.T) {
	s := newTestServer(t)
	session := signIn(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/profile/me", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.AuthenticatedProfile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.User)
	assert.Equal(t, session.User.ID, resp.User.ID)
	assert.JSONEq(t, `{}`, string(resp.Profile))

	for _, token := range []string{"", "not-a-token"} {
		w = doJSON(t, s, http.MethodGet, "/api/profile/me", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestBearerToken(t *testing.T) {
	s := newTestServer(t)
	requestCode(t, s)

	w := doJSON(t, s, http.MethodPost, "/api/auth/token", "", VerifyRequest{Phone: testPhone, Code: testCode})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	w = doJSON(t, s, http.MethodGet, "/api/profile/me", resp.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServerSessions(t *testing.T) {
	s := newTestServer(t)
	requestCode(t, s)

	w := doJSON(t, s, http.MethodPost, "/api/sessions", "", VerifyRequest{Phone: testPhone, Code: testCode})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created ServerSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Len(t, created.SessionID, 26, "session ids are ULIDs")

	w = doJSON(t, s, http.MethodGet, "/api/sessions/"+created.SessionID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.AuthenticatedProfile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testPhone, resp.User.Phone)

	w = doJSON(t, s, http.MethodGet, "/api/sessions/unknown", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	for i := 0; i < 2; i++ {
		w = doJSON(t, s, http.MethodDelete, "/api/sessions/"+created.SessionID, "", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/sessions/"+created.SessionID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServerSessions_Expire(t *testing.T) {
	s := newTestServer(t)
	requestCode(t, s)

	w := doJSON(t, s, http.MethodPost, "/api/sessions", "", VerifyRequest{Phone: testPhone, Code: testCode})
	require.Equal(t, http.StatusCreated, w.Code)
	var created ServerSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	s.now = func() time.Time { return time.Now().UTC().Add(serverSessionTTL + time.Hour) }
	w = doJSON(t, s, http.MethodGet, "/api/sessions/"+created.SessionID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
