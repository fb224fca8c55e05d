package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigwork-dev/gigwork/internal/autherr"
)

func TestClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			json.NewEncoder(w).Encode(map[string]string{"echo": body["value"]})
		case "/denied":
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "Invalid or expired token"}`))
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	c := New(server.URL + "/")
	ctx := context.Background()

	t.Run("decodes response", func(t *testing.T) {
		var out map[string]string
		err := c.Do(ctx, http.MethodPost, "/echo", "tok", map[string]string{"value": "hi"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "hi", out["echo"])
	})

	t.Run("client error is a status error", func(t *testing.T) {
		err := c.Do(ctx, http.MethodGet, "/denied", "", nil, nil)
		require.Error(t, err)
		assert.True(t, HasStatus(err, http.StatusUnauthorized))
		assert.NotErrorIs(t, err, autherr.ErrTransientNetwork)
		assert.Contains(t, err.Error(), "Invalid or expired token")
	})

	t.Run("server error is transient", func(t *testing.T) {
		err := c.Do(ctx, http.MethodGet, "/broken", "", nil, nil)
		assert.ErrorIs(t, err, autherr.ErrTransientNetwork)
	})

	t.Run("no content", func(t *testing.T) {
		var out map[string]string
		require.NoError(t, c.Do(ctx, http.MethodDelete, "/empty", "", nil, &out))
		assert.Nil(t, out)
	})
}

func TestClient_TransportFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := New(url).Do(context.Background(), http.MethodGet, "/", "", nil, nil)
	assert.ErrorIs(t, err, autherr.ErrTransientNetwork)
}
