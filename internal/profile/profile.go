// Package profile is the client for the application profile service.
package profile

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gigwork-dev/gigwork/internal/autherr"
	"github.com/gigwork-dev/gigwork/internal/client"
	"github.com/gigwork-dev/gigwork/internal/models"
)

// Client fetches the authenticated user's business profile
type Client struct {
	api *client.Client
}

// New creates a profile client for the API at baseURL
func New(baseURL string) *Client {
	return &Client{api: client.New(baseURL)}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.api.SetHTTPClient(httpClient)
}

// GetAuthenticatedProfile returns the user and profile owning bearerToken.
// An invalid or expired token yields autherr.ErrUnauthorized.
func (c *Client) GetAuthenticatedProfile(ctx context.Context, bearerToken string) (*models.AuthenticatedProfile, error) {
	if bearerToken == "" {
		return nil, fmt.Errorf("empty bearer token: %w", autherr.ErrUnauthorized)
	}

	var resp models.AuthenticatedProfile
	if err := c.api.Do(ctx, http.MethodGet, "/api/profile/me", bearerToken, nil, &resp); err != nil {
		if client.HasStatus(err, http.StatusUnauthorized, http.StatusForbidden) {
			return nil, fmt.Errorf("profile fetch rejected: %w: %w", autherr.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	if resp.User == nil {
		return nil, fmt.Errorf("profile response has no user")
	}

	return &resp, nil
}
