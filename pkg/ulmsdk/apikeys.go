package ulmsdk

import (
	"context"
	"net/http"
	"net/url"
)

// ListAPIKeys returns the caller's API keys without their secrets.
func (c *Client) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	var list APIKeyList
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/api-keys", nil, &list); err != nil {
		return nil, err
	}
	return list.Keys, nil
}

// CreateAPIKey issues a key. The secret in the result is not retrievable
// later.
func (c *Client) CreateAPIKey(ctx context.Context, req CreateAPIKeyRequest) (*CreatedAPIKey, error) {
	var key CreatedAPIKey
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/api-keys", req, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// RevokeAPIKey revokes a key by ID.
func (c *Client) RevokeAPIKey(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/api-keys/"+url.PathEscape(id), nil, nil)
}
