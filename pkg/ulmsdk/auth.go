package ulmsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/ulm/pkg/tokenstore"
)

// ============================================================================
// Session lifecycle
// ============================================================================

// Login exchanges username and password for a credential pair, stores it with
// the returned profile and re-arms the logout signal. Bad credentials return
// an *HTTPError matching ErrUnauthorized.
func (c *Client) Login(ctx context.Context, username, password string) (*User, error) {
	var out LoginResponse
	if err := c.doJSON(ctx, http.MethodPost, PathLogin, LoginRequest{
		Username: username,
		Password: password,
	}, &out); err != nil {
		return nil, err
	}

	profile, err := json.Marshal(out.User)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}

	c.coord.CredentialsStored()

	creds := tokenstore.Credentials{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if err := c.store.SaveSession(ctx, creds, profile); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	c.logger.Info("logged in", slog.String("user_id", out.User.ID))

	return &out.User, nil
}

// Logout tells the backend to revoke the refresh token and clears local
// credentials. The backend call is best effort; only a failure to clear the
// local store is returned.
func (c *Client) Logout(ctx context.Context) error {
	creds, err := c.store.Credentials(ctx)
	if err != nil {
		return err
	}

	if creds.RefreshToken != "" {
		err := c.doJSON(ctx, http.MethodPost, PathLogout, RefreshRequest{RefreshToken: creds.RefreshToken}, nil)
		if err != nil {
			c.logger.Debug("logout request failed", slog.Any("error", err))
		}
	}

	c.coord.SessionEnded()
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// Me fetches the profile of the logged-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.doJSON(ctx, http.MethodGet, PathMe, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RestoreSession validates stored credentials at startup by fetching the
// profile, refreshing if needed. A partial pair is cleared and reported as
// ErrNotLoggedIn.
func (c *Client) RestoreSession(ctx context.Context) (*User, error) {
	creds, err := c.store.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	if !creds.Complete() {
		if creds.AccessToken != "" || creds.RefreshToken != "" {
			c.clearCredentials(ctx, creds.RefreshToken)
		}
		return nil, ErrNotLoggedIn
	}

	user, err := c.Me(ctx)
	if err != nil {
		if errors.Is(err, ErrCredentialAbsent) || errors.Is(err, ErrRefreshFailed) {
			return nil, fmt.Errorf("%w: %w", ErrNotLoggedIn, err)
		}
		return nil, err
	}
	return user, nil
}

// IsAuthenticated reports whether a complete credential pair is stored. It
// does not contact the backend.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	creds, err := c.store.Credentials(ctx)
	return err == nil && creds.Complete()
}

// CachedUser returns the profile stored at login without a network call.
func (c *Client) CachedUser(ctx context.Context) (*User, error) {
	if !c.IsAuthenticated(ctx) {
		return nil, ErrNotLoggedIn
	}

	raw, ok, err := c.store.Profile(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotLoggedIn
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to decode cached profile: %w", err)
	}
	return &user, nil
}
