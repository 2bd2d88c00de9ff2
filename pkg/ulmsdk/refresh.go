package ulmsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/ulm/pkg/jwtx"
	"github.com/aussiebroadwan/ulm/pkg/refreshflow"
	"github.com/aussiebroadwan/ulm/pkg/tokenstore"
)

// refresh is the coordinator's RefreshFunc. Only one call runs at a time per
// Client. The refreshed token is only stored while the session it was
// obtained for is still the stored one.
func (c *Client) refresh(ctx context.Context, stale string) (refreshflow.Result, error) {
	creds, err := c.store.Credentials(ctx)
	if err != nil {
		return refreshflow.Result{}, &RefreshError{Err: err}
	}

	session := refreshflow.Result{Session: creds.RefreshToken}
	if creds.RefreshToken == "" {
		c.logger.Info("token_refresh_failed", slog.String("reason", "no refresh token"))
		return session, ErrCredentialAbsent
	}

	// A previous refresh may have replaced the token this caller saw.
	if creds.AccessToken != "" && creds.AccessToken != stale &&
		!jwtx.ExpiringWithin(creds.AccessToken, c.expiryBuffer, c.now()) {
		session.Token = creds.AccessToken
		return session, nil
	}

	c.logger.Info("token_refresh_started")
	start := time.Now()

	access, err := c.refreshGrant(ctx, creds.RefreshToken)
	if err != nil {
		c.logger.Warn("token_refresh_failed",
			slog.Any("error", err),
			slog.Duration("duration", time.Since(start)),
		)
		return session, &RefreshError{Err: err}
	}

	if err := c.store.ReplaceAccessToken(ctx, creds.RefreshToken, access); err != nil {
		if errors.Is(err, tokenstore.ErrSessionChanged) {
			c.logger.Info("token_refresh_discarded", slog.String("reason", "session changed"))
		}
		return session, &RefreshError{Err: fmt.Errorf("failed to store refreshed token: %w", err)}
	}

	c.logger.Info("token_refresh_succeeded", slog.Duration("duration", time.Since(start)))
	session.Token = access
	return session, nil
}

// refreshGrant exchanges the refresh token for a new access token.
func (c *Client) refreshGrant(ctx context.Context, refreshToken string) (string, error) {
	body, err := json.Marshal(RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", fmt.Errorf("failed to encode refresh request: %w", err)
	}

	resp, err := c.send(ctx, &call{
		method: http.MethodPost,
		path:   PathRefresh,
		body:   body,
	}, "")
	if err != nil {
		return "", err
	}

	var out RefreshResponse
	if err := resp.JSON(&out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("refresh response has no access token")
	}

	return out.AccessToken, nil
}
