package ulmsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/ulm/pkg/jwtx"
)

// call is a buffered request that can be sent more than once.
type call struct {
	method  string
	path    string
	body    []byte
	headers http.Header
}

// Request sends a request to the backend with the stored access token.
//
// path is relative to the base URL and may carry a query string. body is
// read fully before sending so the request can be replayed after a refresh.
// Non-2xx responses are returned as *HTTPError. A 401 is retried once after
// a refresh and only surfaces if the retry is rejected too.
func (c *Client) Request(
	ctx context.Context,
	method, path string,
	body io.Reader,
	headers http.Header,
) (*Response, error) {
	var payload []byte
	if body != nil {
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		payload = b
	}

	req := &call{method: method, path: path, body: payload, headers: headers}

	endpoint, _, _ := strings.Cut(path, "?")
	if endpoint == PathRefresh {
		return c.sendRefresh(ctx, req)
	}
	if bypassPaths[endpoint] {
		return c.send(ctx, req, "")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, req, token)
	if !isUnauthorized(err) {
		return resp, err
	}

	c.logger.Debug("request rejected, refreshing token", slog.String("path", endpoint))

	token, err = c.coord.Token(ctx, token)
	if err != nil {
		return nil, err
	}

	return c.send(ctx, req, token)
}

// sendRefresh sends a caller-built request to the refresh endpoint. A
// failure ends the stored session unless login or logout replaced it while
// the request was in flight.
func (c *Client) sendRefresh(ctx context.Context, req *call) (*Response, error) {
	epoch := c.coord.Epoch()
	creds, err := c.store.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, req, "")
	if err != nil && !errors.Is(err, context.Canceled) {
		c.coord.Unrecoverable(ctx, epoch, creds.RefreshToken)
	}
	return resp, err
}

// accessToken returns the token to attach, refreshing first when the stored
// one is about to expire. An empty token means the request goes out
// unauthenticated.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	creds, err := c.store.Credentials(ctx)
	if err != nil {
		return "", err
	}

	if creds.AccessToken == "" {
		return "", nil
	}

	if !jwtx.ExpiringWithin(creds.AccessToken, c.expiryBuffer, c.now()) {
		return creds.AccessToken, nil
	}

	return c.coord.Token(ctx, creds.AccessToken)
}

// send performs one HTTP exchange and reads the whole response.
func (c *Client) send(ctx context.Context, req *call, token string) (*Response, error) {
	var body io.Reader
	if len(req.body) > 0 {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range req.headers {
		httpReq.Header[key] = append([]string(nil), values...)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseErrorResponse(resp.StatusCode, respBody)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

func isUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized
}

// ============================================================================
// JSON Helpers
// ============================================================================

// doJSON sends in as a JSON body (when non-nil) and decodes the response into
// out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	resp, err := c.Request(ctx, method, path, body, nil)
	if err != nil {
		return err
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.JSON(out)
}
