package ulmsdk

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ListLogs returns recent backend log entries, newest first.
func (c *Client) ListLogs(ctx context.Context, params ListLogsParams) ([]LogEntry, error) {
	q := url.Values{}
	if params.Level != "" {
		q.Set("level", params.Level)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}

	path := "/api/v1/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list LogList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Logs, nil
}

// Health checks backend liveness. It needs no credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.send(ctx, &call{method: http.MethodGet, path: "/health"}, "")
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := resp.JSON(&health); err != nil {
		return nil, err
	}
	return &health, nil
}
