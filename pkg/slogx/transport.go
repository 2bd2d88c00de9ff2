package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/ulm/pkg/idx"
)

// HeaderRequestID carries the per-request correlation ID to the backend.
const HeaderRequestID = "X-Request-ID"

// Transport logs outbound requests and stamps each one with a request ID.
// Headers and bodies are never logged since they carry bearer tokens and
// passwords.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	return &Transport{Base: base, Logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	reqID := req.Header.Get(HeaderRequestID)
	if reqID == "" {
		reqID = idx.New().String()
		// RoundTrippers must not mutate the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set(HeaderRequestID, reqID)
	}

	logger := t.Logger
	if logger == nil {
		logger = FromContext(req.Context())
	}
	logger = logger.With(
		"req_id", reqID,
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		logger.Debug("http_request_failed", "duration_ms", duration, "err", err)
		return nil, err
	}

	logger.Debug("http_request",
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}
