package ulmsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

var (
	// ErrCredentialAbsent is returned when a refresh is needed but no refresh
	// token is stored. No network call is made.
	ErrCredentialAbsent = errors.New("ulmsdk: no refresh token stored")

	// ErrRefreshFailed matches every *RefreshError: the refresh endpoint
	// rejected the token or could not be reached.
	ErrRefreshFailed = errors.New("ulmsdk: token refresh failed")

	// ErrUnauthorized matches an *HTTPError with status 401. Returned when a
	// request is still rejected after its one retry, or when login fails.
	ErrUnauthorized = errors.New("ulmsdk: unauthorized")

	// ErrNotLoggedIn is returned when no complete credential pair is stored.
	ErrNotLoggedIn = errors.New("ulmsdk: not logged in")
)

// ============================================================================
// HTTPError
// ============================================================================

// HTTPError is a non-2xx response from the ULM backend.
type HTTPError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// Code is a machine-readable error code when the backend sends one.
	Code string

	// Message is the human-readable error detail from the response body,
	// or the status text when the body had none.
	Message string

	// Body is the raw response body.
	Body []byte
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// ============================================================================
// RefreshError
// ============================================================================

// RefreshError wraps the reason a token refresh failed. Network errors and
// rejections are deliberately not distinguished: both end the session.
type RefreshError struct {
	Err error
}

// Error implements the error interface.
func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

// Unwrap exposes the underlying transport error or *HTTPError.
func (e *RefreshError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRefreshFailed) match.
func (e *RefreshError) Is(target error) bool { return target == ErrRefreshFailed }

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// errorBody covers the error shapes the backend produces: FastAPI style
// {"detail": "..."} or {"detail": [{"msg": "..."}]}, OAuth2 style
// {"error": "...", "error_description": "..."} and {"message": "..."}.
type errorBody struct {
	Detail           json.RawMessage `json:"detail"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Message          string          `json:"message"`
	Code             string          `json:"code"`
}

type validationDetail struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// parseErrorResponse turns a non-2xx response into an *HTTPError.
func parseErrorResponse(status int, body []byte) *HTTPError {
	httpErr := &HTTPError{StatusCode: status, Body: body}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		httpErr.Code = eb.Code
		switch {
		case len(eb.Detail) > 0:
			httpErr.Message = detailMessage(eb.Detail)
		case eb.Error != "":
			httpErr.Code = eb.Error
			httpErr.Message = eb.ErrorDescription
		case eb.Message != "":
			httpErr.Message = eb.Message
		}
	}

	if httpErr.Message == "" {
		httpErr.Message = http.StatusText(status)
	}
	return httpErr
}

func detailMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var details []validationDetail
	if err := json.Unmarshal(raw, &details); err == nil && len(details) > 0 {
		msgs := make([]string, 0, len(details))
		for _, d := range details {
			if field := fieldName(d.Loc); field != "" {
				msgs = append(msgs, field+": "+d.Msg)
				continue
			}
			msgs = append(msgs, d.Msg)
		}
		return strings.Join(msgs, "; ")
	}

	return string(raw)
}

// fieldName returns the last path element of a validation location such as
// ["body", "email"].
func fieldName(loc []any) string {
	if len(loc) == 0 {
		return ""
	}
	if s, ok := loc[len(loc)-1].(string); ok {
		return s
	}
	return ""
}

// ============================================================================
// User-facing messages
// ============================================================================

// UserMessage maps err to the short text shown to a console user. Token
// details never leak into it.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrCredentialAbsent), errors.Is(err, ErrRefreshFailed):
		return "session expired, please log in again"
	case errors.Is(err, ErrNotLoggedIn):
		return "not logged in"
	case isTimeout(err):
		return "connection timeout"
	case isUnreachable(err):
		return "cannot reach server"
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusUnauthorized:
			return "incorrect credentials"
		case httpErr.StatusCode == http.StatusForbidden:
			return "permission denied"
		case httpErr.StatusCode == http.StatusNotFound:
			return "not found"
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return "too many requests, try again later"
		case httpErr.StatusCode >= http.StatusInternalServerError:
			return "server error, try again later"
		default:
			return httpErr.Message
		}
	}

	return err.Error()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
