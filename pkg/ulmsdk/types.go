package ulmsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ============================================================================
// Auth Types
// ============================================================================

// LoginRequest is the body of POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

// RefreshRequest is the body of POST /api/v1/auth/refresh and
// POST /api/v1/auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is returned by a successful refresh. The refresh token is
// not rotated.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ============================================================================
// User Types
// ============================================================================

// User is a ULM user profile.
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email,omitempty"`
	FullName  string     `json:"full_name,omitempty"`
	IsActive  bool       `json:"is_active"`
	IsAdmin   bool       `json:"is_admin"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// ListUsersParams filters GET /api/v1/users. Zero values are omitted.
type ListUsersParams struct {
	Skip   int
	Limit  int
	Search string
}

// UserList is one page of users.
type UserList struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
}

// CreateUserRequest is the body of POST /api/v1/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
}

// UpdateUserRequest is the body of PATCH /api/v1/users/{id}. Nil fields are
// left unchanged.
type UpdateUserRequest struct {
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"full_name,omitempty"`
	Password *string `json:"password,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
	IsAdmin  *bool   `json:"is_admin,omitempty"`
}

// ============================================================================
// API Key Types
// ============================================================================

// APIKey describes an issued API key. The secret itself is never listed.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// APIKeyList is the response of GET /api/v1/api-keys.
type APIKeyList struct {
	Keys []APIKey `json:"keys"`
}

// CreateAPIKeyRequest is the body of POST /api/v1/api-keys.
type CreateAPIKeyRequest struct {
	Name string `json:"name"`
	// ExpiresInDays of 0 means the key does not expire.
	ExpiresInDays int `json:"expires_in_days,omitempty"`
}

// CreatedAPIKey is returned once on creation and carries the secret.
type CreatedAPIKey struct {
	APIKey
	Key string `json:"key"`
}

// ============================================================================
// Log Types
// ============================================================================

// ListLogsParams filters GET /api/v1/logs.
type ListLogsParams struct {
	Level string
	Limit int
}

// LogEntry is one backend log record.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Logger    string    `json:"logger,omitempty"`
	Message   string    `json:"message"`
	UserID    string    `json:"user_id,omitempty"`
}

// LogList is the response of GET /api/v1/logs.
type LogList struct {
	Logs []LogEntry `json:"logs"`
}

// ============================================================================
// Health
// ============================================================================

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ============================================================================
// Response
// ============================================================================

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
