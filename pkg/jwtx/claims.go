package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default lifetimes used by the ULM backend unless it is configured
// otherwise. The client never relies on these; they only seed test servers.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims mirrors the payload of a ULM token. Only the registered claims
// matter to the client; the rest is decoded for logging and display.
type Claims struct {
	jwt.RegisteredClaims

	// Type is "access" or "refresh".
	Type string `json:"type,omitempty"`

	// Username of the authenticated user.
	Username string `json:"username,omitempty"`

	// IsAdmin reports whether the user may use admin endpoints.
	IsAdmin bool `json:"is_admin,omitempty"`
}

// NewClaims builds claims for subject valid from now for ttl.
func NewClaims(subject, username, tokenType string, isAdmin bool, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Type:     tokenType,
		Username: username,
		IsAdmin:  isAdmin,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// SignHS256 signs claims with a shared secret.
func SignHS256(c Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}

// VerifyHS256 parses and validates a token signed by SignHS256.
func VerifyHS256(raw string, secret []byte) (Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, err
	}
	return c, nil
}
