package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned when a token cannot be decoded at all.
var ErrMalformed = errors.New("jwtx: malformed token")

// Decode reads the claims of raw WITHOUT verifying its signature. The result
// is a hint for the client (when to refresh); the server re-validates every
// token and nothing here may gate an authorization decision.
func Decode(raw string) (Claims, error) {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &c); err != nil {
		return Claims{}, errors.Join(ErrMalformed, err)
	}
	return c, nil
}

// ExpiresAt returns the "exp" of raw. ok is false when the token is
// malformed or carries no expiry.
func ExpiresAt(raw string) (exp time.Time, ok bool) {
	c, err := Decode(raw)
	if err != nil || c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}

// ExpiringWithin reports whether raw expires within buffer of now. Tokens
// with an unknown expiry are always treated as expiring.
func ExpiringWithin(raw string, buffer time.Duration, now time.Time) bool {
	exp, ok := ExpiresAt(raw)
	if !ok {
		return true
	}
	return !now.Add(buffer).Before(exp)
}
