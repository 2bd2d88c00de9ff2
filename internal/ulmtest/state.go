package ulmtest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aussiebroadwan/ulm/pkg/cryptox"
	"github.com/aussiebroadwan/ulm/pkg/jwtx"
)

var (
	errUsernameTaken = errors.New("username already registered")
	errUnknownUser   = errors.New("unknown user")
)

type account struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	FullName     string     `json:"full_name,omitempty"`
	IsActive     bool       `json:"is_active"`
	IsAdmin      bool       `json:"is_admin"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	passwordHash []byte
}

type apiKey struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Prefix      string     `json:"prefix"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	Revoked     bool       `json:"revoked"`
	owner       string
	fingerprint string
}

type logEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Logger    string    `json:"logger,omitempty"`
	Message   string    `json:"message"`
	UserID    string    `json:"user_id,omitempty"`
}

// AddUser registers a non-admin account and returns its ID.
func (s *Server) AddUser(username, password string) (string, error) {
	a, err := s.addUser(username, password, username+"@example.test", false)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// UserID returns the ID of username, or "" if unknown.
func (s *Server) UserID(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.userByNameLocked(username); a != nil {
		return a.ID
	}
	return ""
}

func (s *Server) addUser(username, password, email string, admin bool) (*account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userByNameLocked(username) != nil {
		return nil, errUsernameTaken
	}

	a := &account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		IsActive:     true,
		IsAdmin:      admin,
		CreatedAt:    time.Now().UTC(),
		passwordHash: hash,
	}
	s.users[a.ID] = a
	s.logLocked("INFO", "user created: "+username, a.ID)
	return a, nil
}

func (s *Server) userByNameLocked(username string) *account {
	for _, a := range s.users {
		if strings.EqualFold(a.Username, username) {
			return a
		}
	}
	return nil
}

func (s *Server) logLocked(level, msg, userID string) {
	s.logs = append(s.logs, logEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Logger:    "ulm.api",
		Message:   msg,
		UserID:    userID,
	})
}

// ============================================================================
// Tokens
// ============================================================================

// MintAccessToken signs an access token for username valid for ttl. A
// negative ttl yields an already expired token.
func (s *Server) MintAccessToken(username string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.userByNameLocked(username)
	if a == nil {
		return "", errUnknownUser
	}
	return s.mintAccessLocked(a, ttl)
}

// IssueRefreshToken creates a valid refresh token for username without a
// login round trip.
func (s *Server) IssueRefreshToken(username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.userByNameLocked(username)
	if a == nil {
		return "", errUnknownUser
	}
	return s.issueRefreshLocked(a)
}

func (s *Server) mintAccessLocked(a *account, ttl time.Duration) (string, error) {
	claims := jwtx.NewClaims(a.ID, a.Username, jwtx.TypeAccess, a.IsAdmin, ttl, time.Now())
	token, err := jwtx.SignHS256(claims, s.secret)
	if err != nil {
		return "", err
	}
	s.issued = append(s.issued, claims.ID)
	return token, nil
}

func (s *Server) issueRefreshLocked(a *account) (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}
	s.refreshTokens[cryptox.FingerprintToken(token)] = a.ID
	return token, nil
}

// verifyAccess returns the account an access token belongs to.
func (s *Server) verifyAccess(raw string) (*account, error) {
	claims, err := jwtx.VerifyHS256(raw, s.secret)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if claims.Type != jwtx.TypeAccess {
		return nil, errors.New("not an access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revoked[claims.ID] {
		return nil, errors.New("token revoked")
	}

	a, ok := s.users[claims.Subject]
	if !ok || !a.IsActive {
		return nil, errUnknownUser
	}
	return a, nil
}

// Session returns a fresh credential pair for username, with the access
// token valid for accessTTL.
func (s *Server) Session(username string, accessTTL time.Duration) (access, refresh string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.userByNameLocked(username)
	if a == nil {
		return "", "", errUnknownUser
	}
	if access, err = s.mintAccessLocked(a, accessTTL); err != nil {
		return "", "", err
	}
	if refresh, err = s.issueRefreshLocked(a); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}
