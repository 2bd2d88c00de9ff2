// Package tokenstore persists the console's credential pair and the cached
// user profile.
//
// The Store enforces the pair invariant: both tokens are written together,
// cleared together, and a lone access token never counts as a session.
// Backends only provide an atomic key-value primitive.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Fixed keys under which the console state lives in every backend.
const (
	KeyAccessToken  = "ulm.access_token"
	KeyRefreshToken = "ulm.refresh_token"
	KeyUser         = "ulm.user"
)

var allKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

var (
	// ErrIncompleteCredentials is returned when saving a pair with a missing half.
	ErrIncompleteCredentials = errors.New("tokenstore: access and refresh token must be saved together")

	// ErrSessionChanged is returned by conditional writes when the stored
	// refresh token is no longer the expected one.
	ErrSessionChanged = errors.New("tokenstore: stored session changed")

	// ErrClosed is returned by backends used after Close.
	ErrClosed = errors.New("tokenstore: closed")
)

// Backend is an atomic key-value store. Put and Delete must apply all keys
// or none.
type Backend interface {
	// Get returns the value for key; ok is false when it is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Put writes every entry of values atomically.
	Put(ctx context.Context, values map[string]string) error

	// Delete removes every key atomically. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Close releases any underlying resources.
	Close() error
}

// Credentials is the access/refresh token pair.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Complete reports whether both halves are present. Only a complete pair
// represents a logged-in session.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Store guards the credential invariant on top of a Backend.
//
// Writes are serialised within the process. The conditional writes
// (ReplaceAccessToken, ClearIf) are keyed on the refresh token, which only
// changes on login and logout, so they never touch a session other than the
// one the caller read.
type Store struct {
	mu      sync.Mutex
	backend Backend
}

// New wraps backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Credentials returns whatever is stored, which may be partial if the
// backing store was edited externally. Callers decide what partial means.
func (s *Store) Credentials(ctx context.Context) (Credentials, error) {
	access, _, err := s.backend.Get(ctx, KeyAccessToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read access token: %w", err)
	}

	refresh, _, err := s.backend.Get(ctx, KeyRefreshToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read refresh token: %w", err)
	}

	return Credentials{AccessToken: access, RefreshToken: refresh}, nil
}

// Save stores a complete credential pair.
func (s *Store) Save(ctx context.Context, c Credentials) error {
	if !c.Complete() {
		return ErrIncompleteCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backend.Put(ctx, map[string]string{
		KeyAccessToken:  c.AccessToken,
		KeyRefreshToken: c.RefreshToken,
	})
}

// ReplaceAccessToken stores a refreshed access token for the session
// identified by refreshToken. It returns ErrSessionChanged when a different
// session, or none, is stored.
func (s *Store) ReplaceAccessToken(ctx context.Context, refreshToken, access string) error {
	if refreshToken == "" || access == "" {
		return ErrIncompleteCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.refreshToken(ctx)
	if err != nil {
		return err
	}
	if current != refreshToken {
		return ErrSessionChanged
	}

	return s.backend.Put(ctx, map[string]string{KeyAccessToken: access})
}

// SaveSession stores a complete pair together with the serialised profile.
func (s *Store) SaveSession(ctx context.Context, c Credentials, profile []byte) error {
	if !c.Complete() {
		return ErrIncompleteCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backend.Put(ctx, map[string]string{
		KeyAccessToken:  c.AccessToken,
		KeyRefreshToken: c.RefreshToken,
		KeyUser:         string(profile),
	})
}

// Profile returns the cached user profile blob.
func (s *Store) Profile(ctx context.Context) ([]byte, bool, error) {
	v, ok, err := s.backend.Get(ctx, KeyUser)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read profile: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

// Clear removes both tokens and the profile in one step.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backend.Delete(ctx, allKeys...)
}

// ClearIf clears the store only while refreshToken is the stored refresh
// token. An empty refreshToken matches a store holding no refresh token, so a
// lone access token is dropped too. It reports whether anything was cleared.
func (s *Store) ClearIf(ctx context.Context, refreshToken string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.refreshToken(ctx)
	if err != nil {
		return false, err
	}
	if current != refreshToken {
		return false, nil
	}

	if err := s.backend.Delete(ctx, allKeys...); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) refreshToken(ctx context.Context) (string, error) {
	v, _, err := s.backend.Get(ctx, KeyRefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to read refresh token: %w", err)
	}
	return v, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
