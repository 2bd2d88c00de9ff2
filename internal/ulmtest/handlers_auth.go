package ulmtest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aussiebroadwan/ulm/pkg/cryptox"
	"github.com/aussiebroadwan/ulm/pkg/httpx"
	"github.com/aussiebroadwan/ulm/pkg/slogx"
)

type ctxKey struct{}

func accountFrom(ctx context.Context) *account {
	a, _ := ctx.Value(ctxKey{}).(*account)
	return a
}

// authenticate rejects requests without a valid access token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := slogx.FromContext(r.Context())

		s.mu.Lock()
		forced := s.force401
		s.mu.Unlock()
		if forced {
			httpx.WriteBearerError(w, "Could not validate credentials")
			return
		}

		raw, ok := httpx.BearerToken(r)
		if !ok {
			httpx.WriteBearerError(w, "Not authenticated")
			return
		}

		a, err := s.verifyAccess(raw)
		if err != nil {
			log.Debug("access token rejected", "err", err)
			httpx.WriteBearerError(w, "Could not validate credentials")
			return
		}

		s.mu.Lock()
		s.lastBearer[r.URL.Path] = raw
		s.mu.Unlock()

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, a)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a := accountFrom(r.Context()); a == nil || !a.IsAdmin {
			httpx.WriteDetail(w, http.StatusForbidden, "Admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)

	var in loginRequest
	if err := decodeJSON(r, &in); err != nil {
		httpx.WriteDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.userByNameLocked(in.Username)
	if a == nil || bcrypt.CompareHashAndPassword(a.passwordHash, []byte(in.Password)) != nil {
		s.logLocked("WARNING", "failed login for "+in.Username, "")
		httpx.WriteDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	if !a.IsActive {
		httpx.WriteDetail(w, http.StatusForbidden, "Account disabled")
		return
	}

	access, err := s.mintAccessLocked(a, s.accessTTL)
	if err != nil {
		httpx.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	refresh, err := s.issueRefreshLocked(a)
	if err != nil {
		httpx.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	now := time.Now().UTC()
	a.LastLogin = &now
	s.logLocked("INFO", "user logged in: "+a.Username, a.ID)

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"user":          a,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	s.mu.Lock()
	delay, status := s.refreshDelay, s.refreshStatus
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		httpx.WriteDetail(w, status, "Invalid refresh token")
		return
	}

	var in refreshRequest
	if err := decodeJSON(r, &in); err != nil || in.RefreshToken == "" {
		httpx.WriteDetail(w, http.StatusUnprocessableEntity, "refresh_token is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.refreshTokens[cryptox.FingerprintToken(in.RefreshToken)]
	a := s.users[userID]
	if !ok || a == nil || !a.IsActive {
		httpx.WriteDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, err := s.mintAccessLocked(a, s.accessTTL)
	if err != nil {
		httpx.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"access_token": access,
		"token_type":   "bearer",
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)

	var in refreshRequest
	if err := decodeJSON(r, &in); err == nil && in.RefreshToken != "" {
		s.mu.Lock()
		delete(s.refreshTokens, cryptox.FingerprintToken(in.RefreshToken))
		s.mu.Unlock()
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	httpx.WriteJSON(w, http.StatusOK, accountFrom(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}
