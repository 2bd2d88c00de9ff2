package ulmtest

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aussiebroadwan/ulm/pkg/cryptox"
	"github.com/aussiebroadwan/ulm/pkg/httpx"
)

const defaultPageSize = 100

// ============================================================================
// Users
// ============================================================================

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
}

type updateUserRequest struct {
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
	Password *string `json:"password"`
	IsActive *bool   `json:"is_active"`
	IsAdmin  *bool   `json:"is_admin"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip := queryInt(q.Get("skip"), 0)
	limit := queryInt(q.Get("limit"), defaultPageSize)
	search := strings.ToLower(q.Get("search"))

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*account, 0, len(s.users))
	for _, a := range s.users {
		if search == "" ||
			strings.Contains(strings.ToLower(a.Username), search) ||
			strings.Contains(strings.ToLower(a.Email), search) {
			matched = append(matched, a)
		}
	}
	slices.SortFunc(matched, func(a, b *account) int {
		return strings.Compare(a.Username, b.Username)
	})

	total := len(matched)
	page := matched[min(skip, total):min(skip+limit, total)]

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"users": page,
		"total": total,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.users[chi.URLParam(r, "id")]
	if !ok {
		httpx.WriteDetail(w, http.StatusNotFound, "User not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in createUserRequest
	if err := decodeJSON(r, &in); err != nil {
		httpx.WriteDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if in.Username == "" || in.Password == "" {
		httpx.WriteDetail(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}
	if !strings.Contains(in.Email, "@") {
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{
				"loc":  []string{"body", "email"},
				"msg":  "value is not a valid email address",
				"type": "value_error",
			}},
		})
		return
	}

	a, err := s.addUser(in.Username, in.Password, in.Email, in.IsAdmin)
	if errors.Is(err, errUsernameTaken) {
		httpx.WriteDetail(w, http.StatusConflict, "Username already registered")
		return
	}
	if err != nil {
		httpx.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a.FullName = in.FullName
	httpx.WriteJSON(w, http.StatusCreated, a)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var in updateUserRequest
	if err := decodeJSON(r, &in); err != nil {
		httpx.WriteDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	var hash []byte
	if in.Password != nil {
		h, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.MinCost)
		if err != nil {
			httpx.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		hash = h
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.users[chi.URLParam(r, "id")]
	if !ok {
		httpx.WriteDetail(w, http.StatusNotFound, "User not found")
		return
	}

	if in.Email != nil {
		a.Email = *in.Email
	}
	if in.FullName != nil {
		a.FullName = *in.FullName
	}
	if hash != nil {
		a.passwordHash = hash
	}
	if in.IsActive != nil {
		a.IsActive = *in.IsActive
	}
	if in.IsAdmin != nil {
		a.IsAdmin = *in.IsAdmin
	}

	httpx.WriteJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if caller := accountFrom(r.Context()); caller != nil && caller.ID == id {
		httpx.WriteDetail(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	a, ok := s.users[id]
	if !ok {
		httpx.WriteDetail(w, http.StatusNotFound, "User not found")
		return
	}

	delete(s.users, id)
	for fp, owner := range s.refreshTokens {
		if owner == id {
			delete(s.refreshTokens, fp)
		}
	}
	s.logLocked("INFO", "user deleted: "+a.Username, id)

	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// API keys
// ============================================================================

type createAPIKeyRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days"`
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	caller := accountFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]*apiKey, 0)
	for _, k := range s.apiKeys {
		if k.owner == caller.ID {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b *apiKey) int { return a.CreatedAt.Compare(b.CreatedAt) })

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var in createAPIKeyRequest
	if err := decodeJSON(r, &in); err != nil || strings.TrimSpace(in.Name) == "" {
		httpx.WriteDetail(w, http.StatusUnprocessableEntity, "name is required")
		return
	}

	secret, err := cryptox.GenerateAPIKey()
	if err != nil {
		httpx.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	now := time.Now().UTC()
	k := &apiKey{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Prefix:      secret[:len(cryptox.APIKeyPrefix)+6],
		CreatedAt:   now,
		owner:       accountFrom(r.Context()).ID,
		fingerprint: cryptox.FingerprintToken(secret),
	}
	if in.ExpiresInDays > 0 {
		exp := now.AddDate(0, 0, in.ExpiresInDays)
		k.ExpiresAt = &exp
	}

	s.mu.Lock()
	s.apiKeys[k.ID] = k
	s.logLocked("INFO", "api key created: "+k.Name, k.owner)
	resp := map[string]any{
		"id":         k.ID,
		"name":       k.Name,
		"prefix":     k.Prefix,
		"created_at": k.CreatedAt,
		"expires_at": k.ExpiresAt,
		"revoked":    false,
		"key":        secret,
	}
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	caller := accountFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[chi.URLParam(r, "id")]
	if !ok || (k.owner != caller.ID && !caller.IsAdmin) {
		httpx.WriteDetail(w, http.StatusNotFound, "API key not found")
		return
	}

	k.Revoked = true
	s.logLocked("INFO", "api key revoked: "+k.Name, caller.ID)
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Logs
// ============================================================================

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	level := strings.ToUpper(q.Get("level"))
	limit := queryInt(q.Get("limit"), defaultPageSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]logEntry, 0, min(limit, len(s.logs)))
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if level == "" || s.logs[i].Level == level {
			out = append(out, s.logs[i])
		}
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"logs": out})
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
