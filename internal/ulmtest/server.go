// Package ulmtest runs an in-process ULM backend for tests.
//
// The server implements the auth, user, API key, log and health endpoints
// the console consumes, issues real HS256 access tokens and opaque refresh
// tokens, and exposes knobs to force the failure modes the client must
// survive: short-lived tokens, slow or failing refreshes, blanket 401s.
package ulmtest

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aussiebroadwan/ulm/pkg/httpx"
	"github.com/aussiebroadwan/ulm/pkg/jwtx"
	"github.com/aussiebroadwan/ulm/pkg/slogx"
)

// Seeded administrator.
const (
	AdminUsername = "admin"
	AdminPassword = "admin-password"
	Version       = "test"
)

// Server is a fake ULM backend.
type Server struct {
	URL string

	srv    *httptest.Server
	secret []byte
	logger *slog.Logger

	mu            sync.Mutex
	users         map[string]*account
	refreshTokens map[string]string // fingerprint -> user ID
	issued        []string          // access token JTIs
	revoked       map[string]bool
	apiKeys       map[string]*apiKey
	logs          []logEntry
	lastBearer    map[string]string
	accessTTL     time.Duration
	refreshStatus int
	refreshDelay  time.Duration
	force401      bool

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32

	loginLimit httpx.RateLimitConfig
}

// Option configures a Server.
type Option func(*Server)

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) { s.accessTTL = d }
}

// WithLoginRateLimit throttles the login endpoint per client IP. Without it
// the limit comes from RATELIMIT_ULMTEST_LOGIN_{REQUESTS,WINDOW_SEC,BURST}
// and is off when those are unset.
func WithLoginRateLimit(cfg httpx.RateLimitConfig) Option {
	return func(s *Server) { s.loginLimit = cfg }
}

// WithLogger sets the server's request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New starts a Server seeded with the admin account. It is closed when the
// test ends.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		secret:        []byte("ulmtest-signing-secret-0123456789"),
		logger:        slogx.Discard(),
		users:         make(map[string]*account),
		refreshTokens: make(map[string]string),
		revoked:       make(map[string]bool),
		apiKeys:       make(map[string]*apiKey),
		lastBearer:    make(map[string]string),
		accessTTL:     jwtx.DefaultAccessTokenTTL,
		loginLimit:    httpx.ParseRateLimitFromEnv("ULMTEST_LOGIN", httpx.RateLimitConfig{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := s.addUser(AdminUsername, AdminPassword, "admin@example.test", true); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	s.srv = httptest.NewServer(s.routes())
	s.URL = s.srv.URL
	t.Cleanup(s.srv.Close)

	return s
}

// Close shuts the server down. Later requests fail to connect.
func (s *Server) Close() { s.srv.Close() }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			if s.loginLimit.Enabled() {
				r.With(httpx.RateLimitMiddleware(s.loginLimit, httpx.IPKeyExtractor)).
					Post("/login", s.handleLogin)
			} else {
				r.Post("/login", s.handleLogin)
			}
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
			r.With(s.authenticate).Get("/me", s.handleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/api-keys", s.handleListAPIKeys)
			r.Post("/api-keys", s.handleCreateAPIKey)
			r.Delete("/api-keys/{id}", s.handleRevokeAPIKey)

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)

				r.Get("/users", s.handleListUsers)
				r.Post("/users", s.handleCreateUser)
				r.Get("/users/{id}", s.handleGetUser)
				r.Patch("/users/{id}", s.handleUpdateUser)
				r.Delete("/users/{id}", s.handleDeleteUser)

				r.Get("/logs", s.handleListLogs)
			})
		})
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := s.logger.With("request_id", r.Header.Get(slogx.HeaderRequestID))
		ctx := slogx.WithContext(r.Context(), log)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		log.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// ============================================================================
// Knobs
// ============================================================================

// SetAccessTTL changes the lifetime of access tokens issued from now on.
func (s *Server) SetAccessTTL(d time.Duration) {
	s.mu.Lock()
	s.accessTTL = d
	s.mu.Unlock()
}

// FailRefresh makes the refresh endpoint answer with status. 0 restores
// normal behaviour.
func (s *Server) FailRefresh(status int) {
	s.mu.Lock()
	s.refreshStatus = status
	s.mu.Unlock()
}

// SetRefreshDelay holds every refresh response for d.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	s.refreshDelay = d
	s.mu.Unlock()
}

// Force401 makes every authenticated endpoint reject every token.
func (s *Server) Force401(on bool) {
	s.mu.Lock()
	s.force401 = on
	s.mu.Unlock()
}

// RevokeAccessTokens invalidates every access token issued so far. Tokens
// issued afterwards are accepted.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	for _, jti := range s.issued {
		s.revoked[jti] = true
	}
	s.issued = s.issued[:0]
	s.mu.Unlock()
}

// ============================================================================
// Counters
// ============================================================================

// LoginCalls returns how many login requests were received.
func (s *Server) LoginCalls() int { return int(s.loginCalls.Load()) }

// RefreshCalls returns how many refresh requests were received.
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// LogoutCalls returns how many logout requests were received.
func (s *Server) LogoutCalls() int { return int(s.logoutCalls.Load()) }

// LastBearer returns the last accepted access token sent to path.
func (s *Server) LastBearer(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBearer[path]
}
