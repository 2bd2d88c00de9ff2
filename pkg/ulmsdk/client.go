package ulmsdk

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/ulm/pkg/refreshflow"
	"github.com/aussiebroadwan/ulm/pkg/slogx"
	"github.com/aussiebroadwan/ulm/pkg/tokenstore"
)

const (
	// DefaultExpiryBuffer is how long before expiry an access token is
	// considered stale and refreshed proactively.
	DefaultExpiryBuffer = 30 * time.Second

	// DefaultTimeout bounds every network call, including refreshes.
	DefaultTimeout = 10 * time.Second
)

// Auth endpoints. Requests to these bypass the token pipeline.
const (
	PathLogin   = "/api/v1/auth/login"
	PathRefresh = "/api/v1/auth/refresh"
	PathLogout  = "/api/v1/auth/logout"
	PathMe      = "/api/v1/auth/me"
)

var bypassPaths = map[string]bool{
	PathLogin:   true,
	PathRefresh: true,
	PathLogout:  true,
}

// Client is the authenticated HTTP client for the ULM backend. It attaches
// the stored access token to every request, refreshes it when it is about to
// expire or the server rejects it, and tells subscribers when the session is
// gone for good.
//
// Create one Client per process and share it; the single-flight refresh
// guarantee only holds within one instance.
type Client struct {
	baseURL      string
	store        *tokenstore.Store
	httpClient   *http.Client
	transport    http.RoundTripper
	logger       *slog.Logger
	expiryBuffer time.Duration
	timeout      time.Duration
	now          func() time.Time

	coord *refreshflow.Coordinator

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextID      int
	logoutCh    chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient uses hc as is. WithTransport and WithTimeout are ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTransport sets the base round tripper. It is wrapped in request
// logging.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithLogger sets the logger for refresh lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithExpiryBuffer overrides DefaultExpiryBuffer.
func WithExpiryBuffer(d time.Duration) Option {
	return func(c *Client) { c.expiryBuffer = d }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client for the backend at baseURL using store for
// credentials.
func New(baseURL string, store *tokenstore.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		store:        store,
		logger:       slogx.Discard(),
		expiryBuffer: DefaultExpiryBuffer,
		timeout:      DefaultTimeout,
		now:          time.Now,
		listeners:    make(map[int]func()),
		logoutCh:     make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		base := c.transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.httpClient = &http.Client{
			Transport: slogx.NewTransport(base, c.logger),
			Timeout:   c.timeout,
		}
	}

	c.coord = refreshflow.NewCoordinator(c.refresh, refreshflow.Hooks{
		ClearCredentials: c.clearCredentials,
		LogoutRequired:   c.notifyLogout,
	})

	return c
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Logout signal
// ============================================================================

// OnLogoutRequired registers fn to run when the session ends unrecoverably.
// fn runs on the goroutine that observed the failure and must not block.
// The returned func removes the subscription.
func (c *Client) OnLogoutRequired(fn func()) (unsubscribe func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

// LogoutRequired returns a channel that receives once per logout episode.
// Only one signal is buffered.
func (c *Client) LogoutRequired() <-chan struct{} {
	return c.logoutCh
}

func (c *Client) notifyLogout() {
	c.logger.Warn("logout_required")

	select {
	case c.logoutCh <- struct{}{}:
	default:
	}

	c.listenersMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// clearCredentials drops the session identified by refreshToken. A session
// stored since then is left alone.
func (c *Client) clearCredentials(ctx context.Context, refreshToken string) {
	cleared, err := c.store.ClearIf(ctx, refreshToken)
	if err != nil {
		c.logger.Error("failed to clear credentials", slog.Any("error", err))
		return
	}
	if !cleared {
		c.logger.Debug("credentials not cleared, session changed")
	}
}
