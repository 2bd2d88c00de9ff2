package httpx

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// Enabled reports whether the config limits anything.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerWindow > 0 && c.Window > 0
}

// Limit converts the window into a per-second rate.
func (c RateLimitConfig) Limit() rate.Limit {
	if !c.Enabled() {
		return rate.Inf
	}
	return rate.Limit(float64(c.RequestsPerWindow) / c.Window.Seconds())
}

func (c RateLimitConfig) burst() int {
	return max(c.Burst, 1)
}

// PerSecond builds a config from a requests-per-second value. rps <= 0
// disables limiting.
func PerSecond(rps float64, burst int) RateLimitConfig {
	if rps <= 0 {
		return RateLimitConfig{}
	}
	return RateLimitConfig{
		RequestsPerWindow: int(rps * 1000),
		Window:            time.Second * 1000,
		Burst:             burst,
	}
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_LOGIN_REQUESTS, RATELIMIT_LOGIN_WINDOW_SEC, RATELIMIT_LOGIN_BURST
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// ============================================================================
// Client side
// ============================================================================

// RateLimitTransport delays outgoing requests so the backend never sees more
// than the configured rate from this process.
type RateLimitTransport struct {
	Base    http.RoundTripper
	limiter *rate.Limiter
}

// NewRateLimitTransport wraps base. A disabled config passes requests
// straight through.
func NewRateLimitTransport(base http.RoundTripper, config RateLimitConfig) *RateLimitTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RateLimitTransport{
		Base:    base,
		limiter: rate.NewLimiter(config.Limit(), config.burst()),
	}
}

// RoundTrip waits for a token, honouring the request context.
func (t *RateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return t.Base.RoundTrip(req)
}

// ============================================================================
// Server side
// ============================================================================

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// KeyExtractor is a function that extracts a unique key from the request
// for rate limiting purposes (e.g., IP address or username).
type KeyExtractor func(*http.Request) string

// IPKeyExtractor extracts the client IP address from the request.
// It handles X-Forwarded-For and X-Real-IP headers for proxied requests.
func IPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// keyedLimiter hands out one limiter per key.
type keyedLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func (kl *keyedLimiter) get(key string) *rate.Limiter {
	if limiter, ok := kl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	actual, _ := kl.limiters.LoadOrStore(key, rate.NewLimiter(kl.limit, kl.burst))
	return actual.(*rate.Limiter)
}

// RateLimitMiddleware rejects requests over the configured rate with 429 and
// a Retry-After header. Requests without a key are let through.
func RateLimitMiddleware(config RateLimitConfig, keyExtractor KeyExtractor) Middleware {
	kl := &keyedLimiter{limit: config.Limit(), burst: config.burst()}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			limiter := kl.get(key)
			if !limiter.Allow() {
				reservation := limiter.Reserve()
				delay := reservation.Delay()
				reservation.Cancel()

				w.Header().Set("Retry-After", strconv.Itoa(max(int(delay.Seconds()), 1)))
				WriteDetail(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
