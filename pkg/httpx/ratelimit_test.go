package httpx_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/ulm/pkg/httpx"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestIPKeyExtractor(t *testing.T) {
	t.Run("extracts from RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		require.Equal(t, "192.168.1.1", httpx.IPKeyExtractor(req))
	})

	t.Run("prefers X-Forwarded-For", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.1, 192.168.1.1")

		require.Equal(t, "203.0.113.1", httpx.IPKeyExtractor(req))
	})

	t.Run("uses X-Real-IP if X-Forwarded-For absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Real-IP", "203.0.113.2")

		require.Equal(t, "203.0.113.2", httpx.IPKeyExtractor(req))
	})
}

func TestRateLimitConfig(t *testing.T) {
	require.False(t, httpx.RateLimitConfig{}.Enabled())
	require.Equal(t, rate.Inf, httpx.RateLimitConfig{}.Limit())
	require.Equal(t, rate.Inf, httpx.PerSecond(0, 1).Limit())

	cfg := httpx.PerSecond(2, 1)
	require.True(t, cfg.Enabled())
	require.InDelta(t, 2.0, float64(cfg.Limit()), 0.001)

	perMinute := httpx.RateLimitConfig{RequestsPerWindow: 60, Window: time.Minute, Burst: 5}
	require.InDelta(t, 1.0, float64(perMinute.Limit()), 0.001)
}

func TestParseRateLimitFromEnv(t *testing.T) {
	def := httpx.RateLimitConfig{RequestsPerWindow: 5, Window: time.Minute, Burst: 5}

	t.Run("defaults when unset", func(t *testing.T) {
		require.Equal(t, def, httpx.ParseRateLimitFromEnv("UNSET_PREFIX", def))
	})

	t.Run("overrides from env", func(t *testing.T) {
		t.Setenv("RATELIMIT_LOGIN_REQUESTS", "10")
		t.Setenv("RATELIMIT_LOGIN_WINDOW_SEC", "30")
		t.Setenv("RATELIMIT_LOGIN_BURST", "2")

		cfg := httpx.ParseRateLimitFromEnv("LOGIN", def)
		require.Equal(t, 10, cfg.RequestsPerWindow)
		require.Equal(t, 30*time.Second, cfg.Window)
		require.Equal(t, 2, cfg.Burst)
	})

	t.Run("ignores invalid values", func(t *testing.T) {
		t.Setenv("RATELIMIT_BAD_REQUESTS", "-1")
		t.Setenv("RATELIMIT_BAD_BURST", "nope")

		require.Equal(t, def, httpx.ParseRateLimitFromEnv("BAD", def))
	})
}

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func TestRateLimitTransport(t *testing.T) {
	t.Parallel()

	t.Run("disabled passes through", func(t *testing.T) {
		base := &countingTransport{}
		rt := httpx.NewRateLimitTransport(base, httpx.RateLimitConfig{})

		for range 50 {
			req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
			resp, err := rt.RoundTrip(req)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}
		require.EqualValues(t, 50, base.calls.Load())
	})

	t.Run("waits beyond burst and honours context", func(t *testing.T) {
		base := &countingTransport{}
		rt := httpx.NewRateLimitTransport(base, httpx.RateLimitConfig{
			RequestsPerWindow: 1,
			Window:            time.Hour,
			Burst:             1,
		})

		req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
		_, err := rt.RoundTrip(req)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err = rt.RoundTrip(req.WithContext(ctx))
		require.Error(t, err)
		require.EqualValues(t, 1, base.calls.Load())
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		config := httpx.RateLimitConfig{RequestsPerWindow: 3, Window: time.Minute, Burst: 3}
		limited := httpx.RateLimitMiddleware(config, httpx.IPKeyExtractor)(handler)

		for i := range 3 {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			rec := httptest.NewRecorder()

			limited.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, "request %d should succeed", i+1)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()

		limited.ServeHTTP(rec, req)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
		require.Contains(t, rec.Body.String(), `"detail"`)
	})

	t.Run("different keys are tracked separately", func(t *testing.T) {
		config := httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute, Burst: 1}
		limited := httpx.RateLimitMiddleware(config, httpx.IPKeyExtractor)(handler)

		for _, addr := range []string{"192.168.1.1:1", "192.168.1.2:1"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = addr
			rec := httptest.NewRecorder()
			limited.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("allows request when key extractor returns empty", func(t *testing.T) {
		config := httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute, Burst: 1}
		limited := httpx.RateLimitMiddleware(config, func(*http.Request) string { return "" })(handler)

		for range 3 {
			rec := httptest.NewRecorder()
			limited.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			require.Equal(t, http.StatusOK, rec.Code)
		}
	})
}
