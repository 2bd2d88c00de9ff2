package console

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	return p
}

// isolate points the user config dir at an empty temp dir and clears every
// variable Load reads.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	for _, k := range []string{
		"ULM_CONFIG", "ULM_BASE_URL", "ULM_TIMEOUT", "ULM_EXPIRY_BUFFER",
		"ULM_STORE_DRIVER", "ULM_STORE_PATH", "ULM_STORE_PASSPHRASE",
		"ULM_RATE_LIMIT_RPS", "ULM_RATE_LIMIT_BURST", "ENV", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	return dir
}

const sampleYAML = `
base_url: "https://ulm.example.com"
timeout: "5s"
expiry_buffer: "1m"
env: "dev"
store:
  driver: "sqlite"
  path: "/tmp/ulm.db"
rate_limit:
  rps: 2.5
  burst: 3
log:
  level: "debug"
  format: "json"
`

func TestLoadDefaultsFromEnvOnly(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8000", cfg.BaseURL)
	require.Equal(t, 10*time.Second, cfg.Timeout)
	require.Equal(t, 30*time.Second, cfg.ExpiryBuffer)
	require.Equal(t, DriverFile, cfg.Store.Driver)
	require.Equal(t, defaultStorePath(DriverFile), cfg.Store.Path)
	require.Equal(t, "credentials.json", filepath.Base(cfg.Store.Path))
	require.Zero(t, cfg.RateLimit.RPS)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "text", cfg.Log.Format)
}

func TestLoadExplicitPath(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://ulm.example.com", cfg.BaseURL)
	require.Equal(t, 5*time.Second, cfg.Timeout)
	require.Equal(t, time.Minute, cfg.ExpiryBuffer)
	require.Equal(t, DriverSQLite, cfg.Store.Driver)
	require.Equal(t, "/tmp/ulm.db", cfg.Store.Path)
	require.InDelta(t, 2.5, cfg.RateLimit.RPS, 0.001)
	require.Equal(t, 3, cfg.RateLimit.Burst)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", sampleYAML)
	t.Setenv("ULM_CONFIG", path)
	t.Setenv("ULM_BASE_URL", "http://override:9000")
	t.Setenv("ULM_STORE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://override:9000", cfg.BaseURL)
	require.Equal(t, DriverMemory, cfg.Store.Driver)
	require.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestLoadDefaultConfigFile(t *testing.T) {
	isolate(t)
	p := DefaultConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o700))
	require.NoError(t, os.WriteFile(p, []byte(sampleYAML), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://ulm.example.com", cfg.BaseURL)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		isolate(t)
		_, err := Load("/nonexistent/config.yaml")
		require.ErrorContains(t, err, "stat failed")
	})

	t.Run("broken yaml", func(t *testing.T) {
		dir := isolate(t)
		path := writeFile(t, dir, "config.yaml", "base_url: [unclosed\n")
		_, err := Load(path)
		require.ErrorContains(t, err, "failed to read config")
	})

	t.Run("bad driver", func(t *testing.T) {
		isolate(t)
		t.Setenv("ULM_STORE_DRIVER", "redis")
		_, err := Load("")
		require.ErrorContains(t, err, "unknown ULM_STORE_DRIVER")
	})

	t.Run("bad base url", func(t *testing.T) {
		isolate(t)
		t.Setenv("ULM_BASE_URL", "localhost")
		_, err := Load("")
		require.ErrorContains(t, err, "invalid ULM_BASE_URL")
	})
}

func TestNewAppWiresStores(t *testing.T) {
	for _, driver := range []string{DriverMemory, DriverFile, DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			dir := t.TempDir()
			cfg := &Config{
				BaseURL:      "http://localhost:8000",
				Timeout:      time.Second,
				ExpiryBuffer: 30 * time.Second,
				Store: StoreConfig{
					Driver: driver,
					Path:   filepath.Join(dir, "nested", "creds"),
				},
				RateLimit: RateLimitConfig{RPS: 10, Burst: 1},
				Log:       LogConfig{Level: "error", Format: "text"},
			}
			require.NoError(t, cfg.Validate())

			app, err := New(cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = app.Close() })

			require.False(t, app.Client.IsAuthenticated(t.Context()))
		})
	}
}

func TestUsageListsVariables(t *testing.T) {
	var sb strings.Builder
	Usage(&sb)
	require.Contains(t, sb.String(), "ULM_BASE_URL")
	require.Contains(t, sb.String(), "ULM_STORE_DRIVER")
}
