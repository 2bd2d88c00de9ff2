package console

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aussiebroadwan/ulm/pkg/httpx"
	"github.com/aussiebroadwan/ulm/pkg/slogx"
	"github.com/aussiebroadwan/ulm/pkg/tokenstore"
	"github.com/aussiebroadwan/ulm/pkg/ulmsdk"
)

// BuildVersion should be set at build time via ldflags.
var BuildVersion = "v0.1.0"

// App holds the single client instance the process uses.
type App struct {
	Config *Config
	Logger *slog.Logger
	Store  *tokenstore.Store
	Client *ulmsdk.Client
}

// New builds the logger, opens the credential store and creates the client.
func New(cfg *Config) (*App, error) {
	logger := slogx.New(slogx.Config{
		Service: "ulmctl",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
	})

	backend, err := openBackend(cfg.Store)
	if err != nil {
		return nil, err
	}
	store := tokenstore.New(backend)

	transport := httpx.NewRateLimitTransport(
		http.DefaultTransport,
		httpx.PerSecond(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)

	client := ulmsdk.New(cfg.BaseURL, store,
		ulmsdk.WithLogger(logger),
		ulmsdk.WithTransport(transport),
		ulmsdk.WithTimeout(cfg.Timeout),
		ulmsdk.WithExpiryBuffer(cfg.ExpiryBuffer),
	)

	logger.Debug("console initialised",
		"base_url", cfg.BaseURL,
		"store_driver", cfg.Store.Driver,
	)

	return &App{
		Config: cfg,
		Logger: logger,
		Store:  store,
		Client: client,
	}, nil
}

// Close releases the credential store.
func (a *App) Close() error {
	return a.Store.Close()
}

func openBackend(cfg StoreConfig) (tokenstore.Backend, error) {
	switch cfg.Driver {
	case DriverMemory:
		return tokenstore.NewMemoryBackend(), nil
	case DriverFile:
		return tokenstore.NewFileBackend(cfg.Path, cfg.Passphrase), nil
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		b, err := tokenstore.NewSQLiteBackend(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
