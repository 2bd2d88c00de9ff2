// Package console wires configuration, logging, the credential store and the
// ULM client together for the ulmctl command.
//
// Configuration sources, highest priority first:
//  1. explicit --config path;
//  2. ULM_CONFIG;
//  3. $XDG_CONFIG_HOME/ulm/config.yaml (or the OS equivalent) if present;
//  4. environment variables only.
//
// Environment variables always override values read from a file.
package console

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Store drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	BaseURL      string          `yaml:"base_url"      env:"ULM_BASE_URL"      env-default:"http://localhost:8000" env-description:"ULM backend base URL"`
	Timeout      time.Duration   `yaml:"timeout"       env:"ULM_TIMEOUT"       env-default:"10s"                   env-description:"Per-request timeout"`
	ExpiryBuffer time.Duration   `yaml:"expiry_buffer" env:"ULM_EXPIRY_BUFFER" env-default:"30s"                   env-description:"Refresh access tokens this long before they expire"`
	Env          string          `yaml:"env"           env:"ENV"               env-default:"prod"                  env-description:"Environment (dev adds source locations to logs)"`
	Store        StoreConfig     `yaml:"store"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	Log          LogConfig       `yaml:"log"`
}

// StoreConfig selects where credentials live.
type StoreConfig struct {
	Driver     string `yaml:"driver"     env:"ULM_STORE_DRIVER"     env-default:"file" env-description:"Credential store: file, sqlite or memory"`
	Path       string `yaml:"path"       env:"ULM_STORE_PATH"                          env-description:"Credential store location (default under the user config dir)"`
	Passphrase string `yaml:"passphrase" env:"ULM_STORE_PASSPHRASE"                    env-description:"Encrypts the file store when set"`
}

// RateLimitConfig throttles outgoing requests.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"   env:"ULM_RATE_LIMIT_RPS"   env-default:"0" env-description:"Max requests per second, 0 disables"`
	Burst int     `yaml:"burst" env:"ULM_RATE_LIMIT_BURST" env-default:"5" env-description:"Requests allowed in a burst"`
}

// LogConfig controls diagnostic output on stderr.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"warn" env-description:"debug, info, warn or error"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text" env-description:"text or json"`
}

// Load reads the configuration. path may be empty.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("ULM_CONFIG")
	}

	switch {
	case path != "":
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	case defaultConfigExists():
		if err := cleanenv.ReadConfig(DefaultConfigPath(), &cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", DefaultConfigPath(), err)
		}
	default:
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read env: %w", err)
		}
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath(cfg.Store.Driver)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid ULM_BASE_URL %q", c.BaseURL)
	}

	if c.Timeout <= 0 {
		return errors.New("ULM_TIMEOUT must be positive")
	}

	if c.ExpiryBuffer < 0 {
		return errors.New("ULM_EXPIRY_BUFFER must not be negative")
	}

	if !slices.Contains([]string{DriverFile, DriverSQLite, DriverMemory}, c.Store.Driver) {
		return fmt.Errorf("unknown ULM_STORE_DRIVER %q", c.Store.Driver)
	}

	if c.Store.Driver != DriverMemory && c.Store.Path == "" {
		return errors.New("ULM_STORE_PATH is required")
	}

	if c.RateLimit.RPS < 0 {
		return errors.New("ULM_RATE_LIMIT_RPS must not be negative")
	}

	return nil
}

// Usage writes the list of environment variables to w.
func Usage(w io.Writer) {
	var cfg Config
	header := "Environment variables:"
	cleanenv.FUsage(w, &cfg, &header)()
}

// DefaultConfigPath is the config file read when no path is given.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ulm", "config.yaml")
}

func defaultConfigExists() bool {
	p := DefaultConfigPath()
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

func defaultStorePath(driver string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}

	switch driver {
	case DriverSQLite:
		return filepath.Join(dir, "ulm", "credentials.db")
	case DriverFile:
		return filepath.Join(dir, "ulm", "credentials.json")
	default:
		return ""
	}
}
