// Package config loads ~/.cosmos/config.toml, applies COSMOS_* environment
// overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COSMOS_"

// Poll interval bounds.
const (
	MinPollInterval = 5 * time.Second
	MaxPollInterval = 30 * time.Second
)

// Copilot providers.
const (
	ProviderBackend = "backend"
	ProviderOpenAI  = "openai"
)

// Duration is a time.Duration written as "5s" in TOML and the environment.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents ~/.cosmos/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session" env:"SESSION"`
	API            APIConfig     `toml:"api" envPrefix:"API_"`
	Sync           SyncConfig    `toml:"sync" envPrefix:"SYNC_"`
	Cache          CacheConfig   `toml:"cache" envPrefix:"CACHE_"`
	Copilot        CopilotConfig `toml:"copilot" envPrefix:"COPILOT_"`
	Metrics        MetricsConfig `toml:"metrics" envPrefix:"METRICS_"`
	LogLevel       string        `toml:"log_level" env:"LOG_LEVEL"`
}

// APIConfig locates the backend.
type APIConfig struct {
	BaseURL string   `toml:"base_url" env:"URL"`
	Token   string   `toml:"token" env:"TOKEN"`
	Timeout Duration `toml:"timeout" env:"TIMEOUT"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// Push disables the WebSocket channel when false; polling still runs.
	Push           bool     `toml:"push" env:"PUSH"`
	PollInterval   Duration `toml:"poll_interval" env:"POLL_INTERVAL"`
	ReconnectDelay Duration `toml:"reconnect_delay" env:"RECONNECT_DELAY"`
	DedupWindow    Duration `toml:"dedup_window" env:"DEDUP_WINDOW"`
}

// CacheConfig selects the durable message cache backend.
type CacheConfig struct {
	Backend string `toml:"backend" env:"BACKEND"`
	// Path overrides the per-session default location.
	Path string `toml:"path" env:"PATH"`
}

// CopilotConfig selects the suggestion provider.
type CopilotConfig struct {
	Provider string `toml:"provider" env:"PROVIDER"`
	APIKey   string `toml:"api_key" env:"API_KEY"`
	BaseURL  string `toml:"base_url" env:"BASE_URL"`
	Model    string `toml:"model" env:"MODEL"`
}

// MetricsConfig enables the Prometheus listener.
type MetricsConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:9464". Empty disables it.
	Addr string `toml:"addr" env:"ADDR"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
			Timeout: Duration{30 * time.Second},
		},
		Sync: SyncConfig{
			Push:           true,
			PollInterval:   Duration{5 * time.Second},
			ReconnectDelay: Duration{5 * time.Second},
			DedupWindow:    Duration{5 * time.Second},
		},
		Cache:    CacheConfig{Backend: "sqlite"},
		Copilot:  CopilotConfig{Provider: ProviderBackend},
		LogLevel: "info",
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve builds the effective configuration: defaults, then the file at
// path if it exists, then a .env file in the working directory and COSMOS_*
// variables. The result is validated.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		d := Default()
		cfg, err = &d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	_ = godotenv.Load()
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and clamps the poll interval into
// [MinPollInterval, MaxPollInterval].
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api.base_url %q must be an http(s) URL", c.API.BaseURL)
	}
	if c.Sync.PollInterval.Duration < MinPollInterval {
		c.Sync.PollInterval.Duration = MinPollInterval
	}
	if c.Sync.PollInterval.Duration > MaxPollInterval {
		c.Sync.PollInterval.Duration = MaxPollInterval
	}
	if c.Sync.ReconnectDelay.Duration <= 0 {
		return errors.New("sync.reconnect_delay must be positive")
	}
	if c.Sync.DedupWindow.Duration <= 0 {
		return errors.New("sync.dedup_window must be positive")
	}
	switch c.Cache.Backend {
	case "", "sqlite", "bolt":
	default:
		return fmt.Errorf("cache.backend %q: want sqlite or bolt", c.Cache.Backend)
	}
	switch c.Copilot.Provider {
	case "", ProviderBackend:
	case ProviderOpenAI:
		if c.Copilot.APIKey == "" {
			return errors.New("copilot.api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("copilot.provider %q: want %s or %s", c.Copilot.Provider, ProviderBackend, ProviderOpenAI)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
