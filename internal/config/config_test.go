package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Sync.PollInterval = Duration{12 * time.Second}
	cfg.Cache.Backend = "bolt"
	if err := Save(path, &cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Sync.PollInterval.Duration != 12*time.Second {
		t.Errorf("PollInterval = %s, want 12s", loaded.Sync.PollInterval)
	}
	if loaded.Cache.Backend != "bolt" {
		t.Errorf("Cache.Backend = %q, want bolt", loaded.Cache.Backend)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[api]\nbase_url = \"https://api.example.com\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if !cfg.Sync.Push || cfg.Sync.ReconnectDelay.Duration != 5*time.Second {
		t.Errorf("sync defaults lost: %+v", cfg.Sync)
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	if err := Save(path, &cfg); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestResolveEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[sync]\npoll_interval = \"10s\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COSMOS_API_URL", "https://backend.example.com")
	t.Setenv("COSMOS_API_TOKEN", "secret")
	t.Setenv("COSMOS_SYNC_POLL_INTERVAL", "20s")
	t.Setenv("COSMOS_SYNC_PUSH", "false")

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.API.BaseURL != "https://backend.example.com" || cfg.API.Token != "secret" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Sync.PollInterval.Duration != 20*time.Second {
		t.Errorf("PollInterval = %s, want env value 20s", cfg.Sync.PollInterval)
	}
	if cfg.Sync.Push {
		t.Error("Push should be disabled by env")
	}
}

func TestResolveMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Resolve(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Sync.PollInterval.Duration != 5*time.Second {
		t.Errorf("PollInterval = %s, want 5s", cfg.Sync.PollInterval)
	}
}

func TestResolveReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("COSMOS_CACHE_BACKEND=bolt\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("COSMOS_CACHE_BACKEND") })

	cfg, err := Resolve(filepath.Join(dir, "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.Backend != "bolt" {
		t.Errorf("Cache.Backend = %q, want bolt from .env", cfg.Cache.Backend)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad url", func(c *Config) { c.API.BaseURL = "localhost" }, true},
		{"ftp url", func(c *Config) { c.API.BaseURL = "ftp://x" }, true},
		{"bad backend", func(c *Config) { c.Cache.Backend = "redis" }, true},
		{"openai without key", func(c *Config) { c.Copilot.Provider = ProviderOpenAI }, true},
		{"openai with key", func(c *Config) { c.Copilot.Provider = ProviderOpenAI; c.Copilot.APIKey = "sk" }, false},
		{"unknown provider", func(c *Config) { c.Copilot.Provider = "llama" }, true},
		{"zero reconnect", func(c *Config) { c.Sync.ReconnectDelay = Duration{} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateClampsPollInterval(t *testing.T) {
	cfg := Default()
	cfg.Sync.PollInterval = Duration{time.Second}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.PollInterval.Duration != MinPollInterval {
		t.Errorf("PollInterval = %s, want %s", cfg.Sync.PollInterval, MinPollInterval)
	}

	cfg.Sync.PollInterval = Duration{time.Minute}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.PollInterval.Duration != MaxPollInterval {
		t.Errorf("PollInterval = %s, want %s", cfg.Sync.PollInterval, MaxPollInterval)
	}
}
