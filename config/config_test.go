package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Cache.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", cfg.Cache.MaxRetries)
	}
	if cfg.Cache.BaseBackoff.Std() != time.Second {
		t.Errorf("base_backoff = %s", cfg.Cache.BaseBackoff)
	}
	if cfg.Feed.Documents.Episodes != "episodes.json" {
		t.Errorf("episodes doc = %q", cfg.Feed.Documents.Episodes)
	}
	if cfg.Gate.OverrideParam != "skipgate" {
		t.Errorf("override param = %q", cfg.Gate.OverrideParam)
	}
	if cfg.Feed.BaseURL != "" {
		t.Error("base_url should have no default")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedsync.yml")

	cfg := DefaultConfig()
	cfg.Feed.BaseURL = "https://feed.example/data/"
	cfg.Cache.TTL.Stats = Duration(90 * time.Second)
	cfg.Store.SessionID = "sess_fixed"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "stats: 1m30s") {
		t.Errorf("durations should be written as strings:\n%s", raw)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Feed.BaseURL != cfg.Feed.BaseURL {
		t.Errorf("base_url = %q", loaded.Feed.BaseURL)
	}
	if loaded.Cache.TTL.Stats != cfg.Cache.TTL.Stats {
		t.Errorf("ttl.stats = %s, want %s", loaded.Cache.TTL.Stats, cfg.Cache.TTL.Stats)
	}
	if loaded.Store.SessionID != "sess_fixed" {
		t.Errorf("session_id = %q", loaded.Store.SessionID)
	}
	if loaded.Cache.MaxRetries != 3 {
		t.Errorf("max_retries = %d", loaded.Cache.MaxRetries)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Cache.TTL.Config.Std() != time.Hour {
		t.Errorf("ttl.config = %s", cfg.Cache.TTL.Config)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedsync.yml")
	body := "feed:\n  base_url: https://feed.example/\ncache:\n  ttl:\n    episodes: 30s\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.TTL.Episodes.Std() != 30*time.Second {
		t.Errorf("ttl.episodes = %s", cfg.Cache.TTL.Episodes)
	}
	if cfg.Cache.TTL.Stats.Std() != 2*time.Minute {
		t.Errorf("ttl.stats default lost: %s", cfg.Cache.TTL.Stats)
	}
	if cfg.Feed.Documents.Config != "config.json" {
		t.Errorf("documents.config default lost: %q", cfg.Feed.Documents.Config)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FEEDSYNC_FEED__BASE_URL", "https://env.example/")
	t.Setenv("FEEDSYNC_CACHE__MAX_RETRIES", "5")
	t.Setenv("FEEDSYNC_CACHE__TTL__STATS", "45")
	t.Setenv("FEEDSYNC_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Feed.BaseURL != "https://env.example/" {
		t.Errorf("base_url = %q", cfg.Feed.BaseURL)
	}
	if cfg.Cache.MaxRetries != 5 {
		t.Errorf("max_retries = %d", cfg.Cache.MaxRetries)
	}
	if cfg.Cache.TTL.Stats.Std() != 45*time.Second {
		t.Errorf("ttl.stats = %s, want 45s", cfg.Cache.TTL.Stats)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedsync.yml")
	os.WriteFile(path, []byte("cache:\n  base_backoff: soon\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.Feed.BaseURL = "https://feed.example/"
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Feed.BaseURL = "" }},
		{"non-http base url", func(c *Config) { c.Feed.BaseURL = "file:///etc/feed" }},
		{"empty document", func(c *Config) { c.Feed.Documents.Stats = "" }},
		{"zero retries", func(c *Config) { c.Cache.MaxRetries = 0 }},
		{"negative ttl", func(c *Config) { c.Cache.TTL.Episodes = Duration(-time.Second) }},
		{"no schema version", func(c *Config) { c.Cache.SchemaVersion = "" }},
		{"no store path", func(c *Config) { c.Store.Path = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
