package config

import (
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Config is the top-level feedsync configuration, corresponding to
// feedsync.yml.
type Config struct {
	Feed     FeedConfig   `yaml:"feed" koanf:"feed"`
	Cache    CacheConfig  `yaml:"cache" koanf:"cache"`
	Store    StoreConfig  `yaml:"store" koanf:"store"`
	Gate     GateConfig   `yaml:"gate" koanf:"gate"`
	Server   ServerConfig `yaml:"server" koanf:"server"`
	LogLevel string       `yaml:"log_level" koanf:"log_level"`
}

// FeedConfig locates the three documents.
type FeedConfig struct {
	BaseURL string `yaml:"base_url" koanf:"base_url"`
	// AssetVersion is sent as the cache-busting query parameter.
	AssetVersion string          `yaml:"asset_version" koanf:"asset_version"`
	Documents    DocumentsConfig `yaml:"documents" koanf:"documents"`
	Timeout      Duration        `yaml:"timeout" koanf:"timeout"`
	UserAgent    string          `yaml:"user_agent" koanf:"user_agent"`
	// AutoRefresh is the polling interval of `serve`; 0 disables it.
	AutoRefresh Duration `yaml:"auto_refresh" koanf:"auto_refresh"`
}

// DocumentsConfig holds document paths relative to the base URL.
type DocumentsConfig struct {
	Config   string `yaml:"config" koanf:"config"`
	Episodes string `yaml:"episodes" koanf:"episodes"`
	Stats    string `yaml:"stats" koanf:"stats"`
}

// CacheConfig tunes the cache orchestrator.
type CacheConfig struct {
	SchemaVersion string    `yaml:"schema_version" koanf:"schema_version"`
	MaxRetries    int       `yaml:"max_retries" koanf:"max_retries"`
	BaseBackoff   Duration  `yaml:"base_backoff" koanf:"base_backoff"`
	TTL           TTLConfig `yaml:"ttl" koanf:"ttl"`
}

// TTLConfig holds per-document cache lifetimes.
type TTLConfig struct {
	Config   Duration `yaml:"config" koanf:"config"`
	Episodes Duration `yaml:"episodes" koanf:"episodes"`
	Stats    Duration `yaml:"stats" koanf:"stats"`
}

// StoreConfig locates the local SQLite store.
type StoreConfig struct {
	Path      string `yaml:"path" koanf:"path"`
	Namespace string `yaml:"namespace" koanf:"namespace"`
	// SessionID scopes gate unlocks. Empty means a new session per process.
	SessionID        string   `yaml:"session_id" koanf:"session_id"`
	JournalRetention Duration `yaml:"journal_retention" koanf:"journal_retention"`
}

// GateConfig tunes the access gate.
type GateConfig struct {
	OverrideParam string `yaml:"override_param" koanf:"override_param"`
	// InsecureContext simulates a context without hashing support.
	InsecureContext bool `yaml:"insecure_context" koanf:"insecure_context"`
}

// ServerConfig configures `feedsync serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" koanf:"addr"`
	// UnlockAttempts limits passphrase submissions per client per
	// UnlockWindow. 0 disables the limit.
	UnlockAttempts int      `yaml:"unlock_attempts" koanf:"unlock_attempts"`
	UnlockWindow   Duration `yaml:"unlock_window" koanf:"unlock_window"`
}

// Duration is a time.Duration written as "5m" in YAML. Bare integers read
// from files or the environment are seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

var durationType = reflect.TypeOf(Duration(0))

// durationHook decodes strings and integer seconds into Duration.
func durationHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return Duration(time.Duration(n) * time.Second), nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return Duration(d), nil
	case int:
		return Duration(time.Duration(v) * time.Second), nil
	case int64:
		return Duration(time.Duration(v) * time.Second), nil
	case float64:
		return Duration(time.Duration(v * float64(time.Second))), nil
	}
	return data, nil
}
