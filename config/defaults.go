package config

import "time"

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "feedsync.yml"

// DefaultConfig returns a Config with sensible defaults. BaseURL has no
// default and must be configured.
func DefaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			AssetVersion: "1",
			Documents: DocumentsConfig{
				Config:   "config.json",
				Episodes: "episodes.json",
				Stats:    "stats.json",
			},
			Timeout:     Duration(15 * time.Second),
			UserAgent:   "feedsync/1.0",
			AutoRefresh: Duration(time.Minute),
		},
		Cache: CacheConfig{
			SchemaVersion: "1",
			MaxRetries:    3,
			BaseBackoff:   Duration(time.Second),
			TTL: TTLConfig{
				Config:   Duration(time.Hour),
				Episodes: Duration(5 * time.Minute),
				Stats:    Duration(2 * time.Minute),
			},
		},
		Store: StoreConfig{
			Path:             "feedsync.db",
			Namespace:        "feedsync:",
			JournalRetention: Duration(7 * 24 * time.Hour),
		},
		Gate: GateConfig{
			OverrideParam: "skipgate",
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8089",
			UnlockAttempts: 5,
			UnlockWindow:   Duration(time.Minute),
		},
		LogLevel: "info",
	}
}
