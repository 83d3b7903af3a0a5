package kvstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Schema is the key/value table shared by every namespace.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

type openConfig struct {
	driver      string
	busyTimeout int
	mkdirAll    bool
	schemas     []string
}

// OpenOption customises Open.
type OpenOption func(*openConfig)

// WithDriver sets the database/sql driver name. Default: "sqlite".
func WithDriver(name string) OpenOption { return func(c *openConfig) { c.driver = name } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 5000.
func WithBusyTimeout(ms int) OpenOption { return func(c *openConfig) { c.busyTimeout = ms } }

// WithMkdirAll creates the parent directory of the database path.
func WithMkdirAll() OpenOption { return func(c *openConfig) { c.mkdirAll = true } }

// WithSchema queues extra SQL executed after the kv table is created.
// Used by packages that share the store database (journal).
func WithSchema(s string) OpenOption {
	return func(c *openConfig) { c.schemas = append(c.schemas, s) }
}

// Open opens the SQLite database at path, applies pragmas and creates the kv
// table. The caller must blank-import a driver (modernc.org/sqlite).
func Open(path string, opts ...OpenOption) (*sql.DB, error) {
	cfg := openConfig{driver: "sqlite", busyTimeout: 5000}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("kvstore: mkdir: %w", err)
		}
	}

	db, err := sql.Open(cfg.driver, path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("kvstore: %s: %w", p, err)
		}
	}

	for _, s := range append([]string{Schema}, cfg.schemas...) {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("kvstore: exec schema: %w", err)
		}
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests. MaxOpenConns is pinned to
// 1 because every connection to ":memory:" is a separate database.
func OpenMemory(t testing.TB, opts ...OpenOption) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("kvstore.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
