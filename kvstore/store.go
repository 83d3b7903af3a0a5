// CLAUDE:SUMMARY Namespaced JSON key/value store over one SQLite table; read failures keep defaults, write failures are logged and swallowed.
// Package kvstore is a namespaced JSON key/value store over SQLite.
//
// Every key is stored under a fixed prefix so one namespace can be cleared
// without touching unrelated rows. Reads never fail: a missing or corrupt
// record leaves the caller's default in place. Writes never fail either:
// encode, size and SQL errors are logged as *StorageError warnings and
// counted, and callers keep whatever in-memory copy they already hold.
package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultPrefix namespaces all keys written by feedsync.
const DefaultPrefix = "feedsync:"

// Store is a namespaced view over the kv table. It is safe for concurrent use.
type Store struct {
	db       *sql.DB
	prefix   string
	logger   *slog.Logger
	maxValue int
	now      func() time.Time

	counters *counters
}

type counters struct {
	reads    atomic.Int64
	misses   atomic.Int64
	writes   atomic.Int64
	failures atomic.Int64
}

// Stats are point-in-time counters shared by a store and its namespaces.
type Stats struct {
	Reads    int64 `json:"reads"`
	Misses   int64 `json:"misses"`
	Writes   int64 `json:"writes"`
	Failures int64 `json:"failures"`
}

// Option configures a Store.
type Option func(*Store)

// WithMaxValueBytes rejects encoded values larger than n bytes, the local
// equivalent of a storage quota. 0 disables the limit.
func WithMaxValueBytes(n int) Option { return func(s *Store) { s.maxValue = n } }

// WithClock sets the clock used for updated_at.
func WithClock(fn func() time.Time) Option { return func(s *Store) { s.now = fn } }

// New returns a Store over db using prefix (DefaultPrefix when empty).
func New(db *sql.DB, prefix string, logger *slog.Logger, opts ...Option) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:       db,
		prefix:   prefix,
		logger:   logger,
		now:      time.Now,
		counters: &counters{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Namespace returns a nested store whose keys live under prefix+name+":".
// Clearing the nested store leaves the parent's other keys alone.
func (s *Store) Namespace(name string) *Store {
	sub := *s
	sub.prefix = s.prefix + name + ":"
	return &sub
}

// Prefix returns the full key prefix of this store.
func (s *Store) Prefix() string { return s.prefix }

// Get decodes the value stored under key into dst and reports whether it did.
// A missing or undecodable record returns false and leaves dst untouched.
func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	s.counters.reads.Add(1)
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, s.prefix+key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		s.counters.misses.Add(1)
		return false
	}
	if err != nil {
		s.warn(ctx, &StorageError{Op: "get", Key: key, Err: err})
		s.counters.misses.Add(1)
		return false
	}

	// Decode into a fresh value so a partial decode never leaks into dst.
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		s.warn(ctx, &StorageError{Op: "get", Key: key, Err: ErrInvalidTarget})
		return false
	}
	tmp := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal([]byte(raw), tmp.Interface()); err != nil {
		s.warn(ctx, &StorageError{Op: "get", Key: key, Err: ErrCorrupt})
		s.counters.misses.Add(1)
		return false
	}
	rv.Elem().Set(tmp.Elem())
	return true
}

// Set stores value under key. Failures are logged and swallowed.
func (s *Store) Set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.warn(ctx, &StorageError{Op: "set", Key: key, Err: err})
		return
	}
	if s.maxValue > 0 && len(data) > s.maxValue {
		s.warn(ctx, &StorageError{Op: "set", Key: key, Err: ErrQuotaExceeded})
		return
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.prefix+key, string(data), s.now().UnixMilli())
	if err != nil {
		s.warn(ctx, &StorageError{Op: "set", Key: key, Err: err})
		return
	}
	s.counters.writes.Add(1)
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, s.prefix+key); err != nil {
		s.warn(ctx, &StorageError{Op: "remove", Key: key, Err: err})
	}
}

// Has reports whether a record exists under key, decodable or not.
func (s *Store) Has(ctx context.Context, key string) bool {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv WHERE key = ?`, s.prefix+key).Scan(&n)
	if err != nil {
		s.warn(ctx, &StorageError{Op: "has", Key: key, Err: err})
		return false
	}
	return n > 0
}

// Keys lists the keys of this namespace with the prefix stripped, sorted.
func (s *Store) Keys(ctx context.Context) []string {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE key LIKE ? ESCAPE '\' ORDER BY key`, likePrefix(s.prefix))
	if err != nil {
		s.warn(ctx, &StorageError{Op: "keys", Err: err})
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			s.warn(ctx, &StorageError{Op: "keys", Err: err})
			return keys
		}
		keys = append(keys, strings.TrimPrefix(k, s.prefix))
	}
	return keys
}

// ClearNamespace deletes every key under this store's prefix.
func (s *Store) ClearNamespace(ctx context.Context) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key LIKE ? ESCAPE '\'`, likePrefix(s.prefix))
	if err != nil {
		s.warn(ctx, &StorageError{Op: "clear", Err: err})
	}
}

// Stats returns the shared counters.
func (s *Store) Stats() Stats {
	return Stats{
		Reads:    s.counters.reads.Load(),
		Misses:   s.counters.misses.Load(),
		Writes:   s.counters.writes.Load(),
		Failures: s.counters.failures.Load(),
	}
}

func (s *Store) warn(ctx context.Context, err *StorageError) {
	s.counters.failures.Add(1)
	s.logger.WarnContext(ctx, "kvstore: non-fatal storage failure",
		"op", err.Op, "key", err.Key, "prefix", s.prefix, "error", err.Err)
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
