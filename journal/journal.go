// CLAUDE:SUMMARY SQLite journal of bus events with session ids, recent-event queries and retention pruning.
// Package journal records bus events into SQLite so a session's history
// (loads, gate transitions, navigation) can be inspected after the fact.
// Writes are best effort: a failing journal logs and never blocks the bus.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/feedsync/eventbus"
	"github.com/hazyhaar/feedsync/idgen"
)

// Schema is the journal table. It shares the kvstore database.
const Schema = `
CREATE TABLE IF NOT EXISTS feed_events (
    event_id   TEXT PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    name       TEXT NOT NULL,
    payload    TEXT NOT NULL DEFAULT 'null',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feed_events_time ON feed_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_feed_events_name ON feed_events(name, created_at DESC);
`

// Init applies Schema.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Record is one journaled event.
type Record struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id,omitempty"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	At        time.Time       `json:"at"`
}

// Journal writes and reads feed_events.
type Journal struct {
	db        *sql.DB
	newID     idgen.Generator
	now       func() time.Time
	logger    *slog.Logger
	sessionID string
}

// Option configures a Journal.
type Option func(*Journal)

// WithIDGenerator sets the event id generator.
func WithIDGenerator(gen idgen.Generator) Option { return func(j *Journal) { j.newID = gen } }

// WithClock sets the timestamp source.
func WithClock(fn func() time.Time) Option { return func(j *Journal) { j.now = fn } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(j *Journal) { j.logger = l } }

// WithSessionID tags every record with the session id.
func WithSessionID(id string) Option { return func(j *Journal) { j.sessionID = id } }

// New creates a Journal. Call Init first.
func New(db *sql.DB, opts ...Option) *Journal {
	j := &Journal{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Record stores one event. Errors are logged, not returned.
func (j *Journal) Record(ctx context.Context, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		j.logger.WarnContext(ctx, "journal: payload not encodable", "event", name, "error", err)
		data = []byte("null")
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO feed_events (event_id, session_id, name, payload, created_at)
		VALUES (?,?,?,?,?)`,
		j.newID(), j.sessionID, name, string(data), j.now().UnixMilli())
	if err != nil {
		j.logger.WarnContext(ctx, "journal: write failed", "event", name, "error", err)
	}
}

// Attach journals the named events published on bus (all known events when
// names is empty). The returned func detaches.
func (j *Journal) Attach(bus *eventbus.Bus, names ...string) (detach func()) {
	if len(names) == 0 {
		names = eventbus.All()
	}
	unsubs := make([]func(), 0, len(names))
	for _, name := range names {
		name := name
		unsubs = append(unsubs, bus.Subscribe(name, func(payload any) {
			j.Record(context.Background(), name, payload)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Recent returns up to n records, newest first. A non-empty name filters.
func (j *Journal) Recent(ctx context.Context, n int, name string) ([]Record, error) {
	if n <= 0 {
		n = 50
	}
	q := `SELECT event_id, session_id, name, payload, created_at FROM feed_events`
	args := []any{}
	if name != "" {
		q += ` WHERE name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, n)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var payload string
		var ms int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Name, &payload, &ms); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		r.Payload = json.RawMessage(payload)
		r.At = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes records older than maxAge and reports how many went.
func (j *Journal) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := j.now().Add(-maxAge).UnixMilli()
	res, err := j.db.ExecContext(ctx, `DELETE FROM feed_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		j.logger.InfoContext(ctx, "journal: pruned", "rows", n, "max_age", maxAge)
	}
	return n, nil
}
