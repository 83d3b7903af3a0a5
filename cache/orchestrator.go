// CLAUDE:SUMMARY Two-tier document cache (memory + kvstore) with TTL and schema-version validity, singleflight coalescing and retrying fetches.
// Package cache is the two-tier document cache in front of the feed's HTTP
// documents.
//
// A Fetch is served, in order, from the in-memory tier, from the persistent
// kvstore tier (promoting the entry into memory), from a request already in
// flight for the same key, or from the network with retry. Entries are valid
// while younger than the caller's TTL and stamped with the current schema
// version; a version mismatch invalidates regardless of age.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/feedsync/kvstore"
)

// DefaultSchemaVersion stamps entries when no version is configured.
const DefaultSchemaVersion = "1"

// DefaultMaxRetries is the number of network attempts per fetch.
const DefaultMaxRetries = 3

// Entry is a cached payload. Only the orchestrator creates or reads entries.
type Entry struct {
	Key           string          `json:"key"`
	Payload       json.RawMessage `json:"payload"`
	FetchedAt     int64           `json:"fetchedAt"` // unix milliseconds
	SchemaVersion string          `json:"schemaVersion"`
}

func (e Entry) validAt(now time.Time, ttl time.Duration, version string) bool {
	if e.SchemaVersion != version {
		return false
	}
	return now.Sub(time.UnixMilli(e.FetchedAt)) < ttl
}

// Options controls one Fetch.
type Options struct {
	// UseCache allows the two cache tiers to answer. When false the network
	// is always consulted, but the result is still written back.
	UseCache bool
	// TTL is the maximum entry age. Zero means cached entries never satisfy.
	TTL time.Duration
	// Validator rejects a parsed body before it is transformed or cached.
	Validator func(json.RawMessage) error
	// Transform maps the validated body to the payload that is cached.
	Transform func(json.RawMessage) (json.RawMessage, error)
	// MaxRetries is the total number of network attempts. Default: 3.
	MaxRetries int
}

// Stats are point-in-time counters.
type Stats struct {
	MemoryHits     int64 `json:"memory_hits"`
	PersistentHits int64 `json:"persistent_hits"`
	Loads          int64 `json:"loads"`
	NetworkCalls   int64 `json:"network_calls"`
	Retries        int64 `json:"retries"`
	Coalesced      int64 `json:"coalesced"`
	Discarded      int64 `json:"discarded_writebacks"`
}

// token identifies the cache generation a load started under. A write-back
// whose token is stale was overtaken by an invalidation and is dropped.
type token struct {
	epoch uint64
	gen   uint64
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	fetcher       Fetcher
	store         *kvstore.Store
	logger        *slog.Logger
	now           func() time.Time
	sleep         func(context.Context, time.Duration) error
	baseBackoff   time.Duration
	schemaVersion string

	mu     sync.Mutex
	mem    map[string]Entry
	gens   map[string]uint64
	epoch  uint64
	flight *singleflight.Group

	memHits, persistHits, loads, network, retries, coalesced, discarded atomic.Int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for entry ages.
func WithClock(fn func() time.Time) Option { return func(o *Orchestrator) { o.now = fn } }

// WithSleep replaces the backoff timer (tests).
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithBaseBackoff sets the first retry delay; it doubles on each attempt.
func WithBaseBackoff(d time.Duration) Option { return func(o *Orchestrator) { o.baseBackoff = d } }

// WithSchemaVersion sets the stamp attached to every entry. Changing it
// orphans all previously persisted entries.
func WithSchemaVersion(v string) Option { return func(o *Orchestrator) { o.schemaVersion = v } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// New creates an Orchestrator persisting into store.
func New(store *kvstore.Store, fetcher Fetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:       fetcher,
		store:         store,
		logger:        slog.Default(),
		now:           time.Now,
		sleep:         sleepContext,
		baseBackoff:   time.Second,
		schemaVersion: DefaultSchemaVersion,
		mem:           make(map[string]Entry),
		gens:          make(map[string]uint64),
		flight:        &singleflight.Group{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SchemaVersion returns the current entry stamp.
func (o *Orchestrator) SchemaVersion() string { return o.schemaVersion }

// Fetch returns the payload for key. Concurrent callers for a key that is
// not cached share one network request. If ctx ends first the caller gets
// ctx.Err(), but the request and its write-back still complete.
func (o *Orchestrator) Fetch(ctx context.Context, key string, opts Options) (json.RawMessage, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	if opts.UseCache {
		if payload, ok := o.lookup(ctx, key, opts.TTL); ok {
			return payload, nil
		}
	}

	o.mu.Lock()
	tok := token{epoch: o.epoch, gen: o.gens[key]}
	group := o.flight
	o.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := group.DoChan(key, func() (any, error) {
		return o.load(detached, key, opts, tok)
	})

	select {
	case res := <-ch:
		if res.Shared {
			o.coalesced.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchInto fetches key and decodes the payload into a T.
func FetchInto[T any](ctx context.Context, o *Orchestrator, key string, opts Options) (T, error) {
	var v T
	raw, err := o.Fetch(ctx, key, opts)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &ValidationError{Key: key, Err: err}
	}
	return v, nil
}

func (o *Orchestrator) lookup(ctx context.Context, key string, ttl time.Duration) (json.RawMessage, bool) {
	now := o.now()

	o.mu.Lock()
	e, ok := o.mem[key]
	if ok && e.SchemaVersion != o.schemaVersion {
		delete(o.mem, key)
		ok = false
	}
	o.mu.Unlock()
	if ok && e.validAt(now, ttl, o.schemaVersion) {
		o.memHits.Add(1)
		return e.Payload, true
	}

	var pe Entry
	if !o.store.Get(ctx, key, &pe) {
		return nil, false
	}
	if pe.SchemaVersion != o.schemaVersion {
		o.logger.DebugContext(ctx, "cache: dropping entry from older schema",
			"key", key, "entry_version", pe.SchemaVersion, "current_version", o.schemaVersion)
		o.store.Remove(ctx, key)
		return nil, false
	}
	if !pe.validAt(now, ttl, o.schemaVersion) {
		return nil, false
	}

	o.mu.Lock()
	o.mem[key] = pe
	o.mu.Unlock()
	o.persistHits.Add(1)
	return pe.Payload, true
}

func (o *Orchestrator) load(ctx context.Context, key string, opts Options, tok token) (any, error) {
	o.loads.Add(1)
	body, err := o.fetchWithRetry(ctx, key, opts.MaxRetries)
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		return nil, &ValidationError{Key: key, Err: ErrMalformedJSON}
	}
	payload := json.RawMessage(body)
	if opts.Validator != nil {
		if err := opts.Validator(payload); err != nil {
			return nil, &ValidationError{Key: key, Err: err}
		}
	}
	if opts.Transform != nil {
		payload, err = opts.Transform(payload)
		if err != nil {
			return nil, &ValidationError{Key: key, Err: err}
		}
	}

	o.writeBack(ctx, key, payload, tok)
	return payload, nil
}

func (o *Orchestrator) writeBack(ctx context.Context, key string, payload json.RawMessage, tok token) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if tok.epoch != o.epoch || tok.gen != o.gens[key] {
		o.discarded.Add(1)
		o.logger.DebugContext(ctx, "cache: write-back overtaken by invalidation", "key", key)
		return
	}
	e := Entry{
		Key:           key,
		Payload:       payload,
		FetchedAt:     o.now().UnixMilli(),
		SchemaVersion: o.schemaVersion,
	}
	o.mem[key] = e
	o.store.Set(ctx, key, e)
}

// Invalidate drops the given keys from both tiers. With no keys it clears
// the whole cache namespace. Requests in flight for a dropped key still
// settle for their callers but are not written back, and the next Fetch
// issues a fresh request.
func (o *Orchestrator) Invalidate(ctx context.Context, keys ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(keys) == 0 {
		o.epoch++
		o.mem = make(map[string]Entry)
		o.flight = &singleflight.Group{}
		o.store.ClearNamespace(ctx)
		o.logger.InfoContext(ctx, "cache: cleared")
		return
	}
	for _, k := range keys {
		o.gens[k]++
		delete(o.mem, k)
		o.flight.Forget(k)
		o.store.Remove(ctx, k)
	}
	o.logger.InfoContext(ctx, "cache: invalidated", "keys", keys)
}

// Peek returns the entry held in memory for key without any validity check.
func (o *Orchestrator) Peek(key string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.mem[key]
	return e, ok
}

// Stats returns the current counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		MemoryHits:     o.memHits.Load(),
		PersistentHits: o.persistHits.Load(),
		Loads:          o.loads.Load(),
		NetworkCalls:   o.network.Load(),
		Retries:        o.retries.Load(),
		Coalesced:      o.coalesced.Load(),
		Discarded:      o.discarded.Load(),
	}
}
