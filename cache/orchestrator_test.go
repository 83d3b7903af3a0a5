package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"pgregory.net/rapid"

	"github.com/hazyhaar/feedsync/kvstore"
)

// scriptedFetcher returns queued results in order, then repeats the last.
type scriptedFetcher struct {
	mu      sync.Mutex
	calls   int
	results []result
	block   chan struct{} // when non-nil, every call waits for it
	started chan struct{} // closed on the first call
	once    sync.Once
}

type result struct {
	body string
	err  error
}

func (f *scriptedFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}

	i := n - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	r := f.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func transportErr() error {
	return &TransportError{URL: "http://feed.test/x", Err: errors.New("connection refused")}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newStore(t *testing.T) *kvstore.Store {
	t.Helper()
	return kvstore.New(kvstore.OpenMemory(t), "", nil).Namespace("cache")
}

var cached = Options{UseCache: true, TTL: time.Minute}

func TestFetch_MemoryHit(t *testing.T) {
	f := &scriptedFetcher{results: []result{{body: `{"n":1}`}}}
	clock := newClock()
	o := New(newStore(t), f, WithClock(clock.Now), WithSleep(noSleep))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := o.Fetch(ctx, "stats.json", cached)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != `{"n":1}` {
			t.Errorf("payload = %s", got)
		}
		clock.Advance(10 * time.Second)
	}
	if f.Calls() != 1 {
		t.Errorf("network calls = %d, want 1", f.Calls())
	}
	if o.Stats().MemoryHits != 2 {
		t.Errorf("memory hits = %d, want 2", o.Stats().MemoryHits)
	}
}

func TestFetch_PersistentTierPromoted(t *testing.T) {
	// WHAT: A fresh orchestrator over the same store is served from disk.
	// WHY: A page reload must not refetch documents still within TTL.
	store := newStore(t)
	clock := newClock()
	ctx := context.Background()

	first := &scriptedFetcher{results: []result{{body: `[1]`}}}
	if _, err := New(store, first, WithClock(clock.Now)).Fetch(ctx, "episodes.json", cached); err != nil {
		t.Fatal(err)
	}

	second := &scriptedFetcher{results: []result{{body: `[2]`}}}
	o := New(store, second, WithClock(clock.Now))
	got, err := o.Fetch(ctx, "episodes.json", cached)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `[1]` || second.Calls() != 0 {
		t.Errorf("payload = %s, calls = %d", got, second.Calls())
	}
	if _, ok := o.Peek("episodes.json"); !ok {
		t.Error("persistent hit should be promoted into memory")
	}
	if o.Stats().PersistentHits != 1 {
		t.Errorf("persistent hits = %d", o.Stats().PersistentHits)
	}
}

func TestFetch_TTLExpiry(t *testing.T) {
	f := &scriptedFetcher{results: []result{{body: `1`}, {body: `2`}}}
	clock := newClock()
	o := New(newStore(t), f, WithClock(clock.Now))
	ctx := context.Background()

	o.Fetch(ctx, "k", cached)
	clock.Advance(time.Minute)
	got, err := o.Fetch(ctx, "k", cached)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `2` || f.Calls() != 2 {
		t.Errorf("payload = %s, calls = %d; entry at exactly TTL must be stale", got, f.Calls())
	}
}

func TestFetch_UseCacheFalseAlwaysFetches(t *testing.T) {
	f := &scriptedFetcher{results: []result{{body: `1`}, {body: `2`}}}
	o := New(newStore(t), f)
	ctx := context.Background()

	o.Fetch(ctx, "k", cached)
	got, _ := o.Fetch(ctx, "k", Options{TTL: time.Minute})
	if string(got) != `2` || f.Calls() != 2 {
		t.Errorf("payload = %s, calls = %d", got, f.Calls())
	}
	// The bypassing fetch still wrote back.
	got, _ = o.Fetch(ctx, "k", cached)
	if string(got) != `2` || f.Calls() != 2 {
		t.Errorf("payload = %s, calls = %d", got, f.Calls())
	}
}

func TestFetch_SchemaVersionBump(t *testing.T) {
	store := newStore(t)
	clock := newClock()
	ctx := context.Background()

	old := &scriptedFetcher{results: []result{{body: `"v1 shape"`}}}
	New(store, old, WithClock(clock.Now), WithSchemaVersion("1")).Fetch(ctx, "k", cached)

	fresh := &scriptedFetcher{results: []result{{body: `"v2 shape"`}}}
	o := New(store, fresh, WithClock(clock.Now), WithSchemaVersion("2"))
	got, err := o.Fetch(ctx, "k", cached)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `"v2 shape"` || fresh.Calls() != 1 {
		t.Errorf("payload = %s, calls = %d; pre-bump entry must not be served", got, fresh.Calls())
	}

	var e Entry
	if !store.Get(ctx, "k", &e) || e.SchemaVersion != "2" {
		t.Errorf("persisted entry = %+v", e)
	}
}

func TestFetch_ConcurrentCallersShareOneRequest(t *testing.T) {
	f := &scriptedFetcher{
		results: []result{{body: `{"ok":true}`}},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	o := New(newStore(t), f)

	const n = 20
	var wg sync.WaitGroup
	payloads := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := o.Fetch(context.Background(), "episodes.json", cached)
			payloads[i], errs[i] = string(p), err
		}(i)
	}

	<-f.started
	time.Sleep(50 * time.Millisecond)
	close(f.block)
	wg.Wait()

	if f.Calls() != 1 {
		t.Errorf("network calls = %d, want 1", f.Calls())
	}
	for i := range payloads {
		if errs[i] != nil || payloads[i] != `{"ok":true}` {
			t.Errorf("caller %d: payload=%q err=%v", i, payloads[i], errs[i])
		}
	}
}

func TestFetch_RetryThenSuccessServesAllCallers(t *testing.T) {
	f := &scriptedFetcher{results: []result{
		{err: transportErr()},
		{err: transportErr()},
		{body: `{"episode":3}`},
	}}

	var mu sync.Mutex
	var waits []time.Duration
	inRetry := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	sleep := func(_ context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		first.Do(func() {
			close(inRetry)
			<-release
		})
		return nil
	}
	o := New(newStore(t), f, WithSleep(sleep))
	opts := Options{UseCache: true, TTL: time.Minute, MaxRetries: 3}

	var wg sync.WaitGroup
	results := make(chan string, 3)
	fetch := func() {
		defer wg.Done()
		p, err := o.Fetch(context.Background(), "k", opts)
		if err != nil {
			results <- "error: " + err.Error()
			return
		}
		results <- string(p)
	}

	wg.Add(1)
	go fetch()
	<-inRetry
	wg.Add(2)
	go fetch()
	go fetch()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for r := range results {
		if r != `{"episode":3}` {
			t.Errorf("caller got %q", r)
		}
	}
	if f.Calls() != 3 {
		t.Errorf("network calls = %d, want 3", f.Calls())
	}
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Errorf("backoff = %v, want [1s 2s]", waits)
	}
}

func TestFetch_RetriesExhausted(t *testing.T) {
	f := &scriptedFetcher{results: []result{{err: transportErr()}}}
	var waits []time.Duration
	o := New(newStore(t), f, WithSleep(func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}))

	_, err := o.Fetch(context.Background(), "k", Options{MaxRetries: 3})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.Attempts != 3 || f.Calls() != 3 {
		t.Errorf("attempts = %d, calls = %d", te.Attempts, f.Calls())
	}
	if len(waits) != 2 {
		t.Errorf("waits = %v", waits)
	}
	if _, ok := o.Peek("k"); ok {
		t.Error("failed fetch must not be cached")
	}
}

func TestFetch_HTTPStatusIsTerminal(t *testing.T) {
	f := &scriptedFetcher{results: []result{{err: &HTTPStatusError{URL: "http://feed.test/k", StatusCode: 503}}}}
	slept := false
	o := New(newStore(t), f, WithSleep(func(context.Context, time.Duration) error { slept = true; return nil }))

	_, err := o.Fetch(context.Background(), "k", Options{MaxRetries: 3})
	var se *HTTPStatusError
	if !errors.As(err, &se) || se.StatusCode != 503 {
		t.Fatalf("err = %v, want HTTP 503", err)
	}
	if f.Calls() != 1 || slept {
		t.Errorf("calls = %d, slept = %v; status errors are not retried", f.Calls(), slept)
	}
}

func TestFetch_ValidatorRejectionNotCached(t *testing.T) {
	f := &scriptedFetcher{results: []result{{body: `{"wrong":true}`}, {body: `[]`}}}
	o := New(newStore(t), f)
	reject := errors.New("want array")
	opts := Options{UseCache: true, TTL: time.Minute, Validator: func(raw json.RawMessage) error {
		if raw[0] != '[' {
			return reject
		}
		return nil
	}}

	_, err := o.Fetch(context.Background(), "k", opts)
	var ve *ValidationError
	if !errors.As(err, &ve) || !errors.Is(err, reject) {
		t.Fatalf("err = %v, want validation error", err)
	}
	got, err := o.Fetch(context.Background(), "k", opts)
	if err != nil || string(got) != `[]` || f.Calls() != 2 {
		t.Errorf("payload = %s, err = %v, calls = %d", got, err, f.Calls())
	}
}

func TestFetch_MalformedJSON(t *testing.T) {
	f := &scriptedFetcher{results: []result{{body: `{oops`}}}
	o := New(newStore(t), f)
	_, err := o.Fetch(context.Background(), "k", cached)
	if !errors.Is(err, ErrMalformedJSON) {
		t.Errorf("err = %v, want ErrMalformedJSON", err)
	}
}

func TestFetch_TransformedPayloadCached(t *testing.T) {
	f := &scriptedFetcher{results: []result{{body: `[1,2,3]`}}}
	store := newStore(t)
	o := New(store, f)
	opts := Options{UseCache: true, TTL: time.Minute, Transform: func(raw json.RawMessage) (json.RawMessage, error) {
		var xs []int
		json.Unmarshal(raw, &xs)
		return json.Marshal(map[string]int{"count": len(xs)})
	}}

	got, err := FetchInto[map[string]int](context.Background(), o, "k", opts)
	if err != nil || got["count"] != 3 {
		t.Fatalf("got %v, err %v", got, err)
	}
	var e Entry
	if !store.Get(context.Background(), "k", &e) || string(e.Payload) != `{"count":3}` {
		t.Errorf("persisted = %s", e.Payload)
	}
}

func TestInvalidate_KeyForcesNetwork(t *testing.T) {
	f := &scriptedFetcher{results: []result{{body: `1`}, {body: `2`}, {body: `3`}}}
	o := New(newStore(t), f)
	ctx := context.Background()

	o.Fetch(ctx, "a", cached)
	o.Fetch(ctx, "b", cached)
	o.Invalidate(ctx, "a")

	if got, _ := o.Fetch(ctx, "a", cached); string(got) != `3` {
		t.Errorf("a = %s, want fresh payload", got)
	}
	if got, _ := o.Fetch(ctx, "b", cached); string(got) != `2` {
		t.Errorf("b = %s, want cached payload", got)
	}
	if f.Calls() != 3 {
		t.Errorf("calls = %d, want 3", f.Calls())
	}
}

func TestInvalidate_AllClearsBothTiers(t *testing.T) {
	store := newStore(t)
	f := &scriptedFetcher{results: []result{{body: `1`}}}
	o := New(store, f)
	ctx := context.Background()

	o.Fetch(ctx, "a", cached)
	o.Fetch(ctx, "b", cached)
	o.Invalidate(ctx)

	if len(store.Keys(ctx)) != 0 {
		t.Errorf("persistent keys = %v", store.Keys(ctx))
	}
	o.Fetch(ctx, "a", cached)
	if f.Calls() != 3 {
		t.Errorf("calls = %d, want 3", f.Calls())
	}
}

func TestInvalidate_DuringFlightDropsWriteBack(t *testing.T) {
	// WHAT: A request overtaken by Invalidate still answers its caller but
	// is not written back, and the next Fetch goes to the network.
	// WHY: A manual refresh must never be answered by the request it replaced.
	f := &scriptedFetcher{
		results: []result{{body: `"old"`}, {body: `"new"`}},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	o := New(newStore(t), f)
	ctx := context.Background()

	done := make(chan string)
	go func() {
		p, _ := o.Fetch(ctx, "k", cached)
		done <- string(p)
	}()
	<-f.started
	o.Invalidate(ctx, "k")

	second := make(chan string)
	go func() {
		p, _ := o.Fetch(ctx, "k", cached)
		second <- string(p)
	}()
	close(f.block)

	if got := <-done; got != `"old"` {
		t.Errorf("first caller = %s", got)
	}
	if got := <-second; got != `"new"` {
		t.Errorf("second caller = %s, want a fresh request", got)
	}
	if e, _ := o.Peek("k"); string(e.Payload) != `"new"` {
		t.Errorf("memory entry = %s", e.Payload)
	}
	if o.Stats().Discarded != 1 {
		t.Errorf("discarded = %d, want 1", o.Stats().Discarded)
	}
}

func TestFetch_CallerCancelStillWritesBack(t *testing.T) {
	f := &scriptedFetcher{
		results: []result{{body: `"late"`}},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	o := New(newStore(t), f)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() {
		_, err := o.Fetch(ctx, "k", cached)
		errc <- err
	}()
	<-f.started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	close(f.block)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if e, ok := o.Peek("k"); ok && string(e.Payload) == `"late"` {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("write-back never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// countingFetcher answers every call with a new body.
type countingFetcher struct{ n atomic.Int64 }

func (f *countingFetcher) Fetch(context.Context, string) ([]byte, error) {
	return []byte(fmt.Sprintf("%d", f.n.Add(1))), nil
}

func TestFetch_ModelProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		db, err := kvstore.Open(":memory:")
		if err != nil {
			t.Fatal(err)
		}
		db.SetMaxOpenConns(1)
		defer db.Close()
		store := kvstore.New(db, "", nil)
		clock := newClock()
		f := &countingFetcher{}
		o := New(store, f, WithClock(clock.Now))
		ctx := context.Background()
		ttl := time.Duration(rapid.IntRange(1, 60).Draw(t, "ttl_s")) * time.Second

		var model struct {
			cached    bool
			fetchedAt time.Time
			calls     int64
		}
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				if _, err := o.Fetch(ctx, "k", Options{UseCache: true, TTL: ttl}); err != nil {
					t.Fatal(err)
				}
				if !model.cached || clock.Now().Sub(model.fetchedAt) >= ttl {
					model.calls++
					model.cached = true
					model.fetchedAt = clock.Now()
				}
			case 1:
				o.Invalidate(ctx, "k")
				model.cached = false
			case 2:
				clock.Advance(time.Duration(rapid.IntRange(0, 90).Draw(t, "advance_s")) * time.Second)
			}
			// PROPERTY: network calls match the TTL/invalidation model.
			if got := f.n.Load(); got != model.calls {
				t.Fatalf("step %d: network calls = %d, model = %d", i, got, model.calls)
			}
		}
	})
}
