package kvstore

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return New(OpenMemory(t), "", nil, opts...)
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Set(ctx, "a", sample{Name: "x", Count: 2})

	var got sample
	if !s.Get(ctx, "a", &got) {
		t.Fatal("expected record")
	}
	if got.Name != "x" || got.Count != 2 {
		t.Errorf("got %+v", got)
	}
	if !s.Has(ctx, "a") {
		t.Error("Has should report true")
	}
}

func TestStore_GetMissingKeepsDefault(t *testing.T) {
	s := newTestStore(t)
	got := sample{Name: "default"}
	if s.Get(context.Background(), "nope", &got) {
		t.Fatal("missing key should report false")
	}
	if got.Name != "default" {
		t.Errorf("default overwritten: %+v", got)
	}
}

func TestStore_GetCorruptKeepsDefault(t *testing.T) {
	// WHAT: A record that no longer decodes returns the caller's default.
	// WHY: A stale shape left by an older build must not crash startup.
	db := OpenMemory(t)
	s := New(db, "", nil)
	ctx := context.Background()

	if _, err := db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, 0)`,
		DefaultPrefix+"bad", "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, 0)`,
		DefaultPrefix+"wrongtype", `{"name": 42, "count": "x"}`); err != nil {
		t.Fatal(err)
	}

	got := sample{Name: "default", Count: 7}
	if s.Get(ctx, "bad", &got) {
		t.Error("corrupt record should report false")
	}
	if s.Get(ctx, "wrongtype", &got) {
		t.Error("mistyped record should report false")
	}
	if got.Name != "default" || got.Count != 7 {
		t.Errorf("default overwritten: %+v", got)
	}
	if s.Stats().Failures != 2 {
		t.Errorf("failures = %d, want 2", s.Stats().Failures)
	}
}

func TestStore_QuotaSwallowed(t *testing.T) {
	s := newTestStore(t, WithMaxValueBytes(16))
	ctx := context.Background()

	s.Set(ctx, "big", sample{Name: "much longer than sixteen bytes"})
	if s.Has(ctx, "big") {
		t.Error("oversized value should not be stored")
	}
	if s.Stats().Failures != 1 {
		t.Errorf("failures = %d, want 1", s.Stats().Failures)
	}
}

func TestStore_ClearNamespaceIsScoped(t *testing.T) {
	db := OpenMemory(t)
	ctx := context.Background()

	app := New(db, "", nil)
	other := New(db, "other_app:", nil)
	session := app.Namespace("session")

	app.Set(ctx, "cache", 1)
	session.Set(ctx, "unlocked", true)
	other.Set(ctx, "cache", 2)

	session.ClearNamespace(ctx)
	if session.Has(ctx, "unlocked") {
		t.Error("session key should be cleared")
	}
	if !app.Has(ctx, "cache") {
		t.Error("parent key should survive nested clear")
	}

	app.ClearNamespace(ctx)
	if app.Has(ctx, "cache") {
		t.Error("app key should be cleared")
	}
	if !other.Has(ctx, "cache") {
		t.Error("unrelated prefix must not be touched")
	}
}

func TestStore_LikeWildcardsEscaped(t *testing.T) {
	db := OpenMemory(t)
	ctx := context.Background()

	under := New(db, "a_b:", nil)
	lookalike := New(db, "axb:", nil)
	under.Set(ctx, "k", 1)
	lookalike.Set(ctx, "k", 1)

	under.ClearNamespace(ctx)
	if !lookalike.Has(ctx, "k") {
		t.Error("underscore in prefix matched another namespace")
	}
}

func TestStore_KeysAndRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Set(ctx, "b", 1)
	s.Set(ctx, "a", 1)
	s.Remove(ctx, "b")
	s.Remove(ctx, "missing")

	keys := s.Keys(ctx)
	if len(keys) != 1 || keys[0] != "a" {
		t.Errorf("keys = %v", keys)
	}
}

func TestStore_SetUnencodableSwallowed(t *testing.T) {
	s := newTestStore(t)
	s.Set(context.Background(), "fn", func() {})
	if s.Stats().Failures != 1 {
		t.Errorf("failures = %d, want 1", s.Stats().Failures)
	}
}
