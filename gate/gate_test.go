package gate

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/feedsync/content"
	"github.com/hazyhaar/feedsync/eventbus"
	"github.com/hazyhaar/feedsync/kvstore"
)

type recorder struct {
	names  []string
	events []Event
}

func record(bus *eventbus.Bus) *recorder {
	r := &recorder{}
	for _, name := range []string{eventbus.GateAwaiting, eventbus.GateMismatch, eventbus.GateOpen} {
		name := name
		bus.Subscribe(name, func(p any) {
			r.names = append(r.names, name)
			r.events = append(r.events, p.(Event))
		})
	}
	return r
}

func newSession(t *testing.T) *kvstore.Store {
	t.Helper()
	return kvstore.New(kvstore.OpenMemory(t), "", nil).Namespace("session").Namespace("gate")
}

func locked(pass string) content.Maintenance {
	return content.Maintenance{Enabled: true, PassphraseHash: HashPassphrase(pass), Hint: "the first word", Message: "Back soon"}
}

func TestEvaluate_Disabled(t *testing.T) {
	bus := eventbus.New(nil)
	rec := record(bus)
	c := New(newSession(t), bus)

	if got := c.Evaluate(context.Background(), Request{Settings: content.Maintenance{Enabled: false, PassphraseHash: "x"}}); got != Open {
		t.Fatalf("state = %v, want open", got)
	}
	if len(rec.names) != 1 || rec.names[0] != eventbus.GateOpen || rec.events[0].Reason != "disabled" {
		t.Errorf("events = %v %+v", rec.names, rec.events)
	}
	if c.Overlay().Visible {
		t.Error("overlay should be hidden")
	}
}

func TestGate_UnlockFlow(t *testing.T) {
	bus := eventbus.New(nil)
	rec := record(bus)
	session := newSession(t)
	c := New(session, bus)
	ctx := context.Background()

	if got := c.Evaluate(ctx, Request{Settings: locked("lantern"), FocusedElement: "#archive-link"}); got != AwaitingInput {
		t.Fatalf("state = %v, want awaiting_input", got)
	}
	ov := c.Overlay()
	if !ov.Visible || ov.Hint != "the first word" || ov.Mismatch {
		t.Errorf("overlay = %+v", ov)
	}

	if err := c.Submit(ctx, "candle"); !errors.Is(err, ErrMismatch) {
		t.Fatalf("err = %v, want ErrMismatch", err)
	}
	if c.State() != AwaitingInput {
		t.Errorf("state after mismatch = %v", c.State())
	}
	if ov := c.Overlay(); !ov.Mismatch || ov.Attempts != 1 {
		t.Errorf("overlay after mismatch = %+v", ov)
	}

	if err := c.Submit(ctx, "lantern"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if c.State() != Open {
		t.Errorf("state = %v, want open", c.State())
	}

	want := []string{eventbus.GateAwaiting, eventbus.GateMismatch, eventbus.GateOpen}
	if len(rec.names) != len(want) {
		t.Fatalf("events = %v", rec.names)
	}
	for i := range want {
		if rec.names[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, rec.names[i], want[i])
		}
	}
	if rec.events[2].Focus != "#archive-link" {
		t.Errorf("focus restore = %q", rec.events[2].Focus)
	}

	// A reload in the same session does not prompt again.
	again := New(session, bus)
	if got := again.Evaluate(ctx, Request{Settings: locked("lantern")}); got != Open {
		t.Errorf("reload state = %v, want open", got)
	}
}

func TestGate_HashChangeRequiresNewUnlock(t *testing.T) {
	session := newSession(t)
	ctx := context.Background()
	c := New(session, nil)
	c.Evaluate(ctx, Request{Settings: locked("lantern")})
	if err := c.Submit(ctx, "lantern"); err != nil {
		t.Fatal(err)
	}

	next := New(session, nil)
	if got := next.Evaluate(ctx, Request{Settings: locked("beacon")}); got != AwaitingInput {
		t.Errorf("state = %v, want awaiting_input after hash change", got)
	}
}

func TestGate_OverridePersistsForSession(t *testing.T) {
	session := newSession(t)
	ctx := context.Background()

	if got := New(session, nil).Evaluate(ctx, Request{Settings: locked("x"), Override: true}); got != Open {
		t.Fatalf("state = %v", got)
	}
	if got := New(session, nil).Evaluate(ctx, Request{Settings: locked("x")}); got != Open {
		t.Errorf("override did not persist: %v", got)
	}
}

func TestSubmit_SecureContextRequired(t *testing.T) {
	c := New(newSession(t), nil, WithSecureContext(func() bool { return false }))
	ctx := context.Background()
	c.Evaluate(ctx, Request{Settings: locked("lantern")})

	if err := c.Submit(ctx, "lantern"); !errors.Is(err, ErrSecureContextRequired) {
		t.Fatalf("err = %v, want ErrSecureContextRequired", err)
	}
	if c.State() != AwaitingInput {
		t.Errorf("state = %v", c.State())
	}
	if ov := c.Overlay(); ov.Error != ErrSecureContextRequired.Error() || ov.Mismatch {
		t.Errorf("overlay = %+v", ov)
	}
}

func TestSubmit_BeforeEvaluate(t *testing.T) {
	c := New(newSession(t), nil)
	if err := c.Submit(context.Background(), "x"); !errors.Is(err, ErrNotAwaiting) {
		t.Errorf("err = %v", err)
	}
}

func TestSubmit_Bcrypt(t *testing.T) {
	h, err := HashPassphraseBcrypt("lantern")
	if err != nil {
		t.Fatal(err)
	}
	c := New(newSession(t), nil)
	ctx := context.Background()
	c.Evaluate(ctx, Request{Settings: content.Maintenance{Enabled: true, PassphraseHash: h}})
	if err := c.Submit(ctx, "wrong"); !errors.Is(err, ErrMismatch) {
		t.Errorf("err = %v", err)
	}
	if err := c.Submit(ctx, "lantern"); err != nil {
		t.Errorf("err = %v", err)
	}
}

func TestMatches_UppercaseHex(t *testing.T) {
	// WHAT: Digests pasted in upper case still match.
	// WHY: Config authors copy hashes from tools that print either case.
	upper := []byte(HashPassphrase("lantern"))
	for i, b := range upper {
		if b >= 'a' && b <= 'f' {
			upper[i] = b - 'a' + 'A'
		}
	}
	if !matches(string(upper), "lantern") {
		t.Error("uppercase digest should match")
	}
}

func TestReset(t *testing.T) {
	session := newSession(t)
	ctx := context.Background()
	c := New(session, nil)
	c.Evaluate(ctx, Request{Settings: locked("lantern")})
	c.Submit(ctx, "lantern")
	c.Reset(ctx)

	if c.State() != Closed {
		t.Errorf("state = %v", c.State())
	}
	if got := c.Evaluate(ctx, Request{Settings: locked("lantern")}); got != AwaitingInput {
		t.Errorf("state after reset = %v", got)
	}
}
