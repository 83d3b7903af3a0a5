// CLAUDE:SUMMARY Session-scoped access gate: evaluate on startup, passphrase submit, override param, overlay state and gate:* events.
// Package gate is the session-scoped access gate that holds back the normal
// load sequence while the feed is in maintenance.
//
// The gate starts Closed. Evaluate moves it to Open when no gate is
// configured, when the session was already unlocked for the configured hash,
// or when an override was signalled; otherwise to AwaitingInput. Submit
// hashes a passphrase and opens the gate on a match. Unlocks are stored in a
// session store keyed by the expected hash, so changing the configured hash
// requires a new unlock.
package gate

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hazyhaar/feedsync/content"
	"github.com/hazyhaar/feedsync/eventbus"
	"github.com/hazyhaar/feedsync/kvstore"
)

// State is the gate state.
type State int

const (
	Closed State = iota
	AwaitingInput
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case AwaitingInput:
		return "awaiting_input"
	case Open:
		return "open"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const overrideKey = "override"

func unlockKey(hash string) string { return "unlocked:" + strings.ToLower(hash) }

// Request is the input to Evaluate.
type Request struct {
	Settings content.Maintenance
	// Override forces the gate open for the rest of the session.
	Override bool
	// FocusedElement identifies whatever held input focus before the
	// overlay took it. It is handed back in the gate:open event.
	FocusedElement string
}

// Event is the payload of every gate:* event.
type Event struct {
	State    State  `json:"state"`
	Reason   string `json:"reason,omitempty"`
	Focus    string `json:"focus,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Overlay is the view model a renderer shows while the gate awaits input.
type Overlay struct {
	Visible  bool   `json:"visible"`
	Hint     string `json:"hint,omitempty"`
	Message  string `json:"message,omitempty"`
	Mismatch bool   `json:"mismatch"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Controller is safe for concurrent use.
type Controller struct {
	session *kvstore.Store
	bus     *eventbus.Bus
	logger  *slog.Logger
	secure  func() bool

	mu       sync.Mutex
	state    State
	settings content.Maintenance
	focus    string
	mismatch bool
	attempts int
	lastErr  error
}

// Option configures a Controller.
type Option func(*Controller)

// WithSecureContext reports whether hashing is available. Default: always.
func WithSecureContext(fn func() bool) Option { return func(c *Controller) { c.secure = fn } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// New creates a Controller. session must be scoped to the current session;
// a nil bus disables event publication.
func New(session *kvstore.Store, bus *eventbus.Bus, opts ...Option) *Controller {
	c := &Controller{
		session: session,
		bus:     bus,
		logger:  slog.Default(),
		secure:  func() bool { return true },
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Evaluate decides whether the load sequence may run.
func (c *Controller) Evaluate(ctx context.Context, req Request) State {
	c.mu.Lock()
	c.settings = req.Settings
	c.settings.PassphraseHash = strings.TrimSpace(req.Settings.PassphraseHash)
	expected := c.settings.PassphraseHash

	var reason string
	switch {
	case req.Override:
		c.session.Set(ctx, overrideKey, true)
		reason = "override"
	case c.session.Has(ctx, overrideKey):
		reason = "override"
	case !c.settings.Enabled:
		reason = "disabled"
	case expected == "":
		c.logger.WarnContext(ctx, "gate: enabled without passphrase hash, leaving open")
		reason = "unconfigured"
	case c.unlocked(ctx, expected):
		reason = "session"
	}

	if reason != "" {
		c.state = Open
		ev := Event{State: Open, Reason: reason, Focus: req.FocusedElement}
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "gate: open", "reason", reason)
		c.publish(eventbus.GateOpen, ev)
		return Open
	}

	if c.state != AwaitingInput {
		c.mismatch = false
		c.attempts = 0
		c.lastErr = nil
	}
	c.state = AwaitingInput
	c.focus = req.FocusedElement
	ev := Event{State: AwaitingInput, Hint: c.settings.Hint, Message: c.settings.Message}
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "gate: awaiting passphrase")
	c.publish(eventbus.GateAwaiting, ev)
	return AwaitingInput
}

func (c *Controller) unlocked(ctx context.Context, hash string) bool {
	var ok bool
	return c.session.Get(ctx, unlockKey(hash), &ok) && ok
}

// Submit checks a passphrase. A mismatch leaves the gate awaiting input and
// returns ErrMismatch; the caller may prompt again.
func (c *Controller) Submit(ctx context.Context, passphrase string) error {
	c.mu.Lock()
	switch c.state {
	case Open:
		c.mu.Unlock()
		return nil
	case Closed:
		c.mu.Unlock()
		return ErrNotAwaiting
	}

	if !c.secure() {
		c.lastErr = ErrSecureContextRequired
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "gate: hashing unavailable outside a secure context")
		return ErrSecureContextRequired
	}
	if strings.TrimSpace(passphrase) == "" {
		c.lastErr = ErrEmptyPassphrase
		c.mu.Unlock()
		return ErrEmptyPassphrase
	}

	c.attempts++
	expected := c.settings.PassphraseHash
	if !matches(expected, passphrase) {
		c.mismatch = true
		c.lastErr = ErrMismatch
		ev := Event{State: AwaitingInput, Attempts: c.attempts, Hint: c.settings.Hint}
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "gate: mismatch", "attempts", ev.Attempts)
		c.publish(eventbus.GateMismatch, ev)
		return ErrMismatch
	}

	c.state = Open
	c.mismatch = false
	c.lastErr = nil
	ev := Event{State: Open, Reason: "passphrase", Focus: c.focus, Attempts: c.attempts}
	c.focus = ""
	c.mu.Unlock()

	c.session.Set(ctx, unlockKey(expected), true)
	c.logger.InfoContext(ctx, "gate: unlocked", "attempts", ev.Attempts)
	c.publish(eventbus.GateOpen, ev)
	return nil
}

// Overlay returns the awaiting-state view model. Visible is false unless
// the gate is awaiting input.
func (c *Controller) Overlay() Overlay {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AwaitingInput {
		return Overlay{}
	}
	o := Overlay{
		Visible:  true,
		Hint:     c.settings.Hint,
		Message:  c.settings.Message,
		Mismatch: c.mismatch,
		Attempts: c.attempts,
	}
	if c.lastErr != nil {
		o.Error = c.lastErr.Error()
	}
	return o
}

// Reset forgets every unlock and override stored for this session.
func (c *Controller) Reset(ctx context.Context) {
	c.session.ClearNamespace(ctx)
	c.mu.Lock()
	c.state = Closed
	c.mismatch = false
	c.attempts = 0
	c.lastErr = nil
	c.mu.Unlock()
}

func (c *Controller) publish(name string, ev Event) {
	if c.bus != nil {
		c.bus.Publish(name, ev)
	}
}
