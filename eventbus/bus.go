// CLAUDE:SUMMARY Synchronous in-process pub/sub with ordered delivery, once-subscriptions and panic isolation per handler.
// Package eventbus is a synchronous in-process publish/subscribe hub.
//
// Handlers for one event run in subscription order on the publisher's
// goroutine. A handler that panics is recovered and logged; the remaining
// handlers for the same event still run. No ordering is promised across
// different event names.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives the payload of a published event.
type Handler func(payload any)

type subscription struct {
	id   uint64
	fn   Handler
	once bool
}

// Bus is safe for concurrent use. The zero value is not usable; call New.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]*subscription
	logger *slog.Logger
}

// New creates an empty Bus. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]*subscription),
		logger: logger,
	}
}

// Subscribe registers fn for name and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(name string, fn Handler) (unsubscribe func()) {
	return b.add(name, fn, false)
}

// SubscribeOnce registers fn to run on the next publish of name only.
func (b *Bus) SubscribeOnce(name string, fn Handler) (unsubscribe func()) {
	return b.add(name, fn, true)
}

func (b *Bus) add(name string, fn Handler, once bool) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, fn: fn, once: once}
	b.subs[name] = append(b.subs[name], sub)
	b.mu.Unlock()

	return func() { b.remove(name, sub.id) }
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(name, id)
}

// Publish delivers payload to every current subscriber of name.
// Subscriptions added by a handler during dispatch see the next publish.
func (b *Bus) Publish(name string, payload any) {
	b.mu.Lock()
	list := b.subs[name]
	snapshot := make([]*subscription, len(list))
	copy(snapshot, list)
	for _, s := range snapshot {
		if s.once {
			b.removeLocked(name, s.id)
		}
	}
	b.mu.Unlock()

	for _, s := range snapshot {
		b.dispatch(name, s, payload)
	}
}

func (b *Bus) removeLocked(name string, id uint64) {
	list := b.subs[name]
	for i, s := range list {
		if s.id == id {
			b.subs[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}

func (b *Bus) dispatch(name string, s *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus: handler panicked",
				"event", name, "subscription", s.id, "panic", fmt.Sprint(r))
		}
	}()
	s.fn(payload)
}

// Clear drops the subscribers of the named events, or of every event when
// called with no names.
func (b *Bus) Clear(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(names) == 0 {
		b.subs = make(map[string][]*subscription)
		return
	}
	for _, n := range names {
		delete(b.subs, n)
	}
}

// SubscriberCount returns the number of live subscribers for name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}
