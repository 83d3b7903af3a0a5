// CLAUDE:SUMMARY UUIDv7 generators, prefixed and sequential variants, session id creation and validation.
// Package idgen generates the identifiers feedsync hands out: session ids
// and journal row ids.
package idgen

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 v7 UUIDs (time-sortable).
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every id from gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator of prefix1, prefix2, ... for tests.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s%d", prefix, n.Add(1))
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an id from Default.
func New() string { return Default() }

// NewSessionID returns a fresh session id.
func NewSessionID() string { return "sess_" + New() }

// ValidSessionID reports whether id looks like a session id: either one made
// by NewSessionID or a bare UUID.
func ValidSessionID(id string) bool {
	_, err := uuid.Parse(strings.TrimPrefix(id, "sess_"))
	return err == nil
}
