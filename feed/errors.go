package feed

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrGateLocked is returned by operations that need the gate open.
var ErrGateLocked = errors.New("feed: gate is locked")

// ErrNotLoaded is returned when no content has been loaded yet.
var ErrNotLoaded = errors.New("feed: content not loaded")

// ErrNoLocation is returned by Route when the client's location cannot be
// replaced.
var ErrNoLocation = errors.New("feed: location is not settable")

// RetryReload is the only retry a fatal load failure offers.
const RetryReload = "reload"

// FatalError is a failure to load one of the three documents after the gate
// cleared. It blanks the page; the only way forward is a full reload.
type FatalError struct {
	Document string
	Retry    string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("feed: loading %s failed (retry: %s): %v", e.Document, e.Retry, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// MarshalJSON renders the error for data:error subscribers and the journal.
func (e *FatalError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Document string `json:"document"`
		Retry    string `json:"retry"`
		Error    string `json:"error"`
	}{e.Document, e.Retry, e.Err.Error()})
}
