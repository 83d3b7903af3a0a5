package kvstore

import (
	"errors"
	"fmt"
)

// ErrCorrupt marks a stored record that no longer decodes.
var ErrCorrupt = errors.New("kvstore: corrupt record")

// ErrQuotaExceeded is reported when an encoded value exceeds the size limit.
var ErrQuotaExceeded = errors.New("kvstore: quota exceeded")

// ErrInvalidTarget is reported when Get is given a non-pointer destination.
var ErrInvalidTarget = errors.New("kvstore: destination must be a non-nil pointer")

// StorageError describes a failed store operation. It is only ever logged:
// store failures degrade to in-memory behaviour and never reach callers.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("kvstore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kvstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
