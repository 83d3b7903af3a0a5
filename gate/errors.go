package gate

import "errors"

var (
	// ErrMismatch is returned when the entered passphrase does not hash to
	// the configured value.
	ErrMismatch = errors.New("gate: passphrase mismatch")

	// ErrSecureContextRequired is returned when hashing is unavailable
	// because the session is not running in a secure context.
	ErrSecureContextRequired = errors.New("gate: secure context required")

	// ErrNotAwaiting is returned by Submit before Evaluate has put the gate
	// into the awaiting state.
	ErrNotAwaiting = errors.New("gate: not awaiting input")

	// ErrEmptyPassphrase is returned for a blank submission.
	ErrEmptyPassphrase = errors.New("gate: empty passphrase")
)
