package model

import "errors"

// Outcome taxonomy shared by every layer of the engine. Storage wraps
// database failures into these sentinels; handlers map them to HTTP codes.
var (
	// ErrInvalidInput marks malformed dates, durations, or identifiers.
	// Rejected before any ledger access.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOutOfPolicy marks requests violating lead-time or advance-horizon
	// bounds, or starts outside the resource's working windows.
	ErrOutOfPolicy = errors.New("out of policy")

	// ErrConflict means the interval was no longer free at commit time.
	// Expected under concurrency; callers retry with a fresh slot query.
	ErrConflict = errors.New("slot conflict")

	// ErrNotFound marks an unknown resource or reservation.
	ErrNotFound = errors.New("not found")

	// ErrTerminalState marks a transition attempted from cancelled or
	// completed.
	ErrTerminalState = errors.New("reservation in terminal state")
)
