package models

import "errors"

// Error taxonomy shared by every layer. Handlers map these onto HTTP
// status codes; engine code wraps them with context via fmt.Errorf and %w.
var (
	// ErrValidation covers malformed envelopes and references to unknown
	// channels, decisions or messages. A validation failure is rejected
	// synchronously and never partially applied.
	ErrValidation = errors.New("validation failed")

	// ErrCapacity covers connection and storage limits. The caller is free
	// to retry later.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrNotFound covers unknown room/decision/amendment/file ids.
	ErrNotFound = errors.New("not found")

	// ErrTimeout covers ack and queued-task expiry. It surfaces as a
	// terminal state change plus a notification, not a request failure.
	ErrTimeout = errors.New("timed out")
)
