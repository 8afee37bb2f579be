package domain

import "errors"

// Error kinds shared across services. Wrap with fmt.Errorf("...: %w", Err...)
// and classify with errors.Is.
var (
	// ErrNotFound marks a missing session, user, or document. Maps to 404 on
	// HTTP surfaces; workers drop the event with a warning.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an idempotent no-op (the work was already done).
	ErrConflict = errors.New("conflict")

	// ErrValidation marks malformed input. Maps to 400.
	ErrValidation = errors.New("validation failed")

	// ErrTransient marks a recoverable network or broker blip. Callers retry
	// with backoff or lean on bus redelivery.
	ErrTransient = errors.New("transient failure")

	// ErrTimeout marks a slow collaborator. Degrade where documented,
	// otherwise surface.
	ErrTimeout = errors.New("timeout")

	// ErrUpstream marks an LLM or store failure that survived retries. Maps
	// to 502 on HTTP surfaces and dead-letters on the bus.
	ErrUpstream = errors.New("upstream failure")
)
