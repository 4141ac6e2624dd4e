package signaling

import "errors"

// Registry and relay errors. Rate-limit and safety denials are typed results,
// not errors; these cover registry consistency and partner resolution.
var (
	// ErrAlreadyRegistered means the user ID already has a live session. The
	// stale session must be removed by Disconnect before re-registering.
	ErrAlreadyRegistered = errors.New("session already registered")

	// ErrNotFound means no live session exists for the user ID.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidTransition means the requested state change is not legal for
	// the session's current state.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrAlreadyPaired means a pairing attempt found one side already
	// claimed. The atomic Pair should make this unreachable; it is treated
	// as a defensive assertion, logged and dropped.
	ErrAlreadyPaired = errors.New("session already paired")

	// ErrNoActivePartner means a relay was attempted with no partner set.
	// Callers treat this as "partner left, return to search", not a fault.
	ErrNoActivePartner = errors.New("no active partner")
)
