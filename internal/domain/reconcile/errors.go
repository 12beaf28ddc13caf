// Package reconcile implements the vote reconciliation engine.
package reconcile

import "errors"

// Sentinel errors surfaced by the engine. Callers classify failures with
// errors.Is; retry policy belongs to the caller, the engine never retries.
var (
	// ErrInvalidInput reports a vote with malformed coordinates or an
	// unknown color.
	ErrInvalidInput = errors.New("invalid vote input")

	// ErrUnauthenticated reports a vote without a reporter identity.
	ErrUnauthenticated = errors.New("missing reporter identity")

	// ErrNotFound reports that the chosen marker disappeared before the
	// engine could act on it. The vote is safe to resubmit as a fresh vote.
	ErrNotFound = errors.New("marker not found")

	// ErrStorageUnavailable reports a failed or timed-out store operation.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConcurrencyConflict reports that the chosen marker changed under
	// the engine's feet. The vote is safe to resubmit.
	ErrConcurrencyConflict = errors.New("concurrent marker update conflict")

	// ErrNoHistory reports a marker without any recorded vote events.
	ErrNoHistory = errors.New("no vote history")
)
