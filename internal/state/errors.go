package state

import "errors"

// Rejection and backend failure kinds. Callers match them with errors.Is;
// the wrapped messages carry the human-readable detail.
var (
	// ErrMalformedState marks candidate bytes that failed verification.
	// Never bypassable, not even by force.
	ErrMalformedState = errors.New("malformed state")

	// ErrLineageMismatch marks a candidate from an unrelated state
	// history. Bypassable only by an explicit force.
	ErrLineageMismatch = errors.New("lineage mismatch")

	// ErrStaleSerial marks a candidate older than the destination.
	// Bypassable only by an explicit force.
	ErrStaleSerial = errors.New("stale serial")

	// ErrUnsupportedVersion marks a well-formed candidate whose state
	// format version is newer than this build understands.
	ErrUnsupportedVersion = errors.New("unsupported state format version")

	// ErrLockContended is returned after bounded lock retries are
	// exhausted.
	ErrLockContended = errors.New("state lock contended")
)
