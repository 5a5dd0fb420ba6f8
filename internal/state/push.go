package state

import (
	"context"
	"fmt"
	"time"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/logging"
)

const (
	lockRetryMax  = 5
	lockRetryBase = 250 * time.Millisecond
)

// PushOptions control how a candidate state is reconciled against the
// destination before overwriting it.
type PushOptions struct {
	// Force skips the lineage and serial safety checks entirely.
	// Documented as unsafe; the destination is overwritten no matter
	// what it holds.
	Force bool

	// IgnoreRemoteVersion allows pushing a candidate whose state format
	// version is newer than this build understands.
	IgnoreRemoteVersion bool
}

// Reconciler decides whether a candidate state may overwrite the
// destination held by a backend, and performs the overwrite. It is the
// only writer of a backend during a push.
type Reconciler struct {
	backend Backend
}

func NewReconciler(backend Backend) *Reconciler {
	return &Reconciler{backend: backend}
}

// Push verifies the candidate against the destination and commits it on
// acceptance. Rejection leaves the destination untouched. The candidate
// must already have passed ParseState; malformed input never reaches the
// lineage/serial comparison.
func (r *Reconciler) Push(ctx context.Context, candidate *ir.State, opts PushOptions) error {
	if candidate == nil {
		return fmt.Errorf("%w: no candidate state", ErrMalformedState)
	}
	if candidate.Version > ir.StateFormatVersion && !opts.IgnoreRemoteVersion {
		return fmt.Errorf("%w: candidate is version %d, this build supports up to %d "+
			"(use -ignore-remote-version to override)",
			ErrUnsupportedVersion, candidate.Version, ir.StateFormatVersion)
	}

	if err := lockWithRetry(ctx, r.backend); err != nil {
		return err
	}
	defer r.backend.Unlock()

	dest, err := r.backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read destination state: %w", err)
	}

	if !opts.Force {
		if err := checkOverwrite(candidate, dest); err != nil {
			return err
		}
	}

	// Destination becomes the candidate verbatim; the serial is not
	// re-incremented on push.
	if err := r.backend.Write(ctx, candidate); err != nil {
		return fmt.Errorf("failed to write destination state: %w", err)
	}

	logging.Info("state pushed",
		"lineage", candidate.Lineage,
		"serial", candidate.Serial,
		"forced", opts.Force)
	return nil
}

// checkOverwrite applies the safety rules for an unforced push.
func checkOverwrite(candidate, dest *ir.State) error {
	if dest == nil {
		return nil
	}
	if dest.Lineage != "" && candidate.Lineage != dest.Lineage {
		return fmt.Errorf("%w: candidate lineage %q does not match destination lineage %q",
			ErrLineageMismatch, candidate.Lineage, dest.Lineage)
	}
	if dest.Serial > candidate.Serial {
		return fmt.Errorf("%w: destination serial %d is newer than candidate serial %d",
			ErrStaleSerial, dest.Serial, candidate.Serial)
	}
	return nil
}

// lockWithRetry acquires the backend lock, retrying contended locks a
// bounded number of times with doubling backoff.
func lockWithRetry(ctx context.Context, b Backend) error {
	delay := lockRetryBase
	var lastErr error
	for attempt := 0; attempt <= lockRetryMax; attempt++ {
		lastErr = b.Lock()
		if lastErr == nil {
			return nil
		}
		if attempt < lockRetryMax {
			logging.Debug("state lock contended, retrying",
				"attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("lock acquisition cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("%w: %v", ErrLockContended, lastErr)
}
