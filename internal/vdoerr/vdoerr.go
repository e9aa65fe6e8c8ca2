// Package vdoerr defines the error kinds of spec §7 and the stack
// capture around them. Errors propagate as a result field on the
// data_vio (vtypes.DataVIO.Result), never as a control-flow return up
// through zone callbacks (§5: "callers never block").
package vdoerr

import (
	"github.com/go-stack/stack"
	"github.com/pkg/errors"
)

// Sentinel errors for the kinds enumerated in §7. Wrap these with
// errors.WithStack (or WithCallSite below) at the point of failure so a
// later log line can report where the fatal condition was detected.
var (
	// ErrAdminStateInvalid: attempted operation while suspending/saving.
	ErrAdminStateInvalid = errors.New("vdo: operation invalid in current admin state")

	// ErrReadOnly: the journal has failed and is read-only.
	ErrReadOnly = errors.New("vdo: recovery journal is read-only")

	// ErrJournalFull: an impossible-to-satisfy decrement.
	ErrJournalFull = errors.New("vdo: recovery journal full")

	// ErrJournalOverflow: tail reached the 48-bit sequence number limit.
	ErrJournalOverflow = errors.New("vdo: recovery journal sequence number overflow")

	// ErrHashLockAbort: upstream async failure while a hash lock is in a
	// dedupe state.
	ErrHashLockAbort = errors.New("vdo: hash lock aborted")

	// ErrHashCollision: non-fatal; the data_vio bypasses dedupe silently.
	ErrHashCollision = errors.New("vdo: hash collision, dedupe bypassed")

	// ErrBogusState: enter/continue called in an unsupported state.
	ErrBogusState = errors.New("vdo: hash lock entered in an unsupported state")

	// ErrRecoveryCountMismatch: a journal block's stamped recovery-count
	// byte does not match the journal's current generation on replay
	// (§6, supplemented from kvdo's replay validation).
	ErrRecoveryCountMismatch = errors.New("vdo: journal block recovery count mismatch")
)

// WithCallSite annotates err with a one-line call-site trace, the way a
// fatal read-only-entry event should record who observed it first.
func WithCallSite(err error) error {
	if err == nil {
		return nil
	}
	site := stack.Caller(1)
	return errors.Wrapf(err, "at %v", site)
}

// Is reports whether err matches target anywhere in its wrap chain.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
