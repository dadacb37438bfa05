// Package gcserrors holds the sentinel error vocabulary shared across the
// replication core (spec §6 "Exit-style codes", §7 "Error Handling Design").
package gcserrors

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrNotConnected is returned when an operation is attempted on a
	// non-primary or not-yet-open connection.
	ErrNotConnected = errors.New("not connected")
	// ErrTimedOut is returned by a bounded wait that expired.
	ErrTimedOut = errors.New("timed out")
	// ErrMessageTooBig is returned when a requested send exceeds the
	// absolute action-size ceiling.
	ErrMessageTooBig = errors.New("message too big")
	// ErrAlready is returned by a second call to an idempotent operation
	// (e.g. Close) that already completed.
	ErrAlready = errors.New("already done")
	// ErrInterrupted is returned when a waiter was interrupted before
	// entering its critical section.
	ErrInterrupted = errors.New("interrupted")
	// ErrRestart is returned for a fragment dropped by reconfiguration.
	ErrRestart = errors.New("restart")
	// ErrBadFd is returned when an operation is attempted in the wrong
	// lifecycle state (closed or destroyed).
	ErrBadFd = errors.New("bad file descriptor")
	// ErrNoMemory is returned when a resource ceiling (e.g. recv-queue
	// hard limit) is reached.
	ErrNoMemory = errors.New("no memory")
	// ErrProtocol is returned for a malformed header or an impossible
	// state transition.
	ErrProtocol = errors.New("protocol error")
	// ErrAgain is returned for a transient full-queue condition; the
	// caller should retry.
	ErrAgain = errors.New("resource temporarily unavailable")
	// ErrNotFound is returned when a handle or key does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedProtocol is returned when a peer's declared protocol
	// version exceeds what this build supports.
	ErrUnsupportedProtocol = errors.New("protocol version not supported")
	// ErrQuorumImpossible is returned when the state exchange cannot
	// settle on a unique representative.
	ErrQuorumImpossible = errors.New("quorum impossible")
	// ErrHistoryRewind is a fatal error: the local node has applied
	// beyond what the elected representative has seen.
	ErrHistoryRewind = errors.New("history rewind detected")
)

// Wrap annotates err with a message using the cause-chain idiom, keeping
// the original sentinel inspectable via Cause/errors.Is.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, message)
}

// Cause unwraps err to its root cause, if any.
func Cause(err error) error {
	return pkgerrors.Cause(err)
}
