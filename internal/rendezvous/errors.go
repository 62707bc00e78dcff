package rendezvous

import (
	"errors"
	"fmt"
)

// ErrClosed is returned from channel operations once the channel has been
// closed, e.g. because the underlying overlay session disappeared
// mid-rendezvous (spec.md 4.3).
var ErrClosed = errors.New("rendezvous: channel closed")

// ErrProtocol wraps a malformed or oversized frame, which is fatal for the
// channel (spec.md 4.3, testable property 9).
type ErrProtocol struct {
	Reason string
	Err    error
}

func (e *ErrProtocol) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rendezvous: protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("rendezvous: protocol error: %s", e.Reason)
}

func (e *ErrProtocol) Unwrap() error { return e.Err }

// ErrVersionMismatch is returned when the peer's hello advertises an
// incompatible version.
type ErrVersionMismatch struct {
	Local, Remote int
}

func (e *ErrVersionMismatch) Error() string {
	return fmt.Sprintf("rendezvous: version mismatch: local=%d remote=%d", e.Local, e.Remote)
}
