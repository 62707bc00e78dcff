package stunresolver

import (
	"errors"
	"fmt"
)

// ErrAllServersFailed is returned when no server produced a usable response.
var ErrAllServersFailed = errors.New("stun: all servers failed")

// ErrTimeout is returned when the aggregate deadline elapses before
// validation can complete.
var ErrTimeout = errors.New("stun: aggregate timeout")

// MismatchError reports that fewer than two servers agreed on the same
// external endpoint (spec.md 4.2 step 5).
type MismatchError struct {
	Servers   []string
	Addresses []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("stun: servers disagree: %v report %v", e.Servers, e.Addresses)
}
