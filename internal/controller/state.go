// Package controller implements the Session Watcher & Controller (C5):
// the poll loop that diffs the router's peer list, drives each remote
// overlay address through its PeerState machine, and orchestrates C1–C4
// to splice a direct peering back into the router (spec.md 4.5).
package controller

// State is one stage of a remote peer's traversal lifecycle (spec.md 3).
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateRendezvous
	StateTraversing
	StateSpliced
	StateCooldown
	StateBlacklisted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateRendezvous:
		return "rendezvous"
	case StateTraversing:
		return "traversing"
	case StateSpliced:
		return "spliced"
	case StateCooldown:
		return "cooldown"
	case StateBlacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// terminalForEligibility reports whether a peer in this state must be
// skipped by the poll loop rather than restarted (spec.md 4.5: "is not
// currently in Cooldown or Blacklisted").
func (s State) terminalForEligibility() bool {
	return s == StateCooldown || s == StateBlacklisted
}

// active reports whether a peer in this state has a live child task that
// must be cancelled if its overlay session disappears.
func (s State) active() bool {
	switch s {
	case StateDiscovering, StateRendezvous, StateTraversing, StateSpliced:
		return true
	default:
		return false
	}
}
