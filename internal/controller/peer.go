package controller

import (
	"context"
	"io"

	"github.com/LeJamon/yggjumper/internal/admin"
)

// peerEntry is the Controller's bookkeeping for one remote overlay
// address (spec.md 3 "PeerState machine"). It is only ever mutated while
// holding Controller.mu.
type peerEntry struct {
	state State

	cancel context.CancelFunc

	traversalURL string
	conn         io.Closer

	lastRecord admin.PeerRecord
}
