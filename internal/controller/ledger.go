package controller

import (
	"sync"
	"time"

	"github.com/LeJamon/yggjumper/internal/overlay"
)

// failureEntry is one remote address's recent-failure bookkeeping
// (spec.md 3 "FailureLedger").
type failureEntry struct {
	consecutiveFailures int
	lastFailureAt       time.Time
}

// FailureLedger tracks consecutive traversal failures per remote overlay
// address, in memory only. Entries decay on success and are swept once
// they've been idle for longer than ttl (spec.md 9, Open Question 3: no
// TTL is named by the source, 1 hour is this jumper's chosen default).
type FailureLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[overlay.Address]*failureEntry
}

// NewFailureLedger returns an empty ledger with the given entry TTL.
func NewFailureLedger(ttl time.Duration) *FailureLedger {
	return &FailureLedger{
		ttl:     ttl,
		entries: make(map[overlay.Address]*failureEntry),
	}
}

// RecordFailure increments addr's consecutive-failure count and returns
// the new total.
func (l *FailureLedger) RecordFailure(addr overlay.Address) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[addr]
	if !ok {
		e = &failureEntry{}
		l.entries[addr] = e
	}
	e.consecutiveFailures++
	e.lastFailureAt = time.Now()
	return e.consecutiveFailures
}

// RecordSuccess clears addr's failure history (spec.md 3: "decayed after
// a success").
func (l *FailureLedger) RecordSuccess(addr overlay.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, addr)
}

// Count returns addr's current consecutive-failure count.
func (l *FailureLedger) Count(addr overlay.Address) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[addr]
	if !ok {
		return 0
	}
	return e.consecutiveFailures
}

// Sweep discards entries whose last failure is older than the ledger's
// TTL. A success for one peer never affects another peer's entry (spec.md
// 9, scenario S5: "a later success for any other peer does NOT
// un-blacklist P" — blacklisting itself lives in the Controller, but the
// ledger must not cross-reset either).
func (l *FailureLedger) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ttl <= 0 {
		return
	}
	for addr, e := range l.entries {
		if now.Sub(e.lastFailureAt) > l.ttl {
			delete(l.entries, addr)
		}
	}
}
