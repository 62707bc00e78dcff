package traversal

import "errors"

// Sentinel errors surfaced by the NAT Traversal Engine (spec.md 4.4, 7).
var (
	ErrHandshakeFailed  = errors.New("traversal: handshake failed")
	ErrAllAttemptsFailed = errors.New("traversal: all attempts failed")
	ErrCancelled        = errors.New("traversal: cancelled")
	ErrUnsupported      = errors.New("traversal: unsupported transport")
)
