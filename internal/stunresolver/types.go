package stunresolver

import (
	"net"
	"strconv"
)

// Endpoint is an (IP, port) pair as observed by a STUN server.
type Endpoint struct {
	IP   net.IP
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port))
}

func (e Endpoint) equal(o Endpoint) bool {
	return e.IP.Equal(o.IP) && e.Port == o.Port
}

// ServerResult is one server's diagnostic outcome, returned alongside the
// validated Endpoint so callers (and the stun-test-shaped tooling this
// spec scopes out of core) can inspect per-server behavior.
type ServerResult struct {
	Server   string
	Endpoint Endpoint
	Err      error
}

// Options configures a single Resolve call (spec.md 4.2).
type Options struct {
	// NoCheck disables cross-validation: a single successful response
	// suffices.
	NoCheck bool
	// PrintServers is carried for callers that print per-server
	// diagnostics. Resolve does not read it: it returns the per-server
	// results whether or not it is set.
	PrintServers bool
}
