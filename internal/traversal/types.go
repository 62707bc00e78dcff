// Package traversal implements the NAT Traversal Engine (C4): simultaneous
// connect-and-listen on a reused local port, cross-transport, producing a
// ready-to-splice socket and traversal_url (spec.md 4.4).
//
// The three transport strategies (stream, datagram/QUIC, stream+TLS) share
// one capability set — prepare the reused-port sockets, start a listen
// task, start a connect task, finalize the winner — per spec.md 9's
// "dynamic dispatch" note. Each is implemented as its own Attempt* function
// rather than a boxed interface, since Go's function values already give
// the Engine everything a tagged variant would.
package traversal

import (
	"io"
	"net"
	"strconv"
	"time"

	"github.com/LeJamon/yggjumper/internal/overlay"
)

// RemoteEndpoint is the external (IP, port) the rendezvous exchange
// produced for the peer.
type RemoteEndpoint struct {
	IP   net.IP
	Port int
}

func (e RemoteEndpoint) udpAddr() *net.UDPAddr { return &net.UDPAddr{IP: e.IP, Port: e.Port} }
func (e RemoteEndpoint) hostPort() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port))
}

// Config bounds a single traversal attempt (spec.md 4.4 / 6 defaults).
type Config struct {
	MaxAttempts        int
	AttemptDelay       time.Duration
	ProbeCadence       time.Duration
	ProbeWindow        time.Duration
	RefusedFastWindow  time.Duration // connection-refused errors within this window don't count as hard failures.
}

// DefaultConfig returns the spec's suggested defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		AttemptDelay:      500 * time.Millisecond,
		ProbeCadence:      200 * time.Millisecond,
		ProbeWindow:       5 * time.Second,
		RefusedFastWindow: 50 * time.Millisecond,
	}
}

// Result is a ready-to-splice traversal outcome.
type Result struct {
	Conn         io.Closer
	TraversalURL string
	Transport    overlay.Transport
}

