package traversal

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/LeJamon/yggjumper/internal/overlay"
	"github.com/quic-go/quic-go"
)

// Engine runs one traversal attempt per call, dispatching to the strategy
// named by the negotiated transport (spec.md 4.4). It owns no state
// across calls; the controller (C5) is responsible for retry/cooldown
// policy between attempts. TLSConfig backs both the stream+TLS and the
// datagram/QUIC variants: quic-go requires NextProtos and a server
// certificate just as much as a plain TLS listener does, so one shared
// identity (built by SelfSignedIdentity) covers both.
type Engine struct {
	Config    Config
	TLSConfig *tls.Config
}

// NewEngine builds an Engine with DefaultConfig. tlsConfig may be nil when
// neither the TLS nor the datagram transport will ever be selected.
func NewEngine(tlsConfig *tls.Config) *Engine {
	return &Engine{
		Config:    DefaultConfig(),
		TLSConfig: tlsConfig,
	}
}

// Run performs one traversal attempt for the given transport, starting at
// t0, and returns a splice-ready Result. verifyPeerKey, when non-nil, is
// consulted once the TLS or QUIC handshake completes and should bind the
// presented certificate to the specific remote peer this attempt targets
// (VerifyOverlayKey built from that peer's admin-channel-reported key);
// it is ignored for the plain stream transport, which authenticates
// nothing beyond the overlay's own routing.
func (e *Engine) Run(ctx context.Context, transport overlay.Transport, localPort int, remote RemoteEndpoint, t0 time.Time, isInitiator bool, verifyPeerKey func(certDER []byte) error) (Result, error) {
	switch transport {
	case overlay.TransportStream:
		conn, err := AttemptStream(ctx, localPort, remote, t0, e.Config)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Conn:         conn,
			TraversalURL: StreamTraversalURL("tcp", remote),
			Transport:    transport,
		}, nil

	case overlay.TransportStreamTLS:
		if e.TLSConfig == nil {
			return Result{}, fmt.Errorf("%w: tls transport requested without a tls config", ErrUnsupported)
		}
		var conn *tls.Conn
		var err error
		if isInitiator {
			conn, err = AttemptTLS(ctx, localPort, remote, t0, e.Config, e.TLSConfig, verifyPeerKey)
		} else {
			conn, err = AttemptTLSServer(ctx, localPort, remote, t0, e.Config, e.TLSConfig, verifyPeerKey)
		}
		if err != nil {
			return Result{}, err
		}
		return Result{
			Conn:         conn,
			TraversalURL: StreamTraversalURL("tls", remote),
			Transport:    transport,
		}, nil

	case overlay.TransportDatagram:
		if e.TLSConfig == nil {
			return Result{}, fmt.Errorf("%w: quic transport requested without a tls config", ErrUnsupported)
		}
		conn, err := AttemptDatagram(ctx, localPort, remote, t0, e.Config, e.TLSConfig, isInitiator, verifyPeerKey)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Conn:         connCloser{conn},
			TraversalURL: StreamTraversalURL("quic", remote),
			Transport:    transport,
		}, nil

	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupported, transport)
	}
}

// connCloser adapts quic.Conn (whose teardown method is CloseWithError,
// not Close) to io.Closer so it fits Result.Conn alongside net.Conn and
// *tls.Conn.
type connCloser struct {
	conn quic.Conn
}

func (c connCloser) Close() error {
	return c.conn.CloseWithError(0, "")
}
