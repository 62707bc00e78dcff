package traversal

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"
)

// AttemptTLS performs the same reuseport race as AttemptStream, then
// layers a TLS handshake on top using the overlay's own key material for
// mutual authentication: the certificate the remote presents must match
// the public key the admin channel reported for that peer (spec.md 4.4
// "TLS variant").
func AttemptTLS(ctx context.Context, localPort int, remote RemoteEndpoint, t0 time.Time, cfg Config, tlsConfig *tls.Config, verifyPeerKey func(certDER []byte) error) (*tls.Conn, error) {
	raw, err := AttemptStream(ctx, localPort, remote, t0, cfg)
	if err != nil {
		return nil, err
	}

	cfgCopy := tlsConfig.Clone()
	if cfgCopy == nil {
		cfgCopy = &tls.Config{}
	}
	cfgCopy.InsecureSkipVerify = true // identity is checked via verifyPeerKey, not the usual CA chain.

	// Whichever side's socket came from Accept() is logically the server
	// for the TLS handshake too: a raw *net.TCPConn from a reuseport
	// listener never satisfies a server-role check directly, so the
	// caller is expected to have already decided the handshake role via
	// the same initiator/responder rule used for the rendezvous channel
	// and rebuild raw into the right tls.Conn. This entry point assumes
	// client role; servers should call AttemptTLSServer.
	tlsConn := tls.Client(raw, cfgCopy)

	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeWindow)
	defer cancel()
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	if verifyPeerKey != nil {
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) == 0 {
			tlsConn.Close()
			return nil, fmt.Errorf("%w: no peer certificate presented", ErrHandshakeFailed)
		}
		if err := verifyPeerKey(state.PeerCertificates[0].Raw); err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("%w: peer key mismatch: %v", ErrHandshakeFailed, err)
		}
	}

	return tlsConn, nil
}

// AttemptTLSServer is AttemptTLS's responder-side counterpart: identical
// reuseport race, TLS server handshake instead of client.
func AttemptTLSServer(ctx context.Context, localPort int, remote RemoteEndpoint, t0 time.Time, cfg Config, tlsConfig *tls.Config, verifyPeerKey func(certDER []byte) error) (*tls.Conn, error) {
	raw, err := AttemptStream(ctx, localPort, remote, t0, cfg)
	if err != nil {
		return nil, err
	}

	cfgCopy := tlsConfig.Clone()
	if cfgCopy == nil {
		cfgCopy = &tls.Config{}
	}
	cfgCopy.ClientAuth = tls.RequireAnyClientCert

	tlsConn := tls.Server(raw, cfgCopy)

	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeWindow)
	defer cancel()
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	if verifyPeerKey != nil {
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) == 0 {
			tlsConn.Close()
			return nil, fmt.Errorf("%w: no peer certificate presented", ErrHandshakeFailed)
		}
		if err := verifyPeerKey(state.PeerCertificates[0].Raw); err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("%w: peer key mismatch: %v", ErrHandshakeFailed, err)
		}
	}

	return tlsConn, nil
}
