package traversal

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/libp2p/go-reuseport"
	"github.com/quic-go/quic-go"
)

// probePayload is sent to keep the NAT binding open ahead of the QUIC
// handshake; it is not part of any QUIC wire format and the remote side
// discards anything that isn't a valid QUIC packet.
var probePayload = []byte("yggjumper-probe")

// AttemptDatagram implements spec.md 4.4's "Datagram (QUIC)" strategy:
// both sides send small probe datagrams to each other's external endpoint
// at a fixed cadence for a bounded window, and the QUIC handshake starts
// on the same socket right away, alongside the probes. Arriving probes are
// not awaited; the QUIC transport drops them. The QUIC role mirrors the
// stream rule: isInitiator (the numerically smaller overlay address)
// dials, the other side listens.
func AttemptDatagram(ctx context.Context, localPort int, remote RemoteEndpoint, t0 time.Time, cfg Config, tlsConfig *tls.Config, isInitiator bool, verifyPeerKey func(certDER []byte) error) (quic.Conn, error) {
	if err := sleepUntil(ctx, t0); err != nil {
		return nil, err
	}

	localAddr := fmt.Sprintf(":%d", localPort)
	sock, err := reuseport.ListenPacket("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("traversal: listen %s: %w", localAddr, err)
	}

	windowCtx, cancel := context.WithTimeout(ctx, cfg.ProbeWindow)
	defer cancel()

	stopProbes := make(chan struct{})
	go probeLoop(sock, remote.udpAddr(), cfg.ProbeCadence, stopProbes)
	defer close(stopProbes)

	tr := &quic.Transport{Conn: sock}
	defer tr.Close()

	quicConf := &quic.Config{
		MaxIdleTimeout:  cfg.ProbeWindow,
		KeepAlivePeriod: cfg.ProbeCadence,
	}

	var conn quic.Conn
	if isInitiator {
		conn, err = tr.Dial(windowCtx, remote.udpAddr(), tlsConfig, quicConf)
		if err != nil {
			sock.Close()
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
	} else {
		serverTLSConfig := tlsConfig.Clone()
		serverTLSConfig.ClientAuth = tls.RequireAnyClientCert
		ln, err := tr.Listen(serverTLSConfig, quicConf)
		if err != nil {
			sock.Close()
			return nil, fmt.Errorf("traversal: quic listen: %w", err)
		}
		conn, err = ln.Accept(windowCtx)
		if err != nil {
			sock.Close()
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
	}

	if verifyPeerKey != nil {
		certs := conn.ConnectionState().TLS.PeerCertificates
		if len(certs) == 0 {
			conn.CloseWithError(0, "")
			return nil, fmt.Errorf("%w: no peer certificate presented", ErrHandshakeFailed)
		}
		if err := verifyPeerKey(certs[0].Raw); err != nil {
			conn.CloseWithError(0, "")
			return nil, fmt.Errorf("%w: peer key mismatch: %v", ErrHandshakeFailed, err)
		}
	}

	return conn, nil
}

// probeLoop sends a small datagram to remote at cadence until stop fires,
// keeping the NAT binding open so the QUIC handshake packets that follow
// aren't the first (and possibly dropped) packets through the NAT.
func probeLoop(sock net.PacketConn, remote net.Addr, cadence time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sock.WriteTo(probePayload, remote)
		}
	}
}
