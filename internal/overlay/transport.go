package overlay

// Transport is the enumerated tag identifying which socket kind and wire
// protocol a traversal attempt (or resulting peering) uses.
type Transport int

const (
	// TransportStream is a plain TCP peering.
	TransportStream Transport = iota
	// TransportDatagram is a QUIC peering, carried over UDP.
	TransportDatagram
	// TransportStreamTLS is a TCP peering with a TLS handshake layered on
	// top; on the wire it is a stream socket, but the router sees it as a
	// distinct peering protocol (spec.md 3).
	TransportStreamTLS
)

// String returns the config/log-facing name of the transport.
func (t Transport) String() string {
	switch t {
	case TransportStream:
		return "tcp"
	case TransportDatagram:
		return "quic"
	case TransportStreamTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// ParseTransport parses a config/wire transport tag.
func ParseTransport(s string) (Transport, bool) {
	switch s {
	case "tcp", "stream":
		return TransportStream, true
	case "quic", "datagram":
		return TransportDatagram, true
	case "tls", "stream-over-tls":
		return TransportStreamTLS, true
	default:
		return 0, false
	}
}

// IsStreamLike reports whether the transport is carried over a TCP socket
// (true for both plain stream and the TLS variant).
func (t Transport) IsStreamLike() bool {
	return t == TransportStream || t == TransportStreamTLS
}

// URLScheme returns the traversal_url scheme used when splicing this
// transport into the router via addPeer (spec.md 6).
func (t Transport) URLScheme() string {
	switch t {
	case TransportStream:
		return "tcp"
	case TransportDatagram:
		return "quic"
	case TransportStreamTLS:
		return "tls"
	default:
		return "unknown"
	}
}
