// Package rendezvous implements the Rendezvous Channel (C3): a minimal
// newline-framed JSON protocol spoken between two jumpers over the
// overlay, used to exchange external addresses and agree on a traversal
// attempt (spec.md 4.3).
package rendezvous

// ProtocolVersion is this jumper's rendezvous protocol version. A peer
// advertising a different version aborts the channel with a clear reason
// (spec.md 4.3).
const ProtocolVersion = 1

// MaxFrameSize is the hard per-frame size limit (spec.md 4.3): a frame
// larger than this closes the channel with ErrProtocol (testable
// property 9).
const MaxFrameSize = 4096

// frameType discriminates the five message shapes on the wire.
type frameType string

const (
	typeHello  frameType = "hello"
	typeOffer  frameType = "offer"
	typeAccept frameType = "accept"
	typeGo     frameType = "go"
	typeResult frameType = "result"
)

// frame is the on-wire envelope. Every field beyond Type is optional and
// only populated for the message shapes that use it; this mirrors the
// spec's five distinct JSON object shapes without needing five separate
// wire encodings.
type frame struct {
	Type frameType `json:"type"`

	// hello
	Version             int      `json:"version,omitempty"`
	SupportedTransports []string `json:"supported_transports,omitempty"`

	// offer / accept
	Transport    string `json:"transport,omitempty"`
	ExternalIP   string `json:"external_ip,omitempty"`
	ExternalPort int    `json:"external_port,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	EchoNonce    string `json:"echo_nonce,omitempty"`

	// go
	T0UnixMs int64 `json:"t0_unix_ms,omitempty"`

	// result
	OK     bool   `json:"ok,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Hello is the first frame exchanged on a rendezvous channel.
type Hello struct {
	Version             int
	SupportedTransports []string
}

// Offer proposes a traversal attempt for one transport.
type Offer struct {
	Transport    string
	ExternalIP   string
	ExternalPort int
	Nonce        string
}

// Accept answers an Offer, echoing the sender's own external endpoint and
// the peer's nonce.
type Accept struct {
	Transport    string
	ExternalIP   string
	ExternalPort int
	Nonce        string
	EchoNonce    string
}

// Go carries the synchronized start time both sides must honor.
type Go struct {
	T0UnixMs int64
}

// Result is an optional, advisory outcome report for a completed attempt.
type Result struct {
	OK     bool
	Reason string
}

func (h Hello) toFrame() frame {
	return frame{Type: typeHello, Version: h.Version, SupportedTransports: h.SupportedTransports}
}

func (o Offer) toFrame() frame {
	return frame{Type: typeOffer, Transport: o.Transport, ExternalIP: o.ExternalIP, ExternalPort: o.ExternalPort, Nonce: o.Nonce}
}

func (a Accept) toFrame() frame {
	return frame{Type: typeAccept, Transport: a.Transport, ExternalIP: a.ExternalIP, ExternalPort: a.ExternalPort, Nonce: a.Nonce, EchoNonce: a.EchoNonce}
}

func (g Go) toFrame() frame {
	return frame{Type: typeGo, T0UnixMs: g.T0UnixMs}
}

func (r Result) toFrame() frame {
	return frame{Type: typeResult, OK: r.OK, Reason: r.Reason}
}
