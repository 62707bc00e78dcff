package stunresolver

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pion/stun/v3"
)

// buildBindingRequest constructs an RFC 5389 Binding Request: message type
// 0x0001, magic cookie 0x2112A442, a fresh 96-bit transaction ID, zero
// length (spec.md 4.2/6). stun.New() always sets the RFC 5389 magic
// cookie; BindingRequest is stun.NewType(MethodBinding, ClassRequest).
func buildBindingRequest() (*stun.Message, error) {
	return stun.Build(stun.TransactionID, stun.BindingRequest)
}

// parseMappedAddress extracts the external endpoint from a Binding
// Response, preferring XOR-MAPPED-ADDRESS (0x0020) over MAPPED-ADDRESS
// (0x0001) per spec.md 4.2 step 3. Unknown attribute types are ignored,
// not fatal (testable property 8).
func parseMappedAddress(raw []byte) (Endpoint, error) {
	m := &stun.Message{Raw: append([]byte(nil), raw...)}
	if err := m.Decode(); err != nil {
		return Endpoint{}, fmt.Errorf("stun: decode response: %w", err)
	}

	var xor stun.XORMappedAddress
	if err := xor.GetFrom(m); err == nil {
		return Endpoint{IP: append(net.IP(nil), xor.IP...), Port: xor.Port}, nil
	}

	var mapped stun.MappedAddress
	if err := mapped.GetFrom(m); err == nil {
		return Endpoint{IP: append(net.IP(nil), mapped.IP...), Port: mapped.Port}, nil
	}

	return Endpoint{}, fmt.Errorf("stun: no mapped address attribute present")
}

// queryDatagram sends req over sock to addr and waits for a matching
// response, up to timeout. sock is shared across all concurrent server
// queries in a single Resolve call; responses are demultiplexed by the
// caller's read loop, which hands matching datagrams to respCh.
func queryDatagram(ctx context.Context, sock net.PacketConn, addr net.Addr, req *stun.Message, respCh <-chan []byte, timeout time.Duration) (Endpoint, error) {
	if _, err := sock.WriteTo(req.Raw, addr); err != nil {
		return Endpoint{}, fmt.Errorf("stun: send to %s: %w", addr, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case raw := <-respCh:
		return parseMappedAddress(raw)
	case <-timer.C:
		return Endpoint{}, fmt.Errorf("stun: %s: %w", addr, context.DeadlineExceeded)
	case <-ctx.Done():
		return Endpoint{}, ctx.Err()
	}
}

// queryStream performs one Binding Request/Response exchange over an
// already-connected stream socket, using the 2-byte big-endian length
// framing spec.md 4.2 step 4 mandates for stream transports.
func queryStream(ctx context.Context, conn net.Conn, req *stun.Message, timeout time.Duration) (Endpoint, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(req.Raw)))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return Endpoint{}, fmt.Errorf("stun: send length: %w", err)
	}
	if _, err := conn.Write(req.Raw); err != nil {
		return Endpoint{}, fmt.Errorf("stun: send message: %w", err)
	}

	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return Endpoint{}, fmt.Errorf("stun: read length: %w", err)
	}
	respLen := binary.BigEndian.Uint16(lenPrefix[:])
	buf := make([]byte, respLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return Endpoint{}, fmt.Errorf("stun: read message: %w", err)
	}
	return parseMappedAddress(buf)
}
