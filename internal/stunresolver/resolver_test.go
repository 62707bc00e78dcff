package stunresolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/yggjumper/internal/overlay"
)

func buildSuccessResponse(t *testing.T, req *stun.Message, ip net.IP, port int) []byte {
	t.Helper()
	m := new(stun.Message)
	m.TransactionID = req.TransactionID
	m.SetType(stun.BindingSuccess)
	xorAddr := &stun.XORMappedAddress{IP: ip, Port: port}
	require.NoError(t, xorAddr.AddTo(m))
	m.WriteHeader()
	return m.Raw
}

// fakeSTUNServer answers every Binding Request on a UDP socket with the
// same fixed mapped address, like a well-behaved STUN server would for a
// single client behind a consistent NAT mapping.
func fakeSTUNServer(t *testing.T, ip net.IP, port int) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			resp := buildSuccessResponse(t, req, ip, port)
			conn.WriteTo(resp, from)
		}
	}()
	return conn.LocalAddr().String()
}

func TestResolveDatagramCrossChecked(t *testing.T) {
	s1 := fakeSTUNServer(t, net.ParseIP("203.0.113.5"), 40000)
	s2 := fakeSTUNServer(t, net.ParseIP("203.0.113.5"), 40000)

	r := &Resolver{PerServerTimeout: 2 * time.Second, AggregateTimeout: 3 * time.Second}
	ep, results, err := r.Resolve(context.Background(), overlay.TransportDatagram, 0, []string{s1, s2}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", ep.IP.String())
	assert.Equal(t, 40000, ep.Port)
	assert.Len(t, results, 2)
}

func TestResolveDatagramMismatch(t *testing.T) {
	s1 := fakeSTUNServer(t, net.ParseIP("203.0.113.5"), 40000)
	s2 := fakeSTUNServer(t, net.ParseIP("203.0.113.5"), 40001)

	r := &Resolver{PerServerTimeout: 2 * time.Second, AggregateTimeout: 3 * time.Second}
	_, _, err := r.Resolve(context.Background(), overlay.TransportDatagram, 0, []string{s1, s2}, Options{})
	require.Error(t, err)
	var mismatch *MismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestResolveDatagramNoCheckAcceptsSingle(t *testing.T) {
	s1 := fakeSTUNServer(t, net.ParseIP("203.0.113.5"), 40000)

	r := &Resolver{PerServerTimeout: 2 * time.Second, AggregateTimeout: 3 * time.Second}
	ep, _, err := r.Resolve(context.Background(), overlay.TransportDatagram, 0, []string{s1}, Options{NoCheck: true})
	require.NoError(t, err)
	assert.Equal(t, 40000, ep.Port)
}

func TestResolveAllServersFailed(t *testing.T) {
	// Port 1 on loopback is almost certainly refused/unreachable, and
	// definitely won't answer as a STUN server within the timeout.
	r := &Resolver{PerServerTimeout: 200 * time.Millisecond, AggregateTimeout: 500 * time.Millisecond}
	_, _, err := r.Resolve(context.Background(), overlay.TransportDatagram, 0, []string{"127.0.0.1:1"}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllServersFailed)
}
