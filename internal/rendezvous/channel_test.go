package rendezvous

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloOfferAcceptGoRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cch := NewChannel(client, time.Second)
	sch := NewChannel(server, time.Second)

	done := make(chan error, 1)
	go func() {
		done <- cch.SendHello(Hello{Version: ProtocolVersion, SupportedTransports: []string{"tcp", "quic"}})
	}()
	hello, err := sch.ReadHello()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, ProtocolVersion, hello.Version)
	assert.Equal(t, []string{"tcp", "quic"}, hello.SupportedTransports)

	offer := Offer{Transport: "tcp", ExternalIP: "203.0.113.5", ExternalPort: 4000, Nonce: "abc"}
	go func() { done <- cch.SendOffer(offer) }()
	gotOffer, err := sch.ReadOffer()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, offer, gotOffer)

	accept := Accept{Transport: "tcp", ExternalIP: "203.0.113.9", ExternalPort: 5000, Nonce: "def", EchoNonce: "abc"}
	go func() { done <- sch.SendAccept(accept) }()
	gotAccept, err := cch.ReadAccept()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, accept, gotAccept)

	g := Go{T0UnixMs: 1234567}
	go func() { done <- cch.SendGo(g) }()
	gotGo, err := sch.ReadGo()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, g, gotGo)
}

func TestVersionMismatchAborts(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cch := NewChannel(client, time.Second)
	sch := NewChannel(server, time.Second)

	go cch.SendHello(Hello{Version: ProtocolVersion + 1})
	_, err := sch.ReadHello()
	var mismatch *ErrVersionMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestOversizedFrameClosesChannel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sch := NewChannel(server, time.Second)

	big := strings.Repeat("x", MaxFrameSize*2)
	go func() {
		client.Write([]byte(`{"type":"offer","nonce":"` + big + `"}` + "\n"))
	}()

	_, err := sch.ReadOffer()
	require.Error(t, err)
	var protoErr *ErrProtocol
	require.ErrorAs(t, err, &protoErr)
}

func TestNegotiateT0TakesLatestPlusDelta(t *testing.T) {
	local := time.Unix(100, 0)
	remote := time.Unix(200, 0)
	t0 := NegotiateT0(local, remote, time.Second)
	assert.Equal(t, time.Unix(201, 0), t0)
}
