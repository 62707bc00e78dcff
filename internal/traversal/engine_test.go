package traversal

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/LeJamon/yggjumper/internal/overlay"
	"github.com/stretchr/testify/require"
)

func TestEngineRunStreamDispatch(t *testing.T) {
	portA := freePort(t)
	portB := freePort(t)
	e := &Engine{Config: DefaultConfig()}
	e.Config.MaxAttempts = 5
	e.Config.AttemptDelay = 10 * time.Millisecond
	t0 := time.Now().Add(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		res Result
		err error
	}
	chB := make(chan result, 1)
	go func() {
		res, err := e.Run(ctx, overlay.TransportStream, portB, RemoteEndpoint{IP: net.ParseIP("127.0.0.1"), Port: portA}, t0, false, nil)
		chB <- result{res, err}
	}()

	res, err := e.Run(ctx, overlay.TransportStream, portA, RemoteEndpoint{IP: net.ParseIP("127.0.0.1"), Port: portB}, t0, true, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.TraversalURL)
	require.Equal(t, overlay.TransportStream, res.Transport)
	defer res.Conn.Close()

	rb := <-chB
	require.NoError(t, rb.err)
	defer rb.res.Conn.Close()
}

func TestEngineRunTLSDispatchVerifiesOverlayKey(t *testing.T) {
	portA := freePort(t)
	portB := freePort(t)

	keyA := []byte("overlay-key-a")
	keyB := []byte("overlay-key-b")
	certA, err := SelfSignedIdentity(keyA)
	require.NoError(t, err)
	certB, err := SelfSignedIdentity(keyB)
	require.NoError(t, err)

	eA := &Engine{Config: DefaultConfig(), TLSConfig: &tls.Config{Certificates: []tls.Certificate{certA}, NextProtos: []string{ALPNProtocol}}}
	eB := &Engine{Config: DefaultConfig(), TLSConfig: &tls.Config{Certificates: []tls.Certificate{certB}, NextProtos: []string{ALPNProtocol}}}
	eA.Config.MaxAttempts = 5
	eA.Config.AttemptDelay = 10 * time.Millisecond
	eB.Config.MaxAttempts = 5
	eB.Config.AttemptDelay = 10 * time.Millisecond
	t0 := time.Now().Add(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		res Result
		err error
	}
	chB := make(chan result, 1)
	go func() {
		res, err := eB.Run(ctx, overlay.TransportStreamTLS, portB, RemoteEndpoint{IP: net.ParseIP("127.0.0.1"), Port: portA}, t0, false, VerifyOverlayKey(keyA))
		chB <- result{res, err}
	}()

	res, err := eA.Run(ctx, overlay.TransportStreamTLS, portA, RemoteEndpoint{IP: net.ParseIP("127.0.0.1"), Port: portB}, t0, true, VerifyOverlayKey(keyB))
	require.NoError(t, err)
	defer res.Conn.Close()

	rb := <-chB
	require.NoError(t, rb.err)
	defer rb.res.Conn.Close()
}

func TestEngineRunRejectsTLSWithoutConfig(t *testing.T) {
	e := &Engine{Config: DefaultConfig()}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := e.Run(ctx, overlay.TransportStreamTLS, freePort(t), RemoteEndpoint{IP: net.ParseIP("127.0.0.1"), Port: 1}, time.Now(), true, nil)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestEngineRunUnknownTransport(t *testing.T) {
	e := &Engine{Config: DefaultConfig()}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := e.Run(ctx, overlay.Transport(99), freePort(t), RemoteEndpoint{IP: net.ParseIP("127.0.0.1"), Port: 1}, time.Now(), true, nil)
	require.ErrorIs(t, err, ErrUnsupported)
}
