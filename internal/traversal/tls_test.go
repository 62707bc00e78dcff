package traversal

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "yggjumper-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestAttemptTLSVerifiesPeerKey(t *testing.T) {
	portA := freePort(t)
	portB := freePort(t)
	cfg := DefaultConfig()
	cfg.MaxAttempts = 5
	cfg.AttemptDelay = 10 * time.Millisecond
	t0 := time.Now().Add(20 * time.Millisecond)

	certA := selfSignedCert(t)
	certB := selfSignedCert(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		conn *tls.Conn
		err  error
	}
	chServer := make(chan result, 1)
	go func() {
		tlsConf := &tls.Config{Certificates: []tls.Certificate{certB}}
		conn, err := AttemptTLSServer(ctx, portB, RemoteEndpoint{IP: net.ParseIP("127.0.0.1"), Port: portA}, t0, cfg, tlsConf, func(certDER []byte) error {
			return matchesCert(certDER, certA)
		})
		chServer <- result{conn, err}
	}()

	tlsConf := &tls.Config{Certificates: []tls.Certificate{certA}}
	clientConn, err := AttemptTLS(ctx, portA, RemoteEndpoint{IP: net.ParseIP("127.0.0.1"), Port: portB}, t0, cfg, tlsConf, func(certDER []byte) error {
		return matchesCert(certDER, certB)
	})
	require.NoError(t, err)
	defer clientConn.Close()

	sr := <-chServer
	require.NoError(t, sr.err)
	defer sr.conn.Close()
}

func TestAttemptTLSRejectsWrongPeerKey(t *testing.T) {
	portA := freePort(t)
	portB := freePort(t)
	cfg := DefaultConfig()
	cfg.MaxAttempts = 5
	cfg.AttemptDelay = 10 * time.Millisecond
	t0 := time.Now().Add(20 * time.Millisecond)

	certA := selfSignedCert(t)
	certB := selfSignedCert(t)
	impostor := selfSignedCert(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		tlsConf := &tls.Config{Certificates: []tls.Certificate{certB}}
		_, _ = AttemptTLSServer(ctx, portB, RemoteEndpoint{IP: net.ParseIP("127.0.0.1"), Port: portA}, t0, cfg, tlsConf, nil)
	}()

	tlsConf := &tls.Config{Certificates: []tls.Certificate{certA}}
	_, err := AttemptTLS(ctx, portA, RemoteEndpoint{IP: net.ParseIP("127.0.0.1"), Port: portB}, t0, cfg, tlsConf, func(certDER []byte) error {
		return matchesCert(certDER, impostor)
	})
	require.ErrorIs(t, err, ErrHandshakeFailed)
}

func matchesCert(certDER []byte, want tls.Certificate) error {
	if len(want.Certificate) == 0 {
		return nil
	}
	got := want.Certificate[0]
	if len(certDER) != len(got) {
		return ErrHandshakeFailed
	}
	for i := range certDER {
		if certDER[i] != got[i] {
			return ErrHandshakeFailed
		}
	}
	return nil
}
