package traversal

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// overlayKeyOID tags the custom certificate extension carrying the raw
// Yggdrasil overlay public key, binding an ephemeral TLS identity back to
// the overlay address the admin channel already vouched for.
var overlayKeyOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 61920, 1}

// ALPNProtocol is negotiated by both the stream+TLS and the datagram/QUIC
// variants; a bare tls.Config with no NextProtos makes quic-go reject the
// handshake outright.
const ALPNProtocol = "yggjumper/1"

// SelfSignedIdentity builds an ephemeral TLS certificate for this jumper,
// embedding overlayKey (this node's own key, as reported by getSelf) in a
// custom extension so a peer's VerifyOverlayKey can bind the TLS session
// back to the overlay identity it already learned from its own admin
// channel (spec.md 4.4 "TLS variant").
func SelfSignedIdentity(overlayKey []byte) (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("traversal: generate identity key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "yggjumper"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour * 365),
		ExtraExtensions: []pkix.Extension{
			{Id: overlayKeyOID, Value: overlayKey},
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("traversal: create identity cert: %w", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

// VerifyOverlayKey returns a verifyPeerKey callback, the shape AttemptTLS,
// AttemptTLSServer and AttemptDatagram all call with the presented leaf
// certificate's raw DER bytes. It succeeds only if that certificate embeds
// expected, the overlay public key the admin channel reported for this
// specific remote peer.
func VerifyOverlayKey(expected []byte) func(certDER []byte) error {
	return func(certDER []byte) error {
		cert, err := x509.ParseCertificate(certDER)
		if err != nil {
			return fmt.Errorf("parse peer certificate: %w", err)
		}
		for _, ext := range cert.Extensions {
			if !ext.Id.Equal(overlayKeyOID) {
				continue
			}
			if bytes.Equal(ext.Value, expected) {
				return nil
			}
			return fmt.Errorf("overlay key mismatch")
		}
		return fmt.Errorf("peer certificate carries no overlay key extension")
	}
}
