package traversal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyOverlayKeyAcceptsMatchingCert(t *testing.T) {
	key := []byte("overlay-public-key-bytes")
	cert, err := SelfSignedIdentity(key)
	require.NoError(t, err)
	require.NoError(t, VerifyOverlayKey(key)(cert.Certificate[0]))
}

func TestVerifyOverlayKeyRejectsMismatchedKey(t *testing.T) {
	cert, err := SelfSignedIdentity([]byte("peer-a-key"))
	require.NoError(t, err)
	err = VerifyOverlayKey([]byte("peer-b-key"))(cert.Certificate[0])
	require.Error(t, err)
}

func TestVerifyOverlayKeyRejectsCertWithoutExtension(t *testing.T) {
	cert := selfSignedCert(t) // from tls_test.go: no overlay key extension
	err := VerifyOverlayKey([]byte("anything"))(cert.Certificate[0])
	require.Error(t, err)
}
