package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressLessIsAntisymmetric(t *testing.T) {
	a := MustParseAddress("200:a::1")
	b := MustParseAddress("200:a::2")

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.Initiates(b))
	assert.False(t, b.Initiates(a))
}

func TestAddressRoundTrip(t *testing.T) {
	a := MustParseAddress("200:a::1")
	parsed, err := ParseAddress(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestParseAddressRejectsIPv4(t *testing.T) {
	_, err := ParseAddress("1.2.3.4")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestWhitelistEmptyAllowsAll(t *testing.T) {
	var wl Whitelist
	assert.True(t, wl.Allows(MustParseAddress("200:abcd::1")))
}

func TestWhitelistSubnetMatch(t *testing.T) {
	wl, err := ParseWhitelist([]string{"300::/8"})
	require.NoError(t, err)

	assert.False(t, wl.Allows(MustParseAddress("200:abcd::1")))
	assert.True(t, wl.Allows(MustParseAddress("300::1")))
}

func TestWhitelistExactAddress(t *testing.T) {
	wl, err := ParseWhitelist([]string{"200:a::1"})
	require.NoError(t, err)

	assert.True(t, wl.Allows(MustParseAddress("200:a::1")))
	assert.False(t, wl.Allows(MustParseAddress("200:a::2")))
}

func TestTransportRoundTrip(t *testing.T) {
	for _, s := range []string{"tcp", "quic", "tls"} {
		tr, ok := ParseTransport(s)
		require.True(t, ok)
		assert.Equal(t, s, tr.String())
	}
}
