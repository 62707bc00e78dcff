package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := Default()
	c.ListenPort = 70000
	var invalid *ErrInvalid
	require.ErrorAs(t, c.Validate(), &invalid)
	assert.Equal(t, "listen_port", invalid.Field)
}

func TestValidateRejectsUnknownProtocol(t *testing.T) {
	c := Default()
	c.YggdrasilProtocols = []string{"carrier-pigeon"}
	require.Error(t, c.Validate())
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jumper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_port: 5000
stun_servers:
  - stun1.example.com:3478
  - stun2.example.com:3478
only_peers_advertising_jumper: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.ListenPort)
	assert.Equal(t, []string{"stun1.example.com:3478", "stun2.example.com:3478"}, cfg.StunServers)
	assert.True(t, cfg.OnlyPeersAdvertisingJumper)
	// Untouched defaults survive the merge.
	assert.Equal(t, Default().Timings.PollInterval, cfg.Timings.PollInterval)
}

func TestPrintDefaultIsValidYAML(t *testing.T) {
	out, err := PrintDefault()
	require.NoError(t, err)
	assert.Contains(t, out, "listen_port: 4701")
}
