package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from path in priority order: defaults, then the
// file at path (any format viper supports by extension; "-" reads from
// stdin as YAML), then JUMPER_-prefixed environment variables, mirroring
// the teacher's defaults→file→env layering (internal/config/loader.go).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "-" {
		v.SetConfigType("yaml")
		if err := v.ReadConfig(os.Stdin); err != nil {
			return nil, fmt.Errorf("config: read stdin: %w", err)
		}
	} else if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("JUMPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("yggdrasil_admin_listen", d.YggdrasilAdminListen)
	v.SetDefault("yggdrasil_admin_reconnect", d.YggdrasilAdminReconnect)
	v.SetDefault("yggdrasil_protocols", d.YggdrasilProtocols)
	v.SetDefault("listen_port", d.ListenPort)
	v.SetDefault("stun_cross_check", d.StunCrossCheck)
	v.SetDefault("stun_print_servers", d.StunPrintServers)
	v.SetDefault("only_peers_advertising_jumper", d.OnlyPeersAdvertisingJumper)
	v.SetDefault("timings.poll_interval", d.Timings.PollInterval)
	v.SetDefault("timings.cooldown_interval", d.Timings.CooldownInterval)
	v.SetDefault("timings.rendezvous_delta", d.Timings.RendezvousDelta)
	v.SetDefault("timings.rendezvous_read_timeout", d.Timings.RendezvousReadTimeout)
	v.SetDefault("timings.stun_server_timeout", d.Timings.StunServerTimeout)
	v.SetDefault("timings.stun_aggregate_timeout", d.Timings.StunAggregateTimeout)
	v.SetDefault("timings.traversal_attempt_delay", d.Timings.TraversalAttemptDelay)
	v.SetDefault("timings.traversal_max_attempts", d.Timings.TraversalMaxAttempts)
	v.SetDefault("timings.datagram_probe_cadence", d.Timings.DatagramProbeCadence)
	v.SetDefault("timings.datagram_probe_window", d.Timings.DatagramProbeWindow)
	v.SetDefault("timings.failure_ledger_ttl", d.Timings.FailureLedgerTTL)
	v.SetDefault("timings.admin_reconnect_ceiling", d.Timings.AdminReconnectCeiling)
}

// PrintDefault renders the default configuration as YAML, the --print-default
// CLI surface (spec.md 6); the CLI itself is out of this spec's core, but a
// working implementation needs a real target for that flag to call.
func PrintDefault() (string, error) {
	out, err := yaml.Marshal(Default())
	if err != nil {
		return "", err
	}
	return string(out), nil
}
