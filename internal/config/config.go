// Package config loads and validates the jumper's configuration, following
// the teacher's layered viper approach (defaults, then file, then
// environment) sized down to the options spec.md 6 actually names.
package config

import (
	"fmt"
	"time"
)

// Config is the complete set of recognized jumper options (spec.md 6).
type Config struct {
	YggdrasilAdminListen    []string `mapstructure:"yggdrasil_admin_listen" yaml:"yggdrasil_admin_listen"`
	YggdrasilAdminReconnect bool     `mapstructure:"yggdrasil_admin_reconnect" yaml:"yggdrasil_admin_reconnect"`
	YggdrasilListen         []string `mapstructure:"yggdrasil_listen" yaml:"yggdrasil_listen"`
	YggdrasilProtocols      []string `mapstructure:"yggdrasil_protocols" yaml:"yggdrasil_protocols"`

	ListenPort int      `mapstructure:"listen_port" yaml:"listen_port"`
	StunServers []string `mapstructure:"stun_servers" yaml:"stun_servers"`

	Whitelist                   []string `mapstructure:"whitelist" yaml:"whitelist"`
	OnlyPeersAdvertisingJumper  bool     `mapstructure:"only_peers_advertising_jumper" yaml:"only_peers_advertising_jumper"`
	FailedTraversalLimit        int      `mapstructure:"failed_yggdrasil_traversal_limit" yaml:"failed_yggdrasil_traversal_limit"`

	Timings Timings `mapstructure:"timings" yaml:"timings"`

	StunCrossCheck   bool `mapstructure:"stun_cross_check" yaml:"stun_cross_check"`
	StunPrintServers bool `mapstructure:"stun_print_servers" yaml:"stun_print_servers"`
}

// Timings groups the various poll/cooldown/attempt durations named across
// spec.md 4 and 6. All are optional; options left unset take their
// defaults at load time, while an explicitly configured zero is kept.
type Timings struct {
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	CooldownInterval     time.Duration `mapstructure:"cooldown_interval" yaml:"cooldown_interval"`
	RendezvousDelta      time.Duration `mapstructure:"rendezvous_delta" yaml:"rendezvous_delta"`
	RendezvousReadTimeout time.Duration `mapstructure:"rendezvous_read_timeout" yaml:"rendezvous_read_timeout"`
	StunServerTimeout    time.Duration `mapstructure:"stun_server_timeout" yaml:"stun_server_timeout"`
	StunAggregateTimeout time.Duration `mapstructure:"stun_aggregate_timeout" yaml:"stun_aggregate_timeout"`
	TraversalAttemptDelay time.Duration `mapstructure:"traversal_attempt_delay" yaml:"traversal_attempt_delay"`
	TraversalMaxAttempts int           `mapstructure:"traversal_max_attempts" yaml:"traversal_max_attempts"`
	DatagramProbeCadence time.Duration `mapstructure:"datagram_probe_cadence" yaml:"datagram_probe_cadence"`
	DatagramProbeWindow  time.Duration `mapstructure:"datagram_probe_window" yaml:"datagram_probe_window"`
	FailureLedgerTTL     time.Duration `mapstructure:"failure_ledger_ttl" yaml:"failure_ledger_ttl"`
	AdminReconnectCeiling time.Duration `mapstructure:"admin_reconnect_ceiling" yaml:"admin_reconnect_ceiling"`
}

// Default returns the zero-value config with every spec.md 6 default
// applied.
func Default() *Config {
	return &Config{
		YggdrasilAdminListen: []string{
			"unix:///var/run/yggdrasil/yggdrasil.sock",
			"unix:///var/run/yggdrasil.sock",
			"tcp://localhost:9001",
		},
		YggdrasilAdminReconnect: false,
		YggdrasilListen:         nil,
		YggdrasilProtocols:      []string{"tcp", "quic"},
		ListenPort:              4701,
		StunServers:             nil,
		Whitelist:               nil,
		OnlyPeersAdvertisingJumper: false,
		FailedTraversalLimit:       0,
		StunCrossCheck:             true,
		StunPrintServers:           false,
		Timings: Timings{
			PollInterval:          5 * time.Second,
			CooldownInterval:      30 * time.Second,
			RendezvousDelta:       1 * time.Second,
			RendezvousReadTimeout: 10 * time.Second,
			StunServerTimeout:     5 * time.Second,
			StunAggregateTimeout:  8 * time.Second,
			TraversalAttemptDelay: 500 * time.Millisecond,
			TraversalMaxAttempts:  3,
			DatagramProbeCadence:  200 * time.Millisecond,
			DatagramProbeWindow:   5 * time.Second,
			FailureLedgerTTL:      1 * time.Hour,
			AdminReconnectCeiling: 30 * time.Second,
		},
	}
}

// ErrInvalid wraps a config validation failure; see spec.md 7 ConfigInvalid.
type ErrInvalid struct {
	Field string
	Err   error
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("config: invalid %s: %v", e.Field, e.Err)
}

func (e *ErrInvalid) Unwrap() error { return e.Err }

// Validate checks the config for internal consistency. It never mutates c;
// Load calls it after layering the file and environment over Default().
func (c *Config) Validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return &ErrInvalid{Field: "listen_port", Err: fmt.Errorf("out of range: %d", c.ListenPort)}
	}
	if len(c.YggdrasilAdminListen) == 0 {
		return &ErrInvalid{Field: "yggdrasil_admin_listen", Err: fmt.Errorf("must list at least one candidate")}
	}
	for _, p := range c.YggdrasilProtocols {
		switch p {
		case "tcp", "quic", "tls":
		default:
			return &ErrInvalid{Field: "yggdrasil_protocols", Err: fmt.Errorf("unrecognized protocol %q", p)}
		}
	}
	if c.Timings.TraversalMaxAttempts <= 0 {
		return &ErrInvalid{Field: "timings.traversal_max_attempts", Err: fmt.Errorf("must be positive")}
	}
	return nil
}
