package cli

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeJamon/yggjumper/internal/admin"
	"github.com/LeJamon/yggjumper/internal/config"
	"github.com/LeJamon/yggjumper/internal/controller"
	"github.com/LeJamon/yggjumper/internal/logging"
	"github.com/LeJamon/yggjumper/internal/stunresolver"
	"github.com/LeJamon/yggjumper/internal/traversal"
)

func runJumper(cmd *cobra.Command, args []string) error {
	if printDefault {
		out, err := config.PrintDefault()
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if reconnect {
		cfg.YggdrasilAdminReconnect = true
	}

	log := logging.New(loglevel, os.Stderr)

	adminClient := admin.New(admin.Config{
		Candidates: cfg.YggdrasilAdminListen,
		Reconnect:  cfg.YggdrasilAdminReconnect,
		BackoffCap: cfg.Timings.AdminReconnectCeiling,
	})
	defer adminClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver := &stunresolver.Resolver{
		PerServerTimeout: cfg.Timings.StunServerTimeout,
		AggregateTimeout: cfg.Timings.StunAggregateTimeout,
	}

	engine := &traversal.Engine{
		Config: traversal.Config{
			MaxAttempts:       cfg.Timings.TraversalMaxAttempts,
			AttemptDelay:      cfg.Timings.TraversalAttemptDelay,
			ProbeCadence:      cfg.Timings.DatagramProbeCadence,
			ProbeWindow:       cfg.Timings.DatagramProbeWindow,
			RefusedFastWindow: 50 * time.Millisecond,
		},
	}
	if tlsNeeded(cfg.YggdrasilProtocols) {
		tlsConfig, err := selfTLSConfig(ctx, adminClient)
		if err != nil {
			return fmt.Errorf("jumper: %w", err)
		}
		engine.TLSConfig = tlsConfig
	}

	ctrl, err := controller.New(controller.Deps{
		Admin:  adminClient,
		Stun:   resolver,
		Engine: engine,
		Config: cfg,
		Logger: log,
	})
	if err != nil {
		return err
	}

	log.Info("jumper starting", "listen_port", cfg.ListenPort, "protocols", cfg.YggdrasilProtocols)
	return ctrl.Run(ctx)
}

// selfTLSConfig builds the tls.Config shared by the stream+TLS and the
// datagram/QUIC traversal variants: an ephemeral certificate binding this
// jumper's own overlay public key (traversal.SelfSignedIdentity), plus the
// ALPN protocol quic-go requires to ever complete a handshake.
func selfTLSConfig(ctx context.Context, adminClient *admin.Client) (*tls.Config, error) {
	self, err := adminClient.GetSelf(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch self overlay key: %w", err)
	}
	overlayKey, err := hex.DecodeString(self.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode self overlay key: %w", err)
	}
	cert, err := traversal.SelfSignedIdentity(overlayKey)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{traversal.ALPNProtocol},
	}, nil
}

// tlsNeeded reports whether any negotiated transport requires a TLS
// identity: both the "tls" stream variant and "quic" need one, since
// quic-go refuses a handshake with no certificate or ALPN protocol.
func tlsNeeded(protocols []string) bool {
	for _, p := range protocols {
		if p == "tls" || p == "quic" {
			return true
		}
	}
	return false
}
