// Package cli wires the jumper's command-line surface: --config,
// --print-default, --loglevel and --reconnect (spec.md 6 "CLI surface").
// The CLI itself sits outside the spec's core, but every complete jumper
// needs a concrete entry point wired to it.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath   string
	printDefault bool
	loglevel     string
	reconnect    bool
)

// rootCmd is both the base command and the default action: running
// `jumper` with no subcommand starts the watcher loop.
var rootCmd = &cobra.Command{
	Use:   "jumper",
	Short: "NAT traversal sidecar for the Yggdrasil overlay",
	Long: `yggjumper watches a local Yggdrasil router's peer list and, for each
eligible remote peer that is also running a jumper, negotiates a direct
Internet path via STUN and simultaneous-connect NAT traversal, then
splices the result back into the router as a regular peering.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runJumper,
}

// Execute runs the root command, exiting 1 on any fatal error (spec.md 6:
// "Exit code 0 on clean shutdown, 1 on fatal initialization error").
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "jumper: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", `configuration file path, or "-" to read YAML from stdin`)
	rootCmd.Flags().BoolVar(&printDefault, "print-default", false, "print the default configuration as YAML and exit")
	rootCmd.Flags().StringVar(&loglevel, "loglevel", "info", "off|error|warn|info|debug")
	rootCmd.Flags().BoolVar(&reconnect, "reconnect", false, "override yggdrasil_admin_reconnect to true")
}
