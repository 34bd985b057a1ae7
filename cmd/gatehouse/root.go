package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Gatehouse - API key admission control service",
	Long: `Gatehouse decides, per request, whether an API key may proceed.

It composes four checks into one decision:
  - Key resolution and lifecycle (active, expired, revoked)
  - Origin validation (domains, wildcards, IPs/CIDRs, environment tags)
  - Tiered token-bucket rate limiting (per second, minute, and hour)
  - Monthly quota with purchasable add-on overlay

Denials carry a machine-readable reason and the X-RateLimit-* response
header contract, so the fronting API renders status codes without
re-deriving intent.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
