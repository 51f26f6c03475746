// Command vendistactl drives Vendista payment terminals from a vending
// controller: it runs the slave protocol on the configured ports, logs the
// terminal events and exposes link metrics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abrant-ru/vendista/config"
	"github.com/abrant-ru/vendista/logger"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "vendistactl",
		Short: "Vendista payment terminal driver",
		Long: `vendistactl talks to Vendista cashless payment terminals over their
slave port (serial or serial-over-TCP).

It polls every configured terminal, turns terminal reports into events,
retries corrupted or lost exchanges and exposes link health as Prometheus
metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		runCmd(opts),
		frameCmd(opts),
		versionCmd(),
	)

	return rootCmd
}

// loadConfig loads the configuration file, or the defaults when none is given.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return config.Config{}, err
		}
	}

	if o.logLevel != "" {
		level, err := logger.ParseLevel(o.logLevel)
		if err != nil {
			return config.Config{}, err
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}
