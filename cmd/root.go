// Package cmd defines the nodewatch command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodewatch",
		Short: "A resilient keyword monitor for forum list pages.",
		Long: `nodewatch polls a forum list page on a randomized schedule, recovers
post titles and links even when the page markup drifts, matches them
against a configurable keyword list, and delivers deduplicated alerts
over Telegram. The keyword list is managed live through bot commands
or from this CLI.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./nodewatch.yaml)")

	cmd.AddCommand(newRunCmd())
	addControlCmds(cmd)
	cmd.AddCommand(newKeywordsCmd())
	cmd.AddCommand(newInstallCmd())
	cmd.AddCommand(newUninstallCmd())

	return cmd
}

// loadConfig reads the effective configuration for the current invocation.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildLogger initializes zap per the logging section and installs it
// globally so library-level code can reach it.
func buildLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
