package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pullsim/internal/config"
	"github.com/nvandessel/pullsim/internal/logging"
	"github.com/nvandessel/pullsim/internal/store"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pullsim",
		Short: "Pull-model opinion dynamics simulator",
		Long: `pullsim measures how long anonymous agents that only observe random
samples of each other take to agree with a single source agent.

It simulates the Voter and Follow the Trend dynamics over a range of
population sizes and writes the average convergence times as an XML
figure for plotting.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory (results go to <root>/.pullsim)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.pullsim/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newTrialCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

// loadConfig loads the configuration named by --config, applies --log-level
// and any command overrides, then validates the result.
func loadConfig(cmd *cobra.Command, overrides ...func(*config.Config)) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	for _, apply := range overrides {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

func newTrialLogger(cmd *cobra.Command, cfg *config.Config) *logging.TrialLogger {
	root, _ := cmd.Flags().GetString("root")
	return logging.NewTrialLogger(store.LocalPath(root), cfg.Logging.Level)
}

// signalContext returns a context cancelled on the first interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, shutdownSignals...)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(ch)
		cancel()
	}
}
