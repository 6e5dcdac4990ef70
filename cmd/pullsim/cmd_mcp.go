package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pullsim/internal/config"
	"github.com/nvandessel/pullsim/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve simulations to MCP clients over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
pullsim_trial, pullsim_average and pullsim_history tools. Averages recorded
by the server land in the same results database as 'pullsim run'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			// stdout carries the protocol; logs go to stderr.
			logger := newLogger(cmd, cfg)
			trace := newTrialLogger(cmd, cfg)
			defer trace.Close()

			limits := serverLimits(cfg)

			server, err := mcp.NewServer(&mcp.Config{
				Name:    "pullsim",
				Version: version,
				Root:    root,
				Limits:  limits,
				Workers: cfg.Experiment.Workers,
				Logger:  logger,
				Trace:   trace,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			logger.Info("mcp server listening on stdio", "root", root)
			return server.Run(ctx)
		},
	}
}

// serverLimits returns the MCP defaults, tightened by a smaller configured
// max_rounds. The config cannot raise the per-call cap.
func serverLimits(cfg *config.Config) mcp.Limits {
	limits := mcp.DefaultLimits()
	if r := cfg.Experiment.MaxRounds; r > 0 && r < limits.MaxRounds {
		limits.MaxRounds = r
	}
	return limits
}
