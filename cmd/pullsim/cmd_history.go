package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pullsim/internal/store"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs or show one run's results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			root, _ := cmd.Flags().GetString("root")
			limit, _ := cmd.Flags().GetInt("limit")

			st, err := store.NewSQLiteStore(root)
			if err != nil {
				return fmt.Errorf("failed to open results store: %w", err)
			}
			defer st.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := st.GetRun(ctx, args[0])
				if errors.Is(err, store.ErrRunNotFound) {
					return fmt.Errorf("run not found: %s", args[0])
				}
				if err != nil {
					return err
				}
				if jsonOut {
					return json.NewEncoder(out).Encode(run)
				}
				printRun(out, run)
				return nil
			}

			runs, err := st.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"runs":  runs,
					"count": len(runs),
				})
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-14s %-12s seed=%-6d iterations=%d  %s\n",
					r.ID, r.Protocol, r.Rule, r.Seed, r.Iterations, r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")
	return cmd
}

func printRun(w io.Writer, r store.Run) {
	fmt.Fprintf(w, "Run:        %s\n", r.ID)
	fmt.Fprintf(w, "Protocol:   %s (%s)\n", r.Protocol, r.Rule)
	fmt.Fprintf(w, "Seed:       %d\n", r.Seed)
	fmt.Fprintf(w, "Iterations: %d\n", r.Iterations)
	fmt.Fprintf(w, "Created:    %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if len(r.Summaries) == 0 {
		fmt.Fprintln(w, "\nNo summaries recorded.")
		return
	}
	fmt.Fprintln(w)
	for _, s := range r.Summaries {
		fmt.Fprintf(w, "  n=%-8d mean=%-12.2f median=%-12.2f min=%-10.0f max=%.0f", s.Population, s.Mean, s.Median, s.Min, s.Max)
		if s.NotConverged > 0 {
			fmt.Fprintf(w, "  (%d/%d capped)", s.NotConverged, s.Trials)
		}
		fmt.Fprintln(w)
	}
}
