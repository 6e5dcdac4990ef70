package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pullsim/internal/experiment"
	"github.com/nvandessel/pullsim/internal/protocol"
)

func newTrialCmd() *cobra.Command {
	defaults := protocol.DefaultParams()
	cmd := &cobra.Command{
		Use:   "trial",
		Short: "Run a single trial and report its convergence time",
		Long: `Build one population with a source agent and run it until every agent
holds the source opinion or the round cap is reached.

Examples:
  pullsim trial -n 1024
  pullsim trial --rule voter -n 256 --random=false --seed 7
  pullsim trial --rule multi-trend --opinions 5 --parallel`,
		RunE: runTrial,
	}

	cmd.Flags().String("rule", protocol.RuleTrend, "Update rule: "+strings.Join(protocol.Rules(), ", "))
	cmd.Flags().IntP("population", "n", 1024, "Population size, source included")
	cmd.Flags().Int("opinions", defaults.Opinions, "Number of opinions")
	cmd.Flags().Int("source-opinion", defaults.SourceOpinion, "Opinion held by the source")
	cmd.Flags().Bool("random", defaults.RandomOpinions, "Draw initial opinions at random (false = pseudo-consensus)")
	cmd.Flags().Bool("parallel", defaults.Parallel, "Use synchronous parallel rounds")
	cmd.Flags().Bool("lazy", defaults.Lazy, "Make trend followers fire once per sample-size activations")
	cmd.Flags().Float64("sample-factor", defaults.SampleFactor, "Trend sample size factor (sample = factor * ln n)")
	cmd.Flags().Uint64("seed", 1, "Trial seed")
	cmd.Flags().Int("max-rounds", 0, "Round cap (0 = use config max_rounds, -1 = uncapped)")

	return cmd
}

func runTrial(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	rule, _ := cmd.Flags().GetString("rule")
	n, _ := cmd.Flags().GetInt("population")
	seed, _ := cmd.Flags().GetUint64("seed")
	maxRounds, _ := cmd.Flags().GetInt("max-rounds")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	switch {
	case maxRounds == 0:
		maxRounds = cfg.Experiment.MaxRounds
	case maxRounds < 0:
		maxRounds = 0
	}
	if n < 1 {
		return fmt.Errorf("population must be positive, got %d", n)
	}

	p := protocol.DefaultParams()
	p.Opinions, _ = cmd.Flags().GetInt("opinions")
	p.SourceOpinion, _ = cmd.Flags().GetInt("source-opinion")
	p.RandomOpinions, _ = cmd.Flags().GetBool("random")
	p.Parallel, _ = cmd.Flags().GetBool("parallel")
	p.Lazy, _ = cmd.Flags().GetBool("lazy")
	p.SampleFactor, _ = cmd.Flags().GetFloat64("sample-factor")

	init, err := protocol.Lookup(rule, p)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	logger.Debug("starting trial", "rule", rule, "n", n, "seed", seed, "max_rounds", maxRounds)
	res, err := experiment.Trial(ctx, init, n, seed, maxRounds)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return json.NewEncoder(out).Encode(struct {
			Rule string `json:"rule"`
			experiment.TrialResult
		}{rule, res})
	}
	if res.Converged {
		fmt.Fprintf(out, "Converged to opinion %d after %d rounds (n=%d, %s)\n", res.Opinion, res.Rounds, n, res.Duration)
	} else {
		fmt.Fprintf(out, "No consensus after %d rounds (n=%d, %s)\n", res.Rounds, n, res.Duration)
	}
	return nil
}
