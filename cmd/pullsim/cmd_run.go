package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pullsim/internal/config"
	"github.com/nvandessel/pullsim/internal/experiment"
	"github.com/nvandessel/pullsim/internal/figure"
	"github.com/nvandessel/pullsim/internal/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sweep population sizes and write the convergence figure",
		Long: `Run every configured protocol over population sizes 2^min-exp up to
2^(max-exp-1), averaging the convergence time of --iterations trials per
size. The averages are written as an XML figure and, unless --no-store is
given, recorded in <root>/.pullsim/pullsim.db.

Examples:
  pullsim run
  pullsim run --protocol ftt --protocol voter --max-exp 8 --iterations 100
  pullsim run --out fig.xml --csv results.csv --seed 42`,
		RunE: runSimulation,
	}

	cmd.Flags().StringSlice("protocol", nil, "Protocols to run (default: all configured)")
	cmd.Flags().String("out", "", "Figure output path (overrides config)")
	cmd.Flags().String("csv", "", "Also write per-size statistics as CSV")
	cmd.Flags().Bool("no-store", false, "Do not record the run in the results database")
	cmd.Flags().Int("min-exp", 0, "Smallest population exponent")
	cmd.Flags().Int("max-exp", 0, "Exclusive upper population exponent")
	cmd.Flags().Int("iterations", 0, "Trials per population size")
	cmd.Flags().Uint64("seed", 0, "Master seed")
	cmd.Flags().Int("workers", 0, "Concurrent trials (0 = one per CPU)")
	cmd.Flags().Int("max-rounds", 0, "Round cap per trial (0 = uncapped)")

	return cmd
}

// applyRunFlags copies explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("min-exp") {
		cfg.Experiment.MinExponent, _ = flags.GetInt("min-exp")
	}
	if flags.Changed("max-exp") {
		cfg.Experiment.MaxExponent, _ = flags.GetInt("max-exp")
	}
	if flags.Changed("iterations") {
		cfg.Experiment.Iterations, _ = flags.GetInt("iterations")
	}
	if flags.Changed("seed") {
		cfg.Experiment.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("workers") {
		cfg.Experiment.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("max-rounds") {
		cfg.Experiment.MaxRounds, _ = flags.GetInt("max-rounds")
	}
	if flags.Changed("out") {
		cfg.Output.Figure, _ = flags.GetString("out")
	}
	if flags.Changed("csv") {
		cfg.Output.CSV, _ = flags.GetString("csv")
	}
}

type runResult struct {
	Figure string              `json:"figure"`
	CSV    string              `json:"csv,omitempty"`
	Runs   map[string]string   `json:"runs,omitempty"`
	Series []experiment.Series `json:"series"`
}

func runSimulation(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	root, _ := cmd.Flags().GetString("root")
	noStore, _ := cmd.Flags().GetBool("no-store")
	names, _ := cmd.Flags().GetStringSlice("protocol")

	cfg, err := loadConfig(cmd, func(c *config.Config) { applyRunFlags(cmd, c) })
	if err != nil {
		return err
	}
	protocols, err := cfg.Select(names)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)
	trace := newTrialLogger(cmd, cfg)
	defer trace.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var st store.RunStore
	if !noStore {
		s, err := store.NewSQLiteStore(root)
		if err != nil {
			return fmt.Errorf("failed to open results store: %w", err)
		}
		defer s.Close()
		st = s
	}

	fig, err := newFigure(cfg.Figure)
	if err != nil {
		return err
	}

	result := runResult{Figure: cfg.Output.Figure, CSV: cfg.Output.CSV}
	if st != nil {
		result.Runs = make(map[string]string, len(protocols))
	}

	exp := cfg.Experiment
	for i, p := range protocols {
		init, err := p.Initializer()
		if err != nil {
			return fmt.Errorf("protocol %s: %w", p.Name, err)
		}
		sizes := cfg.Sizes(p)
		if len(sizes) == 0 {
			logger.Warn("no population sizes in range, skipping", "protocol", p.Name, "max_exponent", p.MaxExponent)
			continue
		}

		runner := &experiment.Runner{
			Workers:   exp.Workers,
			MaxRounds: exp.MaxRounds,
			Seed:      exp.Seed,
			Logger:    logger,
			Trace:     trace,
		}
		if st != nil {
			run, err := st.CreateRun(ctx, store.Run{
				Protocol:   p.Name,
				Rule:       p.Rule,
				Params:     p.Params(),
				Seed:       exp.Seed,
				Iterations: exp.Iterations,
				MaxRounds:  exp.MaxRounds,
			})
			if err != nil {
				return fmt.Errorf("failed to record run: %w", err)
			}
			runner.RunID = run.ID
			result.Runs[p.Name] = run.ID
			runner.Observe = func(_ string, s experiment.Summary, trials []experiment.TrialResult) error {
				if err := st.RecordTrials(ctx, run.ID, trials); err != nil {
					return err
				}
				return st.RecordSummary(ctx, run.ID, s)
			}
		}

		series, err := runner.Sweep(ctx, p.Name, init, sizes, exp.Iterations)
		if err != nil {
			return err
		}
		result.Series = append(result.Series, series)
		if err := fig.AddSeries(i, series, p.PlotAttrs()...); err != nil {
			return err
		}
	}

	if err := ensureDir(cfg.Output.Figure); err != nil {
		return err
	}
	if err := fig.WriteFile(cfg.Output.Figure); err != nil {
		return fmt.Errorf("failed to write figure: %w", err)
	}
	if cfg.Output.CSV != "" {
		if err := writeCSVFile(cfg.Output.CSV, result.Series); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return json.NewEncoder(out).Encode(result)
	}
	printSeries(out, result.Series)
	fmt.Fprintf(out, "Figure written to %s\n", cfg.Output.Figure)
	if cfg.Output.CSV != "" {
		fmt.Fprintf(out, "CSV written to %s\n", cfg.Output.CSV)
	}
	return nil
}

func newFigure(fc config.FigureConfig) (*figure.Figure, error) {
	var attrs []string
	for _, kv := range [][2]string{
		{"title", fc.Title},
		{"xscale", fc.XScale},
		{"xlabel", fc.XLabel},
		{"ylabel", fc.YLabel},
	} {
		if kv[1] != "" {
			attrs = append(attrs, kv[0], kv[1])
		}
	}
	return figure.New(attrs...)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

func writeCSVFile(path string, series []experiment.Series) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv: %w", err)
	}
	if err := figure.WriteCSV(f, series); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSeries(w io.Writer, series []experiment.Series) {
	for _, s := range series {
		fmt.Fprintf(w, "%s\n", s.Name)
		for _, sum := range s.Summaries {
			fmt.Fprintf(w, "  n=%-8d mean=%-12.2f median=%-12.2f stddev=%.2f", sum.Population, sum.Mean, sum.Median, sum.StdDev)
			if sum.NotConverged > 0 {
				fmt.Fprintf(w, "  (%d/%d capped)", sum.NotConverged, sum.Trials)
			}
			fmt.Fprintln(w)
		}
	}
}
