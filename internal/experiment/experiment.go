// Package experiment measures time to consensus. It runs independent trials
// of a protocol on a bounded worker pool, summarizes them per population
// size, and sweeps over population sizes.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/pullsim/internal/dynamics"
	"github.com/nvandessel/pullsim/internal/logging"
	"github.com/nvandessel/pullsim/internal/protocol"
	"github.com/nvandessel/pullsim/internal/randsrc"
)

// TrialResult is the outcome of one independent run.
type TrialResult struct {
	Population int           `json:"population"`
	Trial      int           `json:"trial"`
	Seed       uint64        `json:"seed"`
	Rounds     int           `json:"rounds"`
	Converged  bool          `json:"converged"`
	Opinion    int           `json:"opinion"`
	Duration   time.Duration `json:"duration_ns"`
}

// Trial builds a population of n agents from a generator seeded with seed
// and runs it to consensus, giving up after maxRounds rounds
// (maxRounds <= 0 means never). Hitting the cap is not an error: the result
// reports Converged false. Cancellation of ctx is.
func Trial(ctx context.Context, init protocol.Initializer[int], n int, seed uint64, maxRounds int) (TrialResult, error) {
	start := time.Now()
	d := init.Initialize(n, randsrc.New(seed))
	rounds, err := d.RunToConsensus(ctx, maxRounds)
	res := TrialResult{
		Population: n,
		Seed:       seed,
		Rounds:     rounds,
		Duration:   time.Since(start),
	}
	switch {
	case err == nil:
		res.Converged = true
		res.Opinion, _ = d.Opinion()
	case errors.Is(err, dynamics.ErrNotConverged):
	default:
		return res, err
	}
	return res, nil
}

// Summary aggregates the trials run at one population size. Statistics are
// taken over converged trials only; with none of them every statistic is 0.
type Summary struct {
	Population   int     `json:"population"`
	Trials       int     `json:"trials"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"stddev"`
	Median       float64 `json:"median"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	NotConverged int     `json:"not_converged"`
}

// Summarize computes the Summary of results for population n.
// The median is the empirical 0.5 quantile, always one of the observed
// round counts.
func Summarize(n int, results []TrialResult) Summary {
	s := Summary{Population: n, Trials: len(results)}
	rounds := make([]float64, 0, len(results))
	for _, r := range results {
		if !r.Converged {
			s.NotConverged++
			continue
		}
		rounds = append(rounds, float64(r.Rounds))
	}
	if len(rounds) == 0 {
		return s
	}
	slices.Sort(rounds)
	s.Mean = stat.Mean(rounds, nil)
	if len(rounds) > 1 {
		s.StdDev = stat.StdDev(rounds, nil)
	}
	s.Median = stat.Quantile(0.5, stat.Empirical, rounds, nil)
	s.Min = floats.Min(rounds)
	s.Max = floats.Max(rounds)
	return s
}

// Runner runs trials concurrently. The zero value uses GOMAXPROCS workers,
// no round cap, master seed 0 and no logging.
type Runner struct {
	// Workers bounds the number of trials in flight.
	Workers int

	// MaxRounds caps each trial. <= 0 means uncapped.
	MaxRounds int

	// Seed is the master seed every trial seed is derived from.
	Seed uint64

	// RunID tags trace events.
	RunID string

	Logger *slog.Logger
	Trace  *logging.TrialLogger

	// Observe, when set, is called by Sweep after each population size with
	// that size's summary and trials. An error aborts the sweep.
	Observe func(name string, s Summary, trials []TrialResult) error
}

func (r *Runner) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logging.Discard()
}

// Average runs iterations independent trials of init at population n.
// Trial i is seeded with randsrc.TrialSeed(r.Seed, n, i) and results are
// kept in trial order, so the output does not depend on r.Workers.
func (r *Runner) Average(ctx context.Context, init protocol.Initializer[int], n, iterations int) (Summary, []TrialResult, error) {
	return r.average(ctx, "", init, n, iterations)
}

func (r *Runner) average(ctx context.Context, name string, init protocol.Initializer[int], n, iterations int) (Summary, []TrialResult, error) {
	if n < 1 {
		return Summary{}, nil, fmt.Errorf("population size must be positive, got %d", n)
	}
	if iterations < 1 {
		return Summary{}, nil, fmt.Errorf("iterations must be positive, got %d", iterations)
	}

	log := r.logger()
	results := make([]TrialResult, iterations)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	for i := range iterations {
		g.Go(func() error {
			seed := randsrc.TrialSeed(r.Seed, n, i)
			res, err := Trial(gctx, init, n, seed, r.MaxRounds)
			if err != nil {
				return fmt.Errorf("trial %d at n=%d: %w", i, n, err)
			}
			res.Trial = i
			results[i] = res

			log.Log(gctx, logging.LevelTrace, "trial finished",
				"protocol", name, "n", n, "trial", i, "rounds", res.Rounds, "converged", res.Converged)
			ev := logging.TrialEvent{
				Run:        r.RunID,
				Protocol:   name,
				Population: n,
				Trial:      i,
				Seed:       seed,
				Rounds:     res.Rounds,
				Converged:  res.Converged,
				DurationMS: res.Duration.Milliseconds(),
			}
			if res.Converged {
				ev.Opinion = &res.Opinion
			}
			r.Trace.Trial(ev)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, nil, err
	}

	s := Summarize(n, results)
	if s.NotConverged > 0 {
		log.Warn("trials hit the round cap",
			"protocol", name, "n", n, "not_converged", s.NotConverged, "max_rounds", r.MaxRounds)
	}
	return s, results, nil
}

// Series is the result of a sweep: one summary per population size.
type Series struct {
	Name      string    `json:"name"`
	Sizes     []int     `json:"sizes"`
	Means     []float64 `json:"means"`
	Summaries []Summary `json:"summaries"`
}

// Sweep runs Average for each population size in order.
func (r *Runner) Sweep(ctx context.Context, name string, init protocol.Initializer[int], sizes []int, iterations int) (Series, error) {
	series := Series{Name: name}
	log := r.logger()
	sweepStart := time.Now()
	for _, n := range sizes {
		log.Info("processing population", "protocol", name, "n", n)
		start := time.Now()
		s, trials, err := r.average(ctx, name, init, n, iterations)
		if err != nil {
			return series, fmt.Errorf("sweep %s: %w", name, err)
		}
		log.Debug("population done", "protocol", name, "n", n, "mean", s.Mean, "elapsed", time.Since(start))

		series.Sizes = append(series.Sizes, n)
		series.Means = append(series.Means, s.Mean)
		series.Summaries = append(series.Summaries, s)
		if r.Observe != nil {
			if err := r.Observe(name, s, trials); err != nil {
				return series, fmt.Errorf("sweep %s at n=%d: %w", name, n, err)
			}
		}
	}
	r.Trace.Log(map[string]any{
		"event":       "sweep_done",
		"run":         r.RunID,
		"protocol":    name,
		"sizes":       series.Sizes,
		"means":       series.Means,
		"duration_ms": time.Since(sweepStart).Milliseconds(),
	})
	return series, nil
}

// PopulationSizes returns 2^i for minExp <= i < maxExp.
func PopulationSizes(minExp, maxExp int) []int {
	var sizes []int
	for i := max(minExp, 0); i < maxExp; i++ {
		sizes = append(sizes, 1<<i)
	}
	return sizes
}
