package mcp

import (
	"github.com/nvandessel/pullsim/internal/experiment"
	"github.com/nvandessel/pullsim/internal/protocol"
)

// TrialInput defines the input for pullsim_trial. Unset optional fields take
// the defaults of the reference experiment.
type TrialInput struct {
	Rule           string  `json:"rule" jsonschema:"Update rule: voter, trend or multi-trend"`
	N              int     `json:"n" jsonschema:"Population size, source agent included"`
	Opinions       int     `json:"opinions,omitempty" jsonschema:"Number of distinct opinions (default 2)"`
	RandomOpinions bool    `json:"random_opinions,omitempty" jsonschema:"Draw initial opinions uniformly instead of a pseudo-consensus on a wrong opinion"`
	Parallel       bool    `json:"parallel,omitempty" jsonschema:"Synchronous rounds instead of sequential activations"`
	Lazy           *bool   `json:"lazy,omitempty" jsonschema:"Let trend followers update once per sample-size activations (default true)"`
	SampleFactor   float64 `json:"sample_factor,omitempty" jsonschema:"Trend sample size is floor(sample_factor * ln n) (default 10)"`
	Seed           uint64  `json:"seed,omitempty" jsonschema:"Random seed; equal seeds reproduce results"`
	MaxRounds      int     `json:"max_rounds,omitempty" jsonschema:"Give up after this many rounds (default and upper bound set by the server)"`
}

// TrialOutput defines the output for pullsim_trial.
type TrialOutput struct {
	Rule       string `json:"rule"`
	N          int    `json:"n"`
	Seed       uint64 `json:"seed"`
	Rounds     int    `json:"rounds" jsonschema:"Parallel rounds elapsed"`
	Converged  bool   `json:"converged"`
	Opinion    *int   `json:"opinion,omitempty" jsonschema:"Consensus opinion when converged"`
	DurationMs int64  `json:"duration_ms"`
	Message    string `json:"message"`
}

// AverageInput defines the input for pullsim_average.
type AverageInput struct {
	Rule           string  `json:"rule" jsonschema:"Update rule: voter, trend or multi-trend"`
	N              int     `json:"n" jsonschema:"Population size, source agent included"`
	Iterations     int     `json:"iterations" jsonschema:"Number of independent trials"`
	Opinions       int     `json:"opinions,omitempty" jsonschema:"Number of distinct opinions (default 2)"`
	RandomOpinions bool    `json:"random_opinions,omitempty" jsonschema:"Draw initial opinions uniformly instead of a pseudo-consensus on a wrong opinion"`
	Parallel       bool    `json:"parallel,omitempty" jsonschema:"Synchronous rounds instead of sequential activations"`
	Lazy           *bool   `json:"lazy,omitempty" jsonschema:"Let trend followers update once per sample-size activations (default true)"`
	SampleFactor   float64 `json:"sample_factor,omitempty" jsonschema:"Trend sample size is floor(sample_factor * ln n) (default 10)"`
	Seed           uint64  `json:"seed,omitempty" jsonschema:"Master seed; trial seeds are derived from it"`
	MaxRounds      int     `json:"max_rounds,omitempty" jsonschema:"Per-trial round cap (default and upper bound set by the server)"`
	Record         bool    `json:"record,omitempty" jsonschema:"Store the run so pullsim_history can show it"`
	Name           string  `json:"name,omitempty" jsonschema:"Series name used when recording (default: the rule)"`
}

func (in AverageInput) trial() TrialInput {
	return TrialInput{
		Rule:           in.Rule,
		N:              in.N,
		Opinions:       in.Opinions,
		RandomOpinions: in.RandomOpinions,
		Parallel:       in.Parallel,
		Lazy:           in.Lazy,
		SampleFactor:   in.SampleFactor,
		Seed:           in.Seed,
		MaxRounds:      in.MaxRounds,
	}
}

// AverageOutput defines the output for pullsim_average.
type AverageOutput struct {
	Summary experiment.Summary `json:"summary"`
	RunID   string             `json:"run_id,omitempty" jsonschema:"ID of the stored run when record was set"`
	Message string             `json:"message"`
}

// HistoryInput defines the input for pullsim_history.
type HistoryInput struct {
	ID    string `json:"id,omitempty" jsonschema:"Run ID to show; empty lists recent runs"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum runs to list (default 20)"`
}

// RunItem is a stored run as returned by pullsim_history.
type RunItem struct {
	ID         string               `json:"id"`
	Protocol   string               `json:"protocol"`
	Rule       string               `json:"rule"`
	Params     protocol.Params      `json:"params"`
	Seed       uint64               `json:"seed"`
	Iterations int                  `json:"iterations"`
	MaxRounds  int                  `json:"max_rounds"`
	CreatedAt  string               `json:"created_at" jsonschema:"RFC 3339 timestamp"`
	Summaries  []experiment.Summary `json:"summaries,omitempty"`
}

// HistoryOutput defines the output for pullsim_history.
type HistoryOutput struct {
	Runs  []RunItem `json:"runs,omitempty"`
	Run   *RunItem  `json:"run,omitempty"`
	Count int       `json:"count"`
}
