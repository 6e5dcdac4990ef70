package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/pullsim/internal/experiment"
	"github.com/nvandessel/pullsim/internal/protocol"
	"github.com/nvandessel/pullsim/internal/store"
)

const (
	toolTrial   = "pullsim_trial"
	toolAverage = "pullsim_average"
	toolHistory = "pullsim_history"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// registerTools registers all pullsim MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolTrial,
		Description: "Run one opinion dynamics trial with a source agent and report the rounds to consensus",
	}, s.handleTrial)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolAverage,
		Description: "Average the time to consensus over independent trials at one population size, optionally recording the run",
	}, s.handleAverage)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolHistory,
		Description: "List recorded experiment runs, or show one run with its per-population summaries",
	}, s.handleHistory)
}

// prepare validates a request against the server limits and resolves the
// protocol. It returns the effective round cap.
func (s *Server) prepare(in TrialInput) (protocol.Initializer[int], protocol.Params, int, error) {
	if in.N < 1 || in.N > s.limits.MaxPopulation {
		return nil, protocol.Params{}, 0, fmt.Errorf("n must be in [1, %d], got %d", s.limits.MaxPopulation, in.N)
	}
	maxRounds := in.MaxRounds
	if maxRounds < 0 {
		return nil, protocol.Params{}, 0, fmt.Errorf("max_rounds must be non-negative, got %d", maxRounds)
	}
	if maxRounds == 0 || maxRounds > s.limits.MaxRounds {
		maxRounds = s.limits.MaxRounds
	}

	params := protocol.DefaultParams()
	params.RandomOpinions = in.RandomOpinions
	params.Parallel = in.Parallel
	if in.Opinions != 0 {
		params.Opinions = in.Opinions
	}
	if in.SampleFactor != 0 {
		params.SampleFactor = in.SampleFactor
	}
	if in.Lazy != nil {
		params.Lazy = *in.Lazy
	}
	init, err := protocol.Lookup(in.Rule, params)
	if err != nil {
		return nil, protocol.Params{}, 0, err
	}
	return init, params, maxRounds, nil
}

func trialParams(in TrialInput) map[string]any {
	return map[string]any{
		"rule": in.Rule, "n": in.N, "opinions": in.Opinions, "random_opinions": in.RandomOpinions,
		"parallel": in.Parallel, "seed": in.Seed, "max_rounds": in.MaxRounds,
	}
}

func (s *Server) handleTrial(ctx context.Context, req *sdk.CallToolRequest, args TrialInput) (_ *sdk.CallToolResult, _ TrialOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolTrial, start, retErr, trialParams(args))
	}()

	if err := checkLimit(s.toolLimiters, toolTrial); err != nil {
		return nil, TrialOutput{}, err
	}
	init, _, maxRounds, err := s.prepare(args)
	if err != nil {
		return nil, TrialOutput{}, err
	}

	res, err := experiment.Trial(ctx, init, args.N, args.Seed, maxRounds)
	if err != nil {
		return nil, TrialOutput{}, fmt.Errorf("trial failed: %w", err)
	}

	out := TrialOutput{
		Rule:       args.Rule,
		N:          args.N,
		Seed:       args.Seed,
		Rounds:     res.Rounds,
		Converged:  res.Converged,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Converged {
		opinion := res.Opinion
		out.Opinion = &opinion
		out.Message = fmt.Sprintf("consensus on opinion %d after %d rounds", opinion, res.Rounds)
	} else {
		out.Message = fmt.Sprintf("no consensus after %d rounds", res.Rounds)
	}
	return nil, out, nil
}

func (s *Server) handleAverage(ctx context.Context, req *sdk.CallToolRequest, args AverageInput) (_ *sdk.CallToolResult, _ AverageOutput, retErr error) {
	start := time.Now()
	defer func() {
		p := trialParams(args.trial())
		p["iterations"] = args.Iterations
		p["record"] = args.Record
		s.auditTool(toolAverage, start, retErr, p)
	}()

	if err := checkLimit(s.toolLimiters, toolAverage); err != nil {
		return nil, AverageOutput{}, err
	}
	if args.Iterations < 1 || args.Iterations > s.limits.MaxIterations {
		return nil, AverageOutput{}, fmt.Errorf("iterations must be in [1, %d], got %d", s.limits.MaxIterations, args.Iterations)
	}
	init, params, maxRounds, err := s.prepare(args.trial())
	if err != nil {
		return nil, AverageOutput{}, err
	}

	runner := &experiment.Runner{
		Workers:   s.workers,
		MaxRounds: maxRounds,
		Seed:      args.Seed,
		Logger:    s.logger,
		Trace:     s.trace,
	}

	// The id is fixed up front so trace events carry it; the row is only
	// written once the average has completed.
	var run store.Run
	if args.Record {
		runner.RunID = uuid.NewString()
	}

	summary, trials, err := runner.Average(ctx, init, args.N, args.Iterations)
	if err != nil {
		return nil, AverageOutput{}, fmt.Errorf("average failed: %w", err)
	}

	if args.Record {
		name := args.Name
		if name == "" {
			name = args.Rule
		}
		run, err = s.store.CreateRun(ctx, store.Run{
			ID:         runner.RunID,
			Protocol:   name,
			Rule:       args.Rule,
			Params:     params,
			Seed:       args.Seed,
			Iterations: args.Iterations,
			MaxRounds:  maxRounds,
		})
		if err != nil {
			return nil, AverageOutput{}, fmt.Errorf("failed to record run: %w", err)
		}
		if err := s.store.RecordTrials(ctx, run.ID, trials); err != nil {
			return nil, AverageOutput{}, fmt.Errorf("failed to record trials: %w", err)
		}
		if err := s.store.RecordSummary(ctx, run.ID, summary); err != nil {
			return nil, AverageOutput{}, fmt.Errorf("failed to record summary: %w", err)
		}
	}

	msg := fmt.Sprintf("mean %.2f rounds over %d trials at n=%d", summary.Mean, summary.Trials-summary.NotConverged, args.N)
	if summary.NotConverged > 0 {
		msg += fmt.Sprintf("; %d trials hit the %d-round cap", summary.NotConverged, maxRounds)
	}
	return nil, AverageOutput{Summary: summary, RunID: run.ID, Message: msg}, nil
}

func toRunItem(r store.Run) RunItem {
	return RunItem{
		ID:         r.ID,
		Protocol:   r.Protocol,
		Rule:       r.Rule,
		Params:     r.Params,
		Seed:       r.Seed,
		Iterations: r.Iterations,
		MaxRounds:  r.MaxRounds,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		Summaries:  r.Summaries,
	}
}

func (s *Server) handleHistory(ctx context.Context, req *sdk.CallToolRequest, args HistoryInput) (_ *sdk.CallToolResult, _ HistoryOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolHistory, start, retErr, map[string]any{"id": args.ID, "limit": args.Limit})
	}()

	if err := checkLimit(s.toolLimiters, toolHistory); err != nil {
		return nil, HistoryOutput{}, err
	}

	if args.ID != "" {
		run, err := s.store.GetRun(ctx, args.ID)
		if err != nil {
			return nil, HistoryOutput{}, err
		}
		item := toRunItem(run)
		return nil, HistoryOutput{Run: &item, Count: 1}, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to list runs: %w", err)
	}
	items := make([]RunItem, 0, len(runs))
	for _, r := range runs {
		items = append(items, toRunItem(r))
	}
	return nil, HistoryOutput{Runs: items, Count: len(items)}, nil
}
