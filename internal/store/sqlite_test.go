package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvandessel/pullsim/internal/experiment"
	"github.com/nvandessel/pullsim/internal/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDatabase(t *testing.T) {
	root := t.TempDir()
	s, err := NewSQLiteStore(root)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	want := filepath.Join(root, ".pullsim", "pullsim.db")
	if s.Path() != want {
		t.Errorf("Path() = %s, want %s", s.Path(), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s, err := NewSQLiteStore(root)
	if err != nil {
		t.Fatal(err)
	}
	run, err := s.CreateRun(ctx, Run{Protocol: "Voter", Rule: protocol.RuleVoter})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewSQLiteStore(root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.GetRun(ctx, run.ID); err != nil {
		t.Errorf("run lost across reopen: %v", err)
	}
}

func TestSQLiteStore_RunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	params := protocol.DefaultParams()
	params.Opinions = 10
	created := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	in := Run{
		Protocol:   "Follow the Trend (10 opinions)",
		Rule:       protocol.RuleTrend,
		Params:     params,
		Seed:       math.MaxUint64,
		Iterations: 100,
		MaxRounds:  5000,
		CreatedAt:  created,
	}
	run, err := s.CreateRun(ctx, in)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.ID == "" {
		t.Fatal("CreateRun() did not assign an id")
	}

	sums := []experiment.Summary{
		{Population: 16, Trials: 3, Mean: 40, StdDev: 2, Median: 41, Min: 38, Max: 42},
		{Population: 8, Trials: 3, Mean: 20.5, Median: 20, Min: 19, Max: 22, NotConverged: 1},
	}
	for _, sum := range sums {
		if err := s.RecordSummary(ctx, run.ID, sum); err != nil {
			t.Fatalf("RecordSummary() error = %v", err)
		}
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Protocol != in.Protocol || got.Rule != in.Rule || got.Params != in.Params {
		t.Errorf("GetRun() = %+v, want %+v", got, in)
	}
	if got.Seed != math.MaxUint64 || got.Iterations != 100 || got.MaxRounds != 5000 {
		t.Errorf("numeric fields = %d/%d/%d", got.Seed, got.Iterations, got.MaxRounds)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if len(got.Summaries) != 2 || got.Summaries[0] != sums[1] || got.Summaries[1] != sums[0] {
		t.Errorf("Summaries = %+v, want ordered by population", got.Summaries)
	}
}

func TestSQLiteStore_RecordSummaryReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run, _ := s.CreateRun(ctx, Run{Protocol: "Voter"})

	s.RecordSummary(ctx, run.ID, experiment.Summary{Population: 8, Mean: 1})
	s.RecordSummary(ctx, run.ID, experiment.Summary{Population: 8, Mean: 2})

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Summaries) != 1 || got.Summaries[0].Mean != 2 {
		t.Errorf("Summaries = %+v, want one replaced summary", got.Summaries)
	}
}

func TestSQLiteStore_Trials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run, _ := s.CreateRun(ctx, Run{Protocol: "Voter"})

	trials := []experiment.TrialResult{
		{Population: 8, Trial: 1, Seed: 1 << 63, Rounds: 12, Converged: true, Opinion: 0, Duration: time.Millisecond},
		{Population: 8, Trial: 0, Seed: 5, Rounds: 100, Converged: false, Duration: 2 * time.Millisecond},
		{Population: 16, Trial: 0, Seed: 6, Rounds: 30, Converged: true, Opinion: 3},
	}
	if err := s.RecordTrials(ctx, run.ID, trials); err != nil {
		t.Fatalf("RecordTrials() error = %v", err)
	}

	got, err := s.Trials(ctx, run.ID, 8)
	if err != nil {
		t.Fatalf("Trials() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Trials() returned %d, want 2", len(got))
	}
	if got[0] != trials[1] || got[1] != trials[0] {
		t.Errorf("Trials() = %+v, want ordered by trial index", got)
	}
}

func TestSQLiteStore_UnknownRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"GetRun", func() error { _, err := s.GetRun(ctx, "nope"); return err }},
		{"RecordSummary", func() error { return s.RecordSummary(ctx, "nope", experiment.Summary{Population: 2}) }},
		{"RecordTrials", func() error { return s.RecordTrials(ctx, "nope", []experiment.TrialResult{{Population: 2}}) }},
		{"Trials", func() error { _, err := s.Trials(ctx, "nope", 2); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrRunNotFound) {
				t.Errorf("error = %v, want ErrRunNotFound", err)
			}
		})
	}
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"a", "b", "c"} {
		if _, err := s.CreateRun(ctx, Run{Protocol: name, CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Protocol != "c" || all[2].Protocol != "a" {
		t.Errorf("ListRuns(0) = %+v, want newest first", all)
	}

	two, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(two) != 2 || two[1].Protocol != "b" {
		t.Errorf("ListRuns(2) = %+v", two)
	}
}

func TestSQLiteStore_CreateRunRequiresProtocol(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateRun(context.Background(), Run{}); err == nil {
		t.Error("expected error for run without protocol")
	}
}

func TestSQLiteStore_CloseTwice(t *testing.T) {
	s, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestInitSchema_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("InitSchema() on fresh db: %v", err)
	}
	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("InitSchema() is not idempotent: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version, applied_at) VALUES (?, 'x')`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(ctx, db); err == nil {
		t.Error("expected error for a schema newer than supported")
	}
}

func TestValidateIntegrity(t *testing.T) {
	s := newTestStore(t)
	if err := ValidateIntegrity(context.Background(), s.db); err != nil {
		t.Errorf("ValidateIntegrity() on fresh store: %v", err)
	}
}
