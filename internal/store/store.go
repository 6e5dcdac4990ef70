// Package store persists experiment runs: the configuration each run used,
// the outcome of every trial and the per-population summaries.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nvandessel/pullsim/internal/experiment"
	"github.com/nvandessel/pullsim/internal/protocol"
)

// ErrRunNotFound is returned when a run id is not in the store.
var ErrRunNotFound = errors.New("run not found")

// Run describes one protocol sweep.
type Run struct {
	ID         string          `json:"id"`
	Protocol   string          `json:"protocol"`
	Rule       string          `json:"rule"`
	Params     protocol.Params `json:"params"`
	Seed       uint64          `json:"seed"`
	Iterations int             `json:"iterations"`
	MaxRounds  int             `json:"max_rounds"`
	CreatedAt  time.Time       `json:"created_at"`

	// Summaries is filled by GetRun, ordered by population.
	Summaries []experiment.Summary `json:"summaries,omitempty"`
}

// RunStore is implemented by SQLiteStore.
type RunStore interface {
	// CreateRun stores r, assigning an ID and creation time when unset,
	// and returns the stored record.
	CreateRun(ctx context.Context, r Run) (Run, error)

	// RecordTrials stores trial outcomes for a run in one transaction.
	RecordTrials(ctx context.Context, runID string, trials []experiment.TrialResult) error

	// RecordSummary stores or replaces the summary of one population size.
	RecordSummary(ctx context.Context, runID string, s experiment.Summary) error

	// ListRuns returns the most recent runs first, without summaries.
	// limit <= 0 returns all runs.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// GetRun returns a run with its summaries.
	GetRun(ctx context.Context, id string) (Run, error)

	// Trials returns the stored trials of a run at one population size.
	Trials(ctx context.Context, runID string, population int) ([]experiment.TrialResult, error)

	Close() error
}
