package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/pullsim/internal/experiment"
)

// timeLayout has a fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements RunStore on a SQLite database.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

var _ RunStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the results database at
// .pullsim/pullsim.db under projectRoot.
func NewSQLiteStore(projectRoot string) (*SQLiteStore, error) {
	dir := LocalPath(projectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", DirName, err)
	}
	return OpenSQLiteStore(filepath.Join(dir, DBFile))
}

// OpenSQLiteStore opens the results database at dbPath.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// CreateRun implements RunStore.
func (s *SQLiteStore) CreateRun(ctx context.Context, r Run) (Run, error) {
	if r.Protocol == "" {
		return Run{}, fmt.Errorf("run protocol is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.Summaries = nil

	params, err := json.Marshal(r.Params)
	if err != nil {
		return Run{}, fmt.Errorf("failed to encode params: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, protocol, rule, params, seed, iterations, max_rounds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Protocol, r.Rule, string(params), strconv.FormatUint(r.Seed, 10),
		r.Iterations, r.MaxRounds, r.CreatedAt.Format(timeLayout))
	if err != nil {
		return Run{}, fmt.Errorf("failed to insert run: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) requireRun(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return err
}

// RecordTrials implements RunStore.
func (s *SQLiteStore) RecordTrials(ctx context.Context, runID string, trials []experiment.TrialResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.requireRun(ctx, tx, runID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO trials (run_id, population, trial, seed, rounds, converged, opinion, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trial insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trials {
		var opinion sql.NullInt64
		if t.Converged {
			opinion = sql.NullInt64{Int64: int64(t.Opinion), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			runID, t.Population, t.Trial, strconv.FormatUint(t.Seed, 10),
			t.Rounds, t.Converged, opinion, int64(t.Duration)); err != nil {
			return fmt.Errorf("failed to insert trial %d: %w", t.Trial, err)
		}
	}
	return tx.Commit()
}

// RecordSummary implements RunStore.
func (s *SQLiteStore) RecordSummary(ctx context.Context, runID string, sum experiment.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRun(ctx, s.db, runID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO summaries (run_id, population, trials, mean, stddev, median, min, max, not_converged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, sum.Population, sum.Trials, sum.Mean, sum.StdDev, sum.Median, sum.Min, sum.Max, sum.NotConverged)
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                Run
		params, seed, ts string
	)
	if err := row.Scan(&r.ID, &r.Protocol, &r.Rule, &params, &seed, &r.Iterations, &r.MaxRounds, &ts); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return Run{}, fmt.Errorf("run %s: decoding params: %w", r.ID, err)
	}
	v, err := strconv.ParseUint(seed, 10, 64)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: decoding seed: %w", r.ID, err)
	}
	r.Seed = v
	if r.CreatedAt, err = time.Parse(timeLayout, ts); err != nil {
		return Run{}, fmt.Errorf("run %s: decoding created_at: %w", r.ID, err)
	}
	return r, nil
}

const runColumns = `id, protocol, rule, params, seed, iterations, max_rounds, created_at`

// ListRuns implements RunStore.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun implements RunStore.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT population, trials, mean, stddev, median, min, max, not_converged
		FROM summaries WHERE run_id = ? ORDER BY population`, id)
	if err != nil {
		return Run{}, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sum experiment.Summary
		if err := rows.Scan(&sum.Population, &sum.Trials, &sum.Mean, &sum.StdDev,
			&sum.Median, &sum.Min, &sum.Max, &sum.NotConverged); err != nil {
			return Run{}, fmt.Errorf("failed to scan summary: %w", err)
		}
		r.Summaries = append(r.Summaries, sum)
	}
	return r, rows.Err()
}

// Trials implements RunStore.
func (s *SQLiteStore) Trials(ctx context.Context, runID string, population int) ([]experiment.TrialResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRun(ctx, s.db, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trial, seed, rounds, converged, opinion, duration_ns
		FROM trials WHERE run_id = ? AND population = ? ORDER BY trial`, runID, population)
	if err != nil {
		return nil, fmt.Errorf("failed to query trials: %w", err)
	}
	defer rows.Close()

	var out []experiment.TrialResult
	for rows.Next() {
		t := experiment.TrialResult{Population: population}
		var (
			seed     string
			opinion  sql.NullInt64
			duration int64
		)
		if err := rows.Scan(&t.Trial, &seed, &t.Rounds, &t.Converged, &opinion, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan trial: %w", err)
		}
		if t.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
			return nil, fmt.Errorf("trial %d: decoding seed: %w", t.Trial, err)
		}
		t.Opinion = int(opinion.Int64)
		t.Duration = time.Duration(duration)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
