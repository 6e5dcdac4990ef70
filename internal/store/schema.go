package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    protocol TEXT NOT NULL,
    rule TEXT NOT NULL,
    params TEXT NOT NULL,      -- JSON protocol.Params
    seed TEXT NOT NULL,        -- decimal uint64
    iterations INTEGER NOT NULL,
    max_rounds INTEGER NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS trials (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    population INTEGER NOT NULL,
    trial INTEGER NOT NULL,
    seed TEXT NOT NULL,
    rounds INTEGER NOT NULL,
    converged INTEGER NOT NULL,
    opinion INTEGER,           -- NULL when not converged
    duration_ns INTEGER NOT NULL,
    PRIMARY KEY (run_id, population, trial)
);

CREATE TABLE IF NOT EXISTS summaries (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    population INTEGER NOT NULL,
    trials INTEGER NOT NULL,
    mean REAL NOT NULL,
    stddev REAL NOT NULL,
    median REAL NOT NULL,
    min REAL NOT NULL,
    max REAL NOT NULL,
    not_converged INTEGER NOT NULL,
    PRIMARY KEY (run_id, population)
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// InitSchema creates the schema on a fresh database. On an existing one it
// checks integrity first and then applies pending migrations.
func InitSchema(ctx context.Context, db *sql.DB) error {
	currentVersion, err := getSchemaVersion(ctx, db)
	if err != nil {
		// No schema_version table yet.
		if err := createSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}

	if currentVersion > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, SchemaVersion)
	}
	if currentVersion < SchemaVersion {
		if err := migrateSchema(ctx, db, currentVersion); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
		SchemaVersion, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// migrateSchema upgrades a database from version from to SchemaVersion.
// Version 0 means the schema_version table exists but is empty, which only
// happens when an earlier create was interrupted.
func migrateSchema(ctx context.Context, db *sql.DB, from int) error {
	if from == 0 {
		return createSchema(ctx, db)
	}
	return fmt.Errorf("no migration path from schema version %d", from)
}

// ValidateIntegrity runs PRAGMA integrity_check and PRAGMA foreign_key_check.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return fmt.Errorf("failed to scan integrity_check result: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity_check failed: %s", result)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fkRows, err := db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	defer fkRows.Close()

	var fkErrors []string
	for fkRows.Next() {
		var table, rowid, parent, fkid sql.NullString
		if err := fkRows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("failed to scan foreign_key_check result: %w", err)
		}
		fkErrors = append(fkErrors, fmt.Sprintf("table=%s rowid=%s parent=%s fkid=%s", table.String, rowid.String, parent.String, fkid.String))
	}
	if len(fkErrors) > 0 {
		return fmt.Errorf("foreign_key_check failed: %v", fkErrors)
	}
	return fkRows.Err()
}
