package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS intake (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		service_type TEXT NOT NULL,
		state TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		answers TEXT NOT NULL DEFAULT '{}',
		pending_follow_ups TEXT NOT NULL DEFAULT '[]',
		follow_up_rounds INTEGER NOT NULL DEFAULT 0,
		critical_flagged INTEGER NOT NULL DEFAULT 0,
		review_reason TEXT NOT NULL DEFAULT '',
		rule_set_version TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_intake_state ON intake(state)`,
	`CREATE INDEX IF NOT EXISTS idx_intake_patient ON intake(patient_id)`,
	`CREATE TABLE IF NOT EXISTS intake_evaluation (
		id TEXT PRIMARY KEY,
		intake_id TEXT NOT NULL REFERENCES intake(id) ON DELETE CASCADE,
		pass INTEGER NOT NULL,
		kind TEXT NOT NULL,
		answers TEXT NOT NULL,
		follow_up_answers TEXT,
		result TEXT NOT NULL,
		outcome TEXT NOT NULL,
		critical_fired INTEGER NOT NULL DEFAULT 0,
		resulting_state TEXT NOT NULL,
		rule_set_version TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		evaluated_at TEXT NOT NULL,
		UNIQUE (intake_id, pass)
	)`,
}

// OpenSQLite opens the database at path (":memory:" for an in-memory
// database), enables WAL and foreign keys, and applies the schema.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Each connection to ":memory:" is a separate database, and SQLite
	// serialises writers anyway.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	for i, stmt := range sqliteSchema {
		if _, err := sqlDB.Exec(stmt); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return sqlDB, nil
}

// WithinTx runs fn in a transaction, committing when it returns nil.
func WithinTx(ctx context.Context, sqlDB *sql.DB, fn func(tx DBTX) error) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
