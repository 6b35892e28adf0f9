package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "triage.db")
	sqlDB, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	defer sqlDB.Close()

	var fk int
	if err := sqlDB.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("expected foreign keys on, got %d", fk)
	}

	var mode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("expected wal journal mode, got %s", mode)
	}

	for _, table := range []string{"intake", "intake_evaluation"} {
		var n int
		if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	// Reopening applies the schema idempotently.
	sqlDB.Close()
	again, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}

func TestWithinTx(t *testing.T) {
	sqlDB, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	defer sqlDB.Close()
	ctx := context.Background()

	if _, err := sqlDB.Exec(`CREATE TABLE t (v INTEGER)`); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err = WithinTx(ctx, sqlDB, func(tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO t (v) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = WithinTx(ctx, sqlDB, func(tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO t (v) VALUES (2)`)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var n, v int
	if err := sqlDB.QueryRow(`SELECT COUNT(*), MAX(v) FROM t`).Scan(&n, &v); err != nil {
		t.Fatal(err)
	}
	if n != 1 || v != 2 {
		t.Errorf("expected only the committed row, got count=%d max=%d", n, v)
	}
}
