package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func newTestCaseDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openDB(filepath.Join(t.TempDir(), "case_surfsifter.sqlite"))
	if err != nil {
		t.Fatalf("open case db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := NewCaseMigrator(db).Up(context.Background()); err != nil {
		t.Fatalf("migrate case db: %v", err)
	}
	return db
}

func newTestEvidenceDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openDB(filepath.Join(t.TempDir(), "evidence_test.sqlite"))
	if err != nil {
		t.Fatalf("open evidence db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := NewEvidenceMigrator(db).Up(context.Background()); err != nil {
		t.Fatalf("migrate evidence db: %v", err)
	}
	return db
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query %q: %v", query, err)
	}
	return n
}
