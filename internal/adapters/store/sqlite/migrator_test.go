package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestMigratorIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := openDB(filepath.Join(t.TempDir(), "evidence_test.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mig := NewEvidenceMigrator(db)
	if err := mig.Up(ctx); err != nil {
		t.Fatalf("first Up: %v", err)
	}
	applied, err := mig.Applied(ctx)
	if err != nil {
		t.Fatalf("Applied: %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("no migrations recorded after Up")
	}

	// 重复执行必须是空操作。
	if err := mig.Up(ctx); err != nil {
		t.Fatalf("second Up: %v", err)
	}
	applied2, err := mig.Applied(ctx)
	if err != nil {
		t.Fatalf("Applied after rerun: %v", err)
	}
	if len(applied2) != len(applied) {
		t.Fatalf("rerun changed applied set: %d -> %d", len(applied), len(applied2))
	}

	if n := countRows(t, db, `SELECT COUNT(*) FROM schema_version`); int(n) != len(applied) {
		t.Fatalf("schema_version rows = %d, want %d", n, len(applied))
	}
}

func TestMigratorSetsIndependent(t *testing.T) {
	ctx := context.Background()
	db, err := openDB(filepath.Join(t.TempDir(), "case_surfsifter.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := NewCaseMigrator(db).Up(ctx); err != nil {
		t.Fatalf("case Up: %v", err)
	}
	// 案件集不应该带进任何证据表。
	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='urls'`).Scan(&name)
	if err == nil {
		t.Fatal("case migration set created evidence table urls")
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM cases`); n != 0 {
		t.Fatalf("cases table not empty: %d", n)
	}
}

func TestMigratorRollbackOnError(t *testing.T) {
	ctx := context.Background()
	db, err := openDB(filepath.Join(t.TempDir(), "broken.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"mig/0001_ok.sql": &fstest.MapFile{
			Data: []byte(`CREATE TABLE good(id INTEGER PRIMARY KEY);`),
		},
		"mig/0002_broken.sql": &fstest.MapFile{
			Data: []byte(`CREATE TABLE half(id INTEGER PRIMARY KEY); THIS IS NOT SQL;`),
		},
	}
	mig := NewMigrator(db, fsys, "mig")
	if err := mig.Up(ctx); err == nil {
		t.Fatal("Up succeeded with broken script")
	}

	// 出错文件整体回滚：half 表不存在，版本也未登记。
	var name string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='half'`).Scan(&name); err == nil {
		t.Fatal("broken migration left partial table behind")
	}
	applied, err := mig.Applied(ctx)
	if err != nil {
		t.Fatalf("Applied: %v", err)
	}
	if !applied[1] || applied[2] {
		t.Fatalf("applied = %v, want only version 1", applied)
	}

	// 先前成功的文件保持生效。
	if _, err := db.Exec(`INSERT INTO good(id) VALUES(1)`); err != nil {
		t.Fatalf("good table unusable: %v", err)
	}
}

func TestMigrationVersionParsing(t *testing.T) {
	cases := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"0001_baseline.sql", 1, false},
		{"0012_add_index.sql", 12, false},
		{"3_short.sql", 3, false},
		{"baseline.sql", 0, true},
		{"0000_zero.sql", 0, true},
	}
	for _, tc := range cases {
		got, err := migrationVersion(tc.name)
		if tc.wantErr {
			if err == nil {
				t.Errorf("migrationVersion(%q) = %d, want error", tc.name, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("migrationVersion(%q): %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("migrationVersion(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
}
