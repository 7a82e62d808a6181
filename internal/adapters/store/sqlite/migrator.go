package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations_case/*.sql migrations_evidence/*.sql
var migrationFS embed.FS

// 两套互相独立的迁移集：案件库一套，证据库一套。
// 引擎本身不关心表结构，只认目录。
const (
	caseMigrationsDir     = "migrations_case"
	evidenceMigrationsDir = "migrations_evidence"
)

// Migrator 负责把一个连接的 schema 推进到指定迁移目录的最新版本。
// 已应用的版本记录在 schema_version 表里，重复执行是无害的空操作。
type Migrator struct {
	db   *sql.DB
	fsys fs.FS
	dir  string
}

// NewMigrator 构造一个针对任意迁移目录的引擎，主要给测试用。
func NewMigrator(db *sql.DB, fsys fs.FS, dir string) *Migrator {
	return &Migrator{db: db, fsys: fsys, dir: dir}
}

// NewCaseMigrator 返回案件库 schema 的迁移引擎。
func NewCaseMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db, fsys: migrationFS, dir: caseMigrationsDir}
}

// NewEvidenceMigrator 返回证据库 schema 的迁移引擎。
func NewEvidenceMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db, fsys: migrationFS, dir: evidenceMigrationsDir}
}

// Up 依次执行目录下尚未应用的 SQL 文件。
// 通过文件名字典序控制迁移顺序（例如 0001_xxx.sql -> 0002_xxx.sql）。
// 版本号按迁移集独立计数：两套集合可以落在同一个库里互不干扰
// （拆分关闭时案件库同时承载两套 schema）。
// 单个文件和它的版本登记在同一个事务里提交：要么整份生效，要么回滚；
// 脚本出错时中止整个 Up，调用方应把该库视为不可用。
func (m *Migrator) Up(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			migration_set TEXT NOT NULL,
			version INTEGER NOT NULL,
			name TEXT NOT NULL,
			applied_at_utc TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
			PRIMARY KEY(migration_set, version)
		)
	`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}

	entries, err := fs.ReadDir(m.fsys, m.dir)
	if err != nil {
		return fmt.Errorf("read migrations dir %s: %w", m.dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		version, err := migrationVersion(entry.Name())
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}

		raw, err := fs.ReadFile(m.fsys, path.Join(m.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if err := m.applyOne(ctx, version, entry.Name(), string(raw)); err != nil {
			return err
		}
	}

	return nil
}

// Applied 返回本迁移集已应用的版本集合。
func (m *Migrator) Applied(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_version WHERE migration_set = ?`, m.dir)
	if err != nil {
		return nil, fmt.Errorf("query schema_version: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_version: %w", err)
	}
	return applied, nil
}

func (m *Migrator) applyOne(ctx context.Context, version int, name, script string) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx migration %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("exec migration %s: %w", name, err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO schema_version(migration_set, version, name, applied_at_utc)
		VALUES(?, ?, ?, strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	`, m.dir, version, name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

// migrationVersion 取文件名的数字前缀作为版本号（0001_baseline.sql -> 1）。
func migrationVersion(name string) (int, error) {
	base := strings.TrimSuffix(name, ".sql")
	idx := strings.IndexByte(base, '_')
	if idx > 0 {
		base = base[:idx]
	}
	v, err := strconv.Atoi(base)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("migration %s: filename must start with a numeric version", name)
	}
	return v, nil
}
