package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"surfsifter/internal/domain/model"
)

// InsertURLs 批量写入 URL 观测记录，返回实际插入行数。
// urls 表是追加式的：同一 URL 来自不同来源或不同轮次的重复发现
// 各自成行，这里不做任何去重。
func InsertURLs(ctx context.Context, db *sql.DB, evidenceID int64, records []model.URLRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var inserted int64
	err := retryBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO urls(evidence_id, url, domain, scheme, discovered_by,
			                 first_seen_utc, last_seen_utc, source_path, context,
			                 response_code, content_type, notes, run_id, created_at_utc)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		inserted = 0
		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if r.URL == "" {
				continue
			}
			by := r.DiscoveredBy
			if by == "" {
				by = "unknown"
			}
			if _, err := stmt.ExecContext(ctx,
				evidenceID, r.URL, nullIfEmpty(r.Domain), nullIfEmpty(r.Scheme), by,
				nullIfEmpty(r.FirstSeenUTC), nullIfEmpty(r.LastSeenUTC),
				nullIfEmpty(r.SourcePath), nullIfEmpty(r.Context),
				nullIfZero(r.ResponseCode), nullIfEmpty(r.ContentType),
				nullIfEmpty(r.Notes), nullIfEmpty(r.RunID), model.NowUTC(),
			); err != nil {
				return err
			}
			inserted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("insert urls: %w", err)
	}
	return inserted, nil
}

// URLFilter 查询条件，零值字段表示不过滤。
type URLFilter struct {
	Contains     string
	Domain       string
	DiscoveredBy string
	RunID        string
	Limit        int
}

// GetURLs 按条件查询 URL 记录，按写入时间倒序。
func GetURLs(ctx context.Context, db *sql.DB, evidenceID int64, filter URLFilter) ([]model.URLRecord, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, url, COALESCE(domain, ''), COALESCE(scheme, ''), discovered_by,
		       COALESCE(first_seen_utc, ''), COALESCE(last_seen_utc, ''),
		       COALESCE(source_path, ''), COALESCE(context, ''),
		       COALESCE(response_code, 0), COALESCE(content_type, ''),
		       COALESCE(notes, ''), COALESCE(run_id, '')
		FROM urls
		WHERE evidence_id = ?
	`)
	args := []any{evidenceID}

	if filter.Contains != "" {
		query.WriteString(" AND url LIKE ?")
		args = append(args, "%"+filter.Contains+"%")
	}
	if filter.Domain != "" {
		query.WriteString(" AND domain = ?")
		args = append(args, filter.Domain)
	}
	if filter.DiscoveredBy != "" {
		query.WriteString(" AND discovered_by = ?")
		args = append(args, filter.DiscoveredBy)
	}
	if filter.RunID != "" {
		query.WriteString(" AND run_id = ?")
		args = append(args, filter.RunID)
	}
	query.WriteString(" ORDER BY id DESC")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	out := []model.URLRecord{}
	for rows.Next() {
		var r model.URLRecord
		if err := rows.Scan(&r.ID, &r.URL, &r.Domain, &r.Scheme, &r.DiscoveredBy,
			&r.FirstSeenUTC, &r.LastSeenUTC, &r.SourcePath, &r.Context,
			&r.ResponseCode, &r.ContentType, &r.Notes, &r.RunID); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		r.EvidenceID = evidenceID
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate urls: %w", err)
	}
	return out, nil
}

// CountURLs 统计证据下的 URL 记录总数。
func CountURLs(ctx context.Context, db *sql.DB, evidenceID int64) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM urls WHERE evidence_id = ?`, evidenceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count urls: %w", err)
	}
	return n, nil
}

// DeleteURLsByRun 删除某轮提取写入的 URL 记录，用于失败轮次的回收。
func DeleteURLsByRun(ctx context.Context, db *sql.DB, evidenceID int64, runID string) (int64, error) {
	return deleteByRun(ctx, db, "urls", evidenceID, runID)
}

// deleteByRun 是各观测表按 run 回收的共用实现。
// 表名只来自包内常量调用，不接受外部输入。
func deleteByRun(ctx context.Context, db *sql.DB, table string, evidenceID int64, runID string) (int64, error) {
	var deleted int64
	err := retryBusy(ctx, func() error {
		res, err := db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE evidence_id = ? AND run_id = ?`, evidenceID, runID)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s by run: %w", table, err)
	}
	return deleted, nil
}
