package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"surfsifter/internal/domain/model"
)

// InsertHistory 批量写入浏览历史，返回插入行数。追加式，不去重。
func InsertHistory(ctx context.Context, db *sql.DB, evidenceID int64, records []model.HistoryRecord) (int64, error) {
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
			INSERT INTO browser_history(evidence_id, url, title, ts_utc, browser, profile,
			                            visit_count, typed_count, transition_type, from_visit,
			                            hidden, discovered_by, source_path, run_id)
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
			if _, err := stmt.ExecContext(ctx,
				evidenceID, r.URL, nullIfEmpty(r.Title), nullIfEmpty(r.TsUTC),
				nullIfEmpty(r.Browser), nullIfEmpty(r.Profile),
				nullIfZero(r.VisitCount), nullIfZero(r.TypedCount),
				nullIfZero(r.TransitionType), nullIfZero(r.FromVisit),
				boolToInt(r.Hidden), nullIfEmpty(r.DiscoveredBy),
				nullIfEmpty(r.SourcePath), nullIfEmpty(r.RunID),
			); err != nil {
				return err
			}
			inserted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("insert history: %w", err)
	}
	return inserted, nil
}

// HistoryFilter 历史查询条件，零值字段表示不过滤。
type HistoryFilter struct {
	URLContains string
	Browser     string
	SinceUTC    string
	UntilUTC    string
	Limit       int
}

// GetHistory 按时间倒序查询浏览历史。
func GetHistory(ctx context.Context, db *sql.DB, evidenceID int64, filter HistoryFilter) ([]model.HistoryRecord, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, url, COALESCE(title, ''), COALESCE(ts_utc, ''),
		       COALESCE(browser, ''), COALESCE(profile, ''),
		       COALESCE(visit_count, 0), COALESCE(typed_count, 0),
		       COALESCE(transition_type, 0), COALESCE(from_visit, 0), hidden,
		       COALESCE(discovered_by, ''), COALESCE(source_path, ''), COALESCE(run_id, '')
		FROM browser_history
		WHERE evidence_id = ?
	`)
	args := []any{evidenceID}

	if filter.URLContains != "" {
		query.WriteString(" AND url LIKE ?")
		args = append(args, "%"+filter.URLContains+"%")
	}
	if filter.Browser != "" {
		query.WriteString(" AND browser = ?")
		args = append(args, filter.Browser)
	}
	if filter.SinceUTC != "" {
		query.WriteString(" AND ts_utc >= ?")
		args = append(args, filter.SinceUTC)
	}
	if filter.UntilUTC != "" {
		query.WriteString(" AND ts_utc <= ?")
		args = append(args, filter.UntilUTC)
	}
	query.WriteString(" ORDER BY ts_utc DESC, id DESC")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []model.HistoryRecord{}
	for rows.Next() {
		var r model.HistoryRecord
		var hidden int64
		if err := rows.Scan(&r.ID, &r.URL, &r.Title, &r.TsUTC, &r.Browser, &r.Profile,
			&r.VisitCount, &r.TypedCount, &r.TransitionType, &r.FromVisit, &hidden,
			&r.DiscoveredBy, &r.SourcePath, &r.RunID); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.EvidenceID = evidenceID
		r.Hidden = hidden != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// InsertCookies 批量写入 Cookie 观测记录。
func InsertCookies(ctx context.Context, db *sql.DB, evidenceID int64, records []model.CookieRecord) (int64, error) {
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
			INSERT INTO cookies(evidence_id, browser, profile, name, value, domain, path,
			                    expires_utc, creation_utc, last_access_utc,
			                    is_secure, is_httponly, discovered_by, source_path, run_id)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			if r.Name == "" || r.Domain == "" {
				continue
			}
			browser := r.Browser
			if browser == "" {
				browser = "unknown"
			}
			if _, err := stmt.ExecContext(ctx,
				evidenceID, browser, nullIfEmpty(r.Profile), r.Name, nullIfEmpty(r.Value),
				r.Domain, nullIfEmpty(r.Path), nullIfEmpty(r.ExpiresUTC),
				nullIfEmpty(r.CreationUTC), nullIfEmpty(r.LastAccessUTC),
				boolToInt(r.Secure), boolToInt(r.HTTPOnly),
				nullIfEmpty(r.DiscoveredBy), nullIfEmpty(r.SourcePath), nullIfEmpty(r.RunID),
			); err != nil {
				return err
			}
			inserted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("insert cookies: %w", err)
	}
	return inserted, nil
}

// GetCookies 按域名前缀匹配查询 Cookie。domain 为空时返回全部。
func GetCookies(ctx context.Context, db *sql.DB, evidenceID int64, domain string, limit int) ([]model.CookieRecord, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, browser, COALESCE(profile, ''), name, COALESCE(value, ''),
		       domain, COALESCE(path, ''), COALESCE(expires_utc, ''),
		       COALESCE(creation_utc, ''), COALESCE(last_access_utc, ''),
		       is_secure, is_httponly,
		       COALESCE(discovered_by, ''), COALESCE(source_path, ''), COALESCE(run_id, '')
		FROM cookies
		WHERE evidence_id = ?
	`)
	args := []any{evidenceID}
	if domain != "" {
		query.WriteString(" AND domain LIKE ?")
		args = append(args, "%"+domain)
	}
	query.WriteString(" ORDER BY domain ASC, name ASC")
	if limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query cookies: %w", err)
	}
	defer rows.Close()

	out := []model.CookieRecord{}
	for rows.Next() {
		var r model.CookieRecord
		var secure, httponly int64
		if err := rows.Scan(&r.ID, &r.Browser, &r.Profile, &r.Name, &r.Value,
			&r.Domain, &r.Path, &r.ExpiresUTC, &r.CreationUTC, &r.LastAccessUTC,
			&secure, &httponly, &r.DiscoveredBy, &r.SourcePath, &r.RunID); err != nil {
			return nil, fmt.Errorf("scan cookie: %w", err)
		}
		r.EvidenceID = evidenceID
		r.Secure = secure != 0
		r.HTTPOnly = httponly != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cookies: %w", err)
	}
	return out, nil
}

// InsertDownloads 批量写入浏览器下载记录。
func InsertDownloads(ctx context.Context, db *sql.DB, evidenceID int64, records []model.DownloadRecord) (int64, error) {
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
			INSERT INTO browser_downloads(evidence_id, browser, profile, url, target_path,
			                              filename, start_time_utc, end_time_utc,
			                              total_bytes, state, discovered_by, source_path, run_id)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			browser := r.Browser
			if browser == "" {
				browser = "unknown"
			}
			if _, err := stmt.ExecContext(ctx,
				evidenceID, browser, nullIfEmpty(r.Profile), r.URL, nullIfEmpty(r.TargetPath),
				nullIfEmpty(r.Filename), nullIfEmpty(r.StartTimeUTC), nullIfEmpty(r.EndTimeUTC),
				nullIfZero(r.TotalBytes), nullIfEmpty(r.State),
				nullIfEmpty(r.DiscoveredBy), nullIfEmpty(r.SourcePath), nullIfEmpty(r.RunID),
			); err != nil {
				return err
			}
			inserted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("insert downloads: %w", err)
	}
	return inserted, nil
}

// GetDownloads 按开始时间倒序查询下载记录。
func GetDownloads(ctx context.Context, db *sql.DB, evidenceID int64, limit int) ([]model.DownloadRecord, error) {
	query := `
		SELECT id, browser, COALESCE(profile, ''), url, COALESCE(target_path, ''),
		       COALESCE(filename, ''), COALESCE(start_time_utc, ''), COALESCE(end_time_utc, ''),
		       COALESCE(total_bytes, 0), COALESCE(state, ''),
		       COALESCE(discovered_by, ''), COALESCE(source_path, ''), COALESCE(run_id, '')
		FROM browser_downloads
		WHERE evidence_id = ?
		ORDER BY start_time_utc DESC, id DESC
	`
	args := []any{evidenceID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	defer rows.Close()

	out := []model.DownloadRecord{}
	for rows.Next() {
		var r model.DownloadRecord
		if err := rows.Scan(&r.ID, &r.Browser, &r.Profile, &r.URL, &r.TargetPath,
			&r.Filename, &r.StartTimeUTC, &r.EndTimeUTC, &r.TotalBytes, &r.State,
			&r.DiscoveredBy, &r.SourcePath, &r.RunID); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		r.EvidenceID = evidenceID
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate downloads: %w", err)
	}
	return out, nil
}

// InsertBookmarks 批量写入浏览器书签。
func InsertBookmarks(ctx context.Context, db *sql.DB, evidenceID int64, records []model.BookmarkRecord) (int64, error) {
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
			INSERT INTO bookmarks(evidence_id, browser, profile, url, title, folder_path,
			                      date_added_utc, discovered_by, source_path, run_id)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			browser := r.Browser
			if browser == "" {
				browser = "unknown"
			}
			if _, err := stmt.ExecContext(ctx,
				evidenceID, browser, nullIfEmpty(r.Profile), r.URL, nullIfEmpty(r.Title),
				nullIfEmpty(r.FolderPath), nullIfEmpty(r.DateAddedUTC),
				nullIfEmpty(r.DiscoveredBy), nullIfEmpty(r.SourcePath), nullIfEmpty(r.RunID),
			); err != nil {
				return err
			}
			inserted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("insert bookmarks: %w", err)
	}
	return inserted, nil
}

// GetBookmarks 按目录路径与标题排序查询书签。
func GetBookmarks(ctx context.Context, db *sql.DB, evidenceID int64, limit int) ([]model.BookmarkRecord, error) {
	query := `
		SELECT id, browser, COALESCE(profile, ''), url, COALESCE(title, ''),
		       COALESCE(folder_path, ''), COALESCE(date_added_utc, ''),
		       COALESCE(discovered_by, ''), COALESCE(source_path, ''), COALESCE(run_id, '')
		FROM bookmarks
		WHERE evidence_id = ?
		ORDER BY folder_path ASC, title ASC
	`
	args := []any{evidenceID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	defer rows.Close()

	out := []model.BookmarkRecord{}
	for rows.Next() {
		var r model.BookmarkRecord
		if err := rows.Scan(&r.ID, &r.Browser, &r.Profile, &r.URL, &r.Title,
			&r.FolderPath, &r.DateAddedUTC, &r.DiscoveredBy, &r.SourcePath, &r.RunID); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		r.EvidenceID = evidenceID
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmarks: %w", err)
	}
	return out, nil
}

// DeleteHistoryByRun 删除某轮提取写入的访问记录，用于失败轮次的回收。
func DeleteHistoryByRun(ctx context.Context, db *sql.DB, evidenceID int64, runID string) (int64, error) {
	return deleteByRun(ctx, db, "browser_history", evidenceID, runID)
}

// DeleteCookiesByRun 删除某轮提取写入的 Cookie 观测。
func DeleteCookiesByRun(ctx context.Context, db *sql.DB, evidenceID int64, runID string) (int64, error) {
	return deleteByRun(ctx, db, "cookies", evidenceID, runID)
}

// DeleteDownloadsByRun 删除某轮提取写入的下载记录。
func DeleteDownloadsByRun(ctx context.Context, db *sql.DB, evidenceID int64, runID string) (int64, error) {
	return deleteByRun(ctx, db, "browser_downloads", evidenceID, runID)
}

// DeleteBookmarksByRun 删除某轮提取写入的书签记录。
func DeleteBookmarksByRun(ctx context.Context, db *sql.DB, evidenceID int64, runID string) (int64, error) {
	return deleteByRun(ctx, db, "bookmarks", evidenceID, runID)
}
