package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"surfsifter/internal/domain/model"
)

// UpsertFileEntries 批量写入文件清单。(evidence_id, partition_index, file_path)
// 唯一：重复路径更新元数据而不是追加新行，文件清单描述的是状态不是观测。
// 返回处理的行数。
func UpsertFileEntries(ctx context.Context, db *sql.DB, evidenceID int64, entries []model.FileEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	var written int64
	err := retryBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO file_list(evidence_id, partition_index, file_path, filename, extension,
			                      size_bytes, mtime_utc, crtime_utc, md5, sha256, fs_type,
			                      discovered_by, source_path, run_id)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(evidence_id, partition_index, file_path) DO UPDATE SET
				filename=excluded.filename,
				extension=excluded.extension,
				size_bytes=excluded.size_bytes,
				mtime_utc=excluded.mtime_utc,
				crtime_utc=excluded.crtime_utc,
				md5=COALESCE(excluded.md5, file_list.md5),
				sha256=COALESCE(excluded.sha256, file_list.sha256),
				fs_type=excluded.fs_type,
				discovered_by=excluded.discovered_by,
				source_path=excluded.source_path,
				run_id=excluded.run_id
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		written = 0
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if e.FilePath == "" {
				continue
			}
			if _, err := stmt.ExecContext(ctx,
				evidenceID, e.PartitionIndex, e.FilePath, nullIfEmpty(e.Filename),
				nullIfEmpty(strings.ToLower(e.Extension)), nullIfZero(e.SizeBytes),
				nullIfEmpty(e.MtimeUTC), nullIfEmpty(e.CrtimeUTC),
				nullIfEmpty(e.MD5), nullIfEmpty(e.SHA256), nullIfEmpty(e.FSType),
				nullIfEmpty(e.DiscoveredBy), nullIfEmpty(e.SourcePath), nullIfEmpty(e.RunID),
			); err != nil {
				return err
			}
			written++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("upsert file entries: %w", err)
	}
	return written, nil
}

// FileFilter 文件清单查询条件，零值字段表示不过滤。
type FileFilter struct {
	PathContains string
	Extension    string
	Partition    *int64
	Limit        int
}

// GetFileEntries 按条件查询文件清单。
func GetFileEntries(ctx context.Context, db *sql.DB, evidenceID int64, filter FileFilter) ([]model.FileEntry, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, partition_index, file_path, COALESCE(filename, ''), COALESCE(extension, ''),
		       COALESCE(size_bytes, 0), COALESCE(mtime_utc, ''), COALESCE(crtime_utc, ''),
		       COALESCE(md5, ''), COALESCE(sha256, ''), COALESCE(fs_type, ''),
		       COALESCE(discovered_by, ''), COALESCE(source_path, ''), COALESCE(run_id, '')
		FROM file_list
		WHERE evidence_id = ?
	`)
	args := []any{evidenceID}

	if filter.PathContains != "" {
		query.WriteString(" AND file_path LIKE ?")
		args = append(args, "%"+filter.PathContains+"%")
	}
	if filter.Extension != "" {
		query.WriteString(" AND extension = ?")
		args = append(args, strings.ToLower(filter.Extension))
	}
	if filter.Partition != nil {
		query.WriteString(" AND partition_index = ?")
		args = append(args, *filter.Partition)
	}
	query.WriteString(" ORDER BY partition_index ASC, file_path ASC")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query file entries: %w", err)
	}
	defer rows.Close()

	out := []model.FileEntry{}
	for rows.Next() {
		var e model.FileEntry
		if err := rows.Scan(&e.ID, &e.PartitionIndex, &e.FilePath, &e.Filename, &e.Extension,
			&e.SizeBytes, &e.MtimeUTC, &e.CrtimeUTC, &e.MD5, &e.SHA256, &e.FSType,
			&e.DiscoveredBy, &e.SourcePath, &e.RunID); err != nil {
			return nil, fmt.Errorf("scan file entry: %w", err)
		}
		e.EvidenceID = evidenceID
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file entries: %w", err)
	}
	return out, nil
}

// InsertFileMatches 写入文件命中参考名单的结果。
func InsertFileMatches(ctx context.Context, db *sql.DB, evidenceID int64, matches []model.FileMatch) (int64, error) {
	if len(matches) == 0 {
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
			INSERT INTO file_list_matches(evidence_id, file_id, list_name, match_type,
			                              matched_value, created_at_utc, run_id)
			VALUES(?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		inserted = 0
		for _, m := range matches {
			if err := ctx.Err(); err != nil {
				return err
			}
			if m.FileID == 0 || m.ListName == "" {
				continue
			}
			ts := m.CreatedAtUTC
			if ts == "" {
				ts = model.NowUTC()
			}
			if _, err := stmt.ExecContext(ctx,
				evidenceID, m.FileID, m.ListName, m.MatchType,
				nullIfEmpty(m.MatchedValue), ts, nullIfEmpty(m.RunID),
			); err != nil {
				return err
			}
			inserted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("insert file matches: %w", err)
	}
	return inserted, nil
}

// FileMatches 返回一个文件的全部命中记录。
func FileMatches(ctx context.Context, db *sql.DB, fileID int64) ([]model.FileMatch, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, evidence_id, file_id, list_name, match_type,
		       COALESCE(matched_value, ''), COALESCE(created_at_utc, ''), COALESCE(run_id, '')
		FROM file_list_matches
		WHERE file_id = ?
		ORDER BY id ASC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("query file matches: %w", err)
	}
	defer rows.Close()

	out := []model.FileMatch{}
	for rows.Next() {
		var m model.FileMatch
		if err := rows.Scan(&m.ID, &m.EvidenceID, &m.FileID, &m.ListName, &m.MatchType,
			&m.MatchedValue, &m.CreatedAtUTC, &m.RunID); err != nil {
			return nil, fmt.Errorf("scan file match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file matches: %w", err)
	}
	return out, nil
}

// DeleteFileEntries 删除一批文件清单行。
// 命中记录随外键级联，标签关联是多态指针、库层管不到，
// 在同一事务里由应用侧级联清理，保证两边要么都删要么都留。
func DeleteFileEntries(ctx context.Context, db *sql.DB, evidenceID int64, fileIDs []int64) error {
	if len(fileIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(fileIDs))
	placeholders = placeholders[:len(placeholders)-1]

	err := retryBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := removeArtifactAssociations(ctx, tx, evidenceID, model.ArtifactFileList, fileIDs); err != nil {
			return err
		}

		args := []any{evidenceID}
		for _, id := range fileIDs {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM file_list
			WHERE evidence_id = ? AND id IN (`+placeholders+`)
		`, args...); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("delete file entries: %w", err)
	}
	return nil
}

// DeleteFileEntriesByPartition 整分区清除文件清单，重新解析分区前用。
func DeleteFileEntriesByPartition(ctx context.Context, db *sql.DB, evidenceID, partitionIndex int64) (int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id FROM file_list WHERE evidence_id = ? AND partition_index = ?
	`, evidenceID, partitionIndex)
	if err != nil {
		return 0, fmt.Errorf("query partition files: %w", err)
	}
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan file id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate file ids: %w", err)
	}
	if err := DeleteFileEntries(ctx, db, evidenceID, ids); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
