package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"surfsifter/internal/domain/model"
)

// InsertOSIndicators 批量写入操作系统痕迹。追加式，不去重。
func InsertOSIndicators(ctx context.Context, db *sql.DB, evidenceID int64, records []model.OSIndicator) (int64, error) {
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
			INSERT INTO os_indicators(evidence_id, type, name, value, confidence,
			                          detected_at_utc, discovered_by, source_path, run_id)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			if r.Type == "" {
				continue
			}
			if _, err := stmt.ExecContext(ctx,
				evidenceID, r.Type, nullIfEmpty(r.Name), nullIfEmpty(r.Value),
				nullIfEmpty(r.Confidence), nullIfEmpty(r.DetectedAtUTC),
				nullIfEmpty(r.DiscoveredBy), nullIfEmpty(r.SourcePath), nullIfEmpty(r.RunID),
			); err != nil {
				return err
			}
			inserted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("insert os indicators: %w", err)
	}
	return inserted, nil
}

// GetOSIndicators 查询操作系统痕迹，indicatorType 为空时返回全部。
func GetOSIndicators(ctx context.Context, db *sql.DB, evidenceID int64, indicatorType string) ([]model.OSIndicator, error) {
	query := `
		SELECT id, type, COALESCE(name, ''), COALESCE(value, ''), COALESCE(confidence, ''),
		       COALESCE(detected_at_utc, ''),
		       COALESCE(discovered_by, ''), COALESCE(source_path, ''), COALESCE(run_id, '')
		FROM os_indicators
		WHERE evidence_id = ?
	`
	args := []any{evidenceID}
	if indicatorType != "" {
		query += " AND type = ?"
		args = append(args, indicatorType)
	}
	query += " ORDER BY type ASC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query os indicators: %w", err)
	}
	defer rows.Close()

	out := []model.OSIndicator{}
	for rows.Next() {
		var r model.OSIndicator
		if err := rows.Scan(&r.ID, &r.Type, &r.Name, &r.Value, &r.Confidence,
			&r.DetectedAtUTC, &r.DiscoveredBy, &r.SourcePath, &r.RunID); err != nil {
			return nil, fmt.Errorf("scan os indicator: %w", err)
		}
		r.EvidenceID = evidenceID
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate os indicators: %w", err)
	}
	return out, nil
}

// DeleteOSIndicatorsByRun 删除某轮提取写入的操作系统痕迹。
func DeleteOSIndicatorsByRun(ctx context.Context, db *sql.DB, evidenceID int64, runID string) (int64, error) {
	return deleteByRun(ctx, db, "os_indicators", evidenceID, runID)
}
