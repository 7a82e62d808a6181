package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"surfsifter/internal/domain/model"
)

// InsertTimelineEvents 批量写入时间线事件。
// 时间线是派生物化表，整体重建而不是增量修补。
func InsertTimelineEvents(ctx context.Context, db *sql.DB, evidenceID int64, events []model.TimelineEvent) (int64, error) {
	if len(events) == 0 {
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
			INSERT INTO timeline(evidence_id, ts_utc, kind, ref_table, ref_id,
			                     confidence, note, provenance, run_id)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		inserted = 0
		for _, e := range events {
			if err := ctx.Err(); err != nil {
				return err
			}
			if e.TsUTC == "" || e.Kind == "" {
				continue
			}
			if _, err := stmt.ExecContext(ctx,
				evidenceID, e.TsUTC, e.Kind, nullIfEmpty(e.RefTable), nullIfZero(e.RefID),
				nullIfEmpty(e.Confidence), nullIfEmpty(e.Note),
				nullIfEmpty(e.Provenance), nullIfEmpty(e.RunID),
			); err != nil {
				return err
			}
			inserted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("insert timeline events: %w", err)
	}
	return inserted, nil
}

// ClearTimeline 清空证据的时间线，重建前调用。
func ClearTimeline(ctx context.Context, db *sql.DB, evidenceID int64) error {
	err := retryBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, `DELETE FROM timeline WHERE evidence_id = ?`, evidenceID)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear timeline: %w", err)
	}
	return nil
}

// TimelineFilter 时间线查询条件，零值字段表示不过滤。
type TimelineFilter struct {
	Kind       string
	Confidence string
	SinceUTC   string
	UntilUTC   string
	Limit      int
}

// GetTimeline 按时间升序查询时间线事件。
func GetTimeline(ctx context.Context, db *sql.DB, evidenceID int64, filter TimelineFilter) ([]model.TimelineEvent, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, ts_utc, kind, COALESCE(ref_table, ''), COALESCE(ref_id, 0),
		       COALESCE(confidence, ''), COALESCE(note, ''), COALESCE(provenance, ''),
		       COALESCE(run_id, '')
		FROM timeline
		WHERE evidence_id = ?
	`)
	args := []any{evidenceID}

	if filter.Kind != "" {
		query.WriteString(" AND kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Confidence != "" {
		query.WriteString(" AND confidence = ?")
		args = append(args, filter.Confidence)
	}
	if filter.SinceUTC != "" {
		query.WriteString(" AND ts_utc >= ?")
		args = append(args, filter.SinceUTC)
	}
	if filter.UntilUTC != "" {
		query.WriteString(" AND ts_utc <= ?")
		args = append(args, filter.UntilUTC)
	}
	query.WriteString(" ORDER BY ts_utc ASC, id ASC")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	out := []model.TimelineEvent{}
	for rows.Next() {
		var e model.TimelineEvent
		if err := rows.Scan(&e.ID, &e.TsUTC, &e.Kind, &e.RefTable, &e.RefID,
			&e.Confidence, &e.Note, &e.Provenance, &e.RunID); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		e.EvidenceID = evidenceID
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return out, nil
}

// CountTimeline 统计证据时间线事件总数。
func CountTimeline(ctx context.Context, db *sql.DB, evidenceID int64) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM timeline WHERE evidence_id = ?`, evidenceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count timeline: %w", err)
	}
	return n, nil
}
