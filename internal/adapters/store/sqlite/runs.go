package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"surfsifter/internal/domain/model"
	"surfsifter/internal/platform/id"
)

// 提取运行的终态。
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// StartRun 登记一次提取运行并返回 run_id。
// run_id 会写进本轮产出的每一行工件，作为行级溯源锚点。
func StartRun(ctx context.Context, db *sql.DB, evidenceID int64, extractor string) (string, error) {
	if extractor == "" {
		return "", errors.New("extractor name is required")
	}
	runID := id.NewRun()
	err := retryBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO extraction_runs(run_id, evidence_id, extractor, started_at_utc, status)
			VALUES(?, ?, ?, ?, ?)
		`, runID, evidenceID, extractor, model.NowUTC(), RunStatusRunning)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return runID, nil
}

// FinishRun 收尾一次提取运行。runErr 非空时状态记为 failed 并保留错误文本。
func FinishRun(ctx context.Context, db *sql.DB, runID string, itemsInserted int64, runErr error) error {
	status := RunStatusSuccess
	var errText any
	if runErr != nil {
		status = RunStatusFailed
		errText = runErr.Error()
	}
	err := retryBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, `
			UPDATE extraction_runs
			SET finished_at_utc = ?, status = ?, items_inserted = ?, error = ?
			WHERE run_id = ?
		`, model.NowUTC(), status, itemsInserted, errText, runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun 查询运行记录，未找到返回 (nil, nil)。
func GetRun(ctx context.Context, db *sql.DB, runID string) (*model.Run, error) {
	row := db.QueryRowContext(ctx, `
		SELECT run_id, evidence_id, extractor, started_at_utc,
		       COALESCE(finished_at_utc, ''), status, items_inserted, COALESCE(error, '')
		FROM extraction_runs
		WHERE run_id = ?
	`, runID)

	var r model.Run
	if err := row.Scan(&r.RunID, &r.EvidenceID, &r.Extractor, &r.StartedAtUTC,
		&r.FinishedAtUTC, &r.Status, &r.ItemsInserted, &r.Error); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query run: %w", err)
	}
	return &r, nil
}

// ListRuns 返回证据下的运行记录，按开始时间倒序。
func ListRuns(ctx context.Context, db *sql.DB, evidenceID int64) ([]model.Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, evidence_id, extractor, started_at_utc,
		       COALESCE(finished_at_utc, ''), status, items_inserted, COALESCE(error, '')
		FROM extraction_runs
		WHERE evidence_id = ?
		ORDER BY started_at_utc DESC, run_id ASC
	`, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []model.Run{}
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.RunID, &r.EvidenceID, &r.Extractor, &r.StartedAtUTC,
			&r.FinishedAtUTC, &r.Status, &r.ItemsInserted, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
