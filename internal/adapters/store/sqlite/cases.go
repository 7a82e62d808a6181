package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"surfsifter/internal/domain/model"
)

// ErrEvidenceNotFound 表示案件库里没有对应的证据行。
// 标签查询场景下调用方应退回 SyntheticLabel 而不是中断操作。
var ErrEvidenceNotFound = errors.New("evidence not found")

// EnsureCase 确保案件存在；已存在时只更新非空的元信息字段。
func EnsureCase(ctx context.Context, db *sql.DB, c model.Case) error {
	if c.CaseID == "" {
		return errors.New("case_id is required")
	}
	if c.Title == "" {
		c.Title = "Case"
	}
	now := model.NowUTC()

	err := retryBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO cases(case_id, title, investigator, notes, created_at_utc, updated_at_utc)
			VALUES(?, ?, ?, ?, ?, ?)
			ON CONFLICT(case_id) DO UPDATE SET
				updated_at_utc=excluded.updated_at_utc,
				title=CASE WHEN excluded.title IS NULL OR excluded.title='' THEN cases.title ELSE excluded.title END,
				investigator=CASE WHEN excluded.investigator IS NULL OR excluded.investigator='' THEN cases.investigator ELSE excluded.investigator END,
				notes=CASE WHEN excluded.notes IS NULL OR excluded.notes='' THEN cases.notes ELSE excluded.notes END
		`, c.CaseID, c.Title, nullIfEmpty(c.Investigator), nullIfEmpty(c.Notes), now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert case: %w", err)
	}
	return nil
}

// GetCase 按 case_id 查询案件，未找到返回 (nil, nil)。
func GetCase(ctx context.Context, db *sql.DB, caseID string) (*model.Case, error) {
	row := db.QueryRowContext(ctx, `
		SELECT case_id, title, COALESCE(investigator, ''), COALESCE(notes, ''),
		       created_at_utc, updated_at_utc
		FROM cases
		WHERE case_id = ?
	`, caseID)

	var out model.Case
	if err := row.Scan(&out.CaseID, &out.Title, &out.Investigator, &out.Notes, &out.CreatedAtUTC, &out.UpdatedAtUTC); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query case: %w", err)
	}
	return &out, nil
}

// ListCases 返回全部案件，按更新时间倒序。
func ListCases(ctx context.Context, db *sql.DB) ([]model.Case, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT case_id, title, COALESCE(investigator, ''), COALESCE(notes, ''),
		       created_at_utc, updated_at_utc
		FROM cases
		ORDER BY updated_at_utc DESC, case_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	out := []model.Case{}
	for rows.Next() {
		var item model.Case
		if err := rows.Scan(&item.CaseID, &item.Title, &item.Investigator, &item.Notes, &item.CreatedAtUTC, &item.UpdatedAtUTC); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

// AddEvidence 在案件下登记一份证据，返回证据 ID。
// 证据行创建后，配套的证据库文件在首次 EvidenceConn 时才会落盘。
func AddEvidence(ctx context.Context, db *sql.DB, caseID, label, sourcePath string) (int64, error) {
	if label == "" {
		return 0, errors.New("evidence label is required")
	}
	var evidenceID int64
	err := retryBusy(ctx, func() error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO evidences(case_id, label, source_path, added_at_utc)
			VALUES(?, ?, ?, ?)
		`, caseID, label, nullIfEmpty(sourcePath), model.NowUTC())
		if err != nil {
			return err
		}
		evidenceID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert evidence: %w", err)
	}
	return evidenceID, nil
}

// ListEvidences 返回案件下的证据列表。
func ListEvidences(ctx context.Context, db *sql.DB, caseID string) ([]model.Evidence, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, case_id, label, COALESCE(source_path, ''), added_at_utc
		FROM evidences
		WHERE case_id = ?
		ORDER BY id ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query evidences: %w", err)
	}
	defer rows.Close()

	out := []model.Evidence{}
	for rows.Next() {
		var item model.Evidence
		if err := rows.Scan(&item.ID, &item.CaseID, &item.Label, &item.SourcePath, &item.AddedAtUTC); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidences: %w", err)
	}
	return out, nil
}

// GetEvidence 按 ID 查询证据行，未找到返回 ErrEvidenceNotFound。
func GetEvidence(ctx context.Context, db *sql.DB, evidenceID int64) (*model.Evidence, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, case_id, label, COALESCE(source_path, ''), added_at_utc
		FROM evidences
		WHERE id = ?
	`, evidenceID)

	var out model.Evidence
	if err := row.Scan(&out.ID, &out.CaseID, &out.Label, &out.SourcePath, &out.AddedAtUTC); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEvidenceNotFound
		}
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	return &out, nil
}

// EvidenceLabel 查证据标签。元数据行缺失时退回合成标签：
// 案件库不一致不应该让用户失去对已提取数据的访问。
func EvidenceLabel(ctx context.Context, db *sql.DB, evidenceID int64) string {
	ev, err := GetEvidence(ctx, db, evidenceID)
	if err != nil || ev.Label == "" {
		return SyntheticLabel(evidenceID)
	}
	return ev.Label
}
