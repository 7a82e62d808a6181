package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"surfsifter/internal/domain/model"
)

// ErrTagNotFound 表示证据内没有对应名字的标签。
var ErrTagNotFound = errors.New("tag not found")

// GetOrCreateTag 取回或创建标签，按归一化名字在证据内唯一。
// INSERT OR IGNORE 撞唯一键后回查，两个并发调用拿到同一行。
func GetOrCreateTag(ctx context.Context, db *sql.DB, evidenceID int64, name, createdBy string) (*model.Tag, error) {
	normalized := model.NormalizeTagName(name)
	if normalized == "" {
		return nil, errors.New("tag name is required")
	}
	if createdBy == "" {
		createdBy = "manual"
	}

	err := retryBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO tags(evidence_id, name, name_normalized, created_by, created_at_utc)
			VALUES(?, ?, ?, ?, ?)
		`, evidenceID, strings.TrimSpace(name), normalized, createdBy, model.NowUTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create tag: %w", err)
	}
	tag, err := getTagByNormalized(ctx, db, evidenceID, normalized)
	if err != nil {
		return nil, err
	}
	if tag == nil {
		return nil, ErrTagNotFound
	}
	return tag, nil
}

func getTagByNormalized(ctx context.Context, db *sql.DB, evidenceID int64, normalized string) (*model.Tag, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, evidence_id, name, name_normalized, created_by,
		       COALESCE(created_at_utc, ''), usage_count
		FROM tags
		WHERE evidence_id = ? AND name_normalized = ?
	`, evidenceID, normalized)

	var tag model.Tag
	if err := row.Scan(&tag.ID, &tag.EvidenceID, &tag.Name, &tag.NameNormalized,
		&tag.CreatedBy, &tag.CreatedAtUTC, &tag.UsageCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query tag: %w", err)
	}
	return &tag, nil
}

// GetTag 按原始名字查标签（内部做归一化），未找到返回 ErrTagNotFound。
func GetTag(ctx context.Context, db *sql.DB, evidenceID int64, name string) (*model.Tag, error) {
	tag, err := getTagByNormalized(ctx, db, evidenceID, model.NormalizeTagName(name))
	if err != nil {
		return nil, err
	}
	if tag == nil {
		return nil, ErrTagNotFound
	}
	return tag, nil
}

// ListTags 返回证据内全部标签，按使用次数倒序、名字升序。
func ListTags(ctx context.Context, db *sql.DB, evidenceID int64) ([]model.Tag, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, evidence_id, name, name_normalized, created_by,
		       COALESCE(created_at_utc, ''), usage_count
		FROM tags
		WHERE evidence_id = ?
		ORDER BY usage_count DESC, name_normalized ASC
	`, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	out := []model.Tag{}
	for rows.Next() {
		var tag model.Tag
		if err := rows.Scan(&tag.ID, &tag.EvidenceID, &tag.Name, &tag.NameNormalized,
			&tag.CreatedBy, &tag.CreatedAtUTC, &tag.UsageCount); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

// TagArtifact 给工件打标签。幂等：重复关联静默忽略，
// 首次关联的时间戳保留（先到者定格 tagged_at_utc）。
// usage_count 由触发器随关联行增减，这里不手工维护。
func TagArtifact(ctx context.Context, db *sql.DB, evidenceID int64, tagName, artifactType string, artifactID int64, taggedBy string) (*model.Tag, error) {
	tag, err := GetOrCreateTag(ctx, db, evidenceID, tagName, taggedBy)
	if err != nil {
		return nil, err
	}
	if taggedBy == "" {
		taggedBy = "manual"
	}
	err = retryBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO tag_associations(tag_id, evidence_id, artifact_type, artifact_id, tagged_by, tagged_at_utc)
			VALUES(?, ?, ?, ?, ?, ?)
		`, tag.ID, evidenceID, artifactType, artifactID, taggedBy, model.NowUTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("tag artifact: %w", err)
	}
	return tag, nil
}

// UntagArtifact 解除工件与标签的关联。不存在时为空操作。
func UntagArtifact(ctx context.Context, db *sql.DB, evidenceID int64, tagName, artifactType string, artifactID int64) error {
	tag, err := GetTag(ctx, db, evidenceID, tagName)
	if err != nil {
		if errors.Is(err, ErrTagNotFound) {
			return nil
		}
		return err
	}
	err = retryBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, `
			DELETE FROM tag_associations
			WHERE tag_id = ? AND artifact_type = ? AND artifact_id = ?
		`, tag.ID, artifactType, artifactID)
		return err
	})
	if err != nil {
		return fmt.Errorf("untag artifact: %w", err)
	}
	return nil
}

// DeleteTag 删除标签。关联行随外键级联清除，
// 触发器在级联删除时同样回调，但标签行本身已不在，减数落空无妨。
func DeleteTag(ctx context.Context, db *sql.DB, evidenceID int64, tagName string) error {
	tag, err := GetTag(ctx, db, evidenceID, tagName)
	if err != nil {
		return err
	}
	err = retryBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, tag.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

// RenameTag 重命名标签。目标归一化名已被其他标签占用时报错，
// 调用方应改用 MergeTags。
func RenameTag(ctx context.Context, db *sql.DB, evidenceID int64, oldName, newName string) error {
	tag, err := GetTag(ctx, db, evidenceID, oldName)
	if err != nil {
		return err
	}
	newNormalized := model.NormalizeTagName(newName)
	if newNormalized == "" {
		return errors.New("tag name is required")
	}
	if newNormalized == tag.NameNormalized {
		// 只是大小写/空白变化，直接改展示名。
		err = retryBusy(ctx, func() error {
			_, err := db.ExecContext(ctx, `UPDATE tags SET name = ? WHERE id = ?`,
				strings.TrimSpace(newName), tag.ID)
			return err
		})
		if err != nil {
			return fmt.Errorf("rename tag: %w", err)
		}
		return nil
	}

	existing, err := getTagByNormalized(ctx, db, evidenceID, newNormalized)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("tag %q already exists, merge instead", newName)
	}
	err = retryBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, `UPDATE tags SET name = ?, name_normalized = ? WHERE id = ?`,
			strings.TrimSpace(newName), newNormalized, tag.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("rename tag: %w", err)
	}
	return nil
}

// MergeTags 把若干源标签并入目标标签：
// 源标签的关联先 OR IGNORE 改指目标（已有相同关联的行被丢弃），
// 再整体删除源标签，剩余关联随级联清除。
// 覆盖面保持不变：合并前被任一源标注过的工件，合并后都带目标标签。
func MergeTags(ctx context.Context, db *sql.DB, evidenceID int64, targetName string, sourceNames []string) (*model.Tag, error) {
	target, err := GetOrCreateTag(ctx, db, evidenceID, targetName, "manual")
	if err != nil {
		return nil, err
	}

	sourceIDs := []int64{}
	for _, name := range sourceNames {
		src, err := GetTag(ctx, db, evidenceID, name)
		if err != nil {
			if errors.Is(err, ErrTagNotFound) {
				continue
			}
			return nil, err
		}
		if src.ID == target.ID {
			continue
		}
		sourceIDs = append(sourceIDs, src.ID)
	}
	if len(sourceIDs) == 0 {
		return target, nil
	}

	err = retryBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, srcID := range sourceIDs {
			// 逐条改指而不是整表 UPDATE OR IGNORE：
			// 触发器要对每次成功的插入/删除各自计数，usage_count 才能守恒。
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO tag_associations(tag_id, evidence_id, artifact_type, artifact_id, tagged_by, tagged_at_utc)
				SELECT ?, evidence_id, artifact_type, artifact_id, tagged_by, tagged_at_utc
				FROM tag_associations
				WHERE tag_id = ?
			`, target.ID, srcID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, srcID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("merge tags: %w", err)
	}
	return getTagByNormalized(ctx, db, evidenceID, target.NameNormalized)
}

// ArtifactTags 返回某个工件挂的全部标签名，按名字排序。
func ArtifactTags(ctx context.Context, db *sql.DB, evidenceID int64, artifactType string, artifactID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT t.name
		FROM tag_associations a
		JOIN tags t ON t.id = a.tag_id
		WHERE a.evidence_id = ? AND a.artifact_type = ? AND a.artifact_id = ?
		ORDER BY t.name_normalized ASC
	`, evidenceID, artifactType, artifactID)
	if err != nil {
		return nil, fmt.Errorf("query artifact tags: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tag name: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifact tags: %w", err)
	}
	return out, nil
}

// TagStringsForArtifacts 批量取一批工件的标签串（逗号拼接），
// 给列表界面一次查询填满整页用。没有标签的工件不在结果里。
func TagStringsForArtifacts(ctx context.Context, db *sql.DB, evidenceID int64, artifactType string, artifactIDs []int64) (map[int64]string, error) {
	out := map[int64]string{}
	if len(artifactIDs) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(artifactIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{evidenceID, artifactType}
	for _, id := range artifactIDs {
		args = append(args, id)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT a.artifact_id, GROUP_CONCAT(t.name, ', ')
		FROM tag_associations a
		JOIN tags t ON t.id = a.tag_id
		WHERE a.evidence_id = ? AND a.artifact_type = ? AND a.artifact_id IN (`+placeholders+`)
		GROUP BY a.artifact_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tag strings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var names string
		if err := rows.Scan(&id, &names); err != nil {
			return nil, fmt.Errorf("scan tag string: %w", err)
		}
		out[id] = names
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag strings: %w", err)
	}
	return out, nil
}

// ArtifactIDsByTag 查某类工件中挂了指定标签的 ID 集合。
func ArtifactIDsByTag(ctx context.Context, db *sql.DB, evidenceID int64, tagName, artifactType string) ([]int64, error) {
	tag, err := GetTag(ctx, db, evidenceID, tagName)
	if err != nil {
		if errors.Is(err, ErrTagNotFound) {
			return []int64{}, nil
		}
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT artifact_id
		FROM tag_associations
		WHERE tag_id = ? AND artifact_type = ?
		ORDER BY artifact_id ASC
	`, tag.ID, artifactType)
	if err != nil {
		return nil, fmt.Errorf("query artifact ids: %w", err)
	}
	defer rows.Close()

	out := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan artifact id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifact ids: %w", err)
	}
	return out, nil
}

// removeArtifactAssociations 应用侧级联：删除工件前清掉指向它的标签关联。
// (artifact_type, artifact_id) 是多态指针，库层没有外键可依赖。
func removeArtifactAssociations(ctx context.Context, tx *sql.Tx, evidenceID int64, artifactType string, artifactIDs []int64) error {
	if len(artifactIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(artifactIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{evidenceID, artifactType}
	for _, id := range artifactIDs {
		args = append(args, id)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM tag_associations
		WHERE evidence_id = ? AND artifact_type = ? AND artifact_id IN (`+placeholders+`)
	`, args...); err != nil {
		return fmt.Errorf("remove tag associations: %w", err)
	}
	return nil
}
