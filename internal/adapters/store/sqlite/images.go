package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"surfsifter/internal/domain/model"
	"surfsifter/internal/platform/phash"
)

// InsertImage 写入一张图像内容实体，按 (evidence_id, sha256) 去重。
// 已存在时不改动首发现信息（首个发现者胜出），返回已有行的 ID 与 false。
func InsertImage(ctx context.Context, db *sql.DB, img model.ImageRecord) (int64, bool, error) {
	if img.SHA256 == "" {
		return 0, false, errors.New("image sha256 is required")
	}
	if img.FirstDiscoveredBy == "" {
		img.FirstDiscoveredBy = "unknown"
	}
	if img.FirstDiscoveredAt == "" {
		img.FirstDiscoveredAt = model.NowUTC()
	}

	var prefix any
	if p, ok := phash.Prefix(img.PHash); ok {
		prefix = p
	}

	var imageID int64
	var created bool
	err := retryBusy(ctx, func() error {
		res, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO images(evidence_id, rel_path, filename, md5, sha256,
			                             phash, phash_prefix, size_bytes, exif_json, ts_utc,
			                             notes, first_discovered_by, first_discovered_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, img.EvidenceID, nullIfEmpty(img.RelPath), nullIfEmpty(img.Filename),
			nullIfEmpty(img.MD5), img.SHA256, nullIfEmpty(img.PHash), prefix,
			nullIfZero(img.SizeBytes), nullIfEmpty(img.ExifJSON), nullIfEmpty(img.TsUTC),
			nullIfEmpty(img.Notes), img.FirstDiscoveredBy, img.FirstDiscoveredAt)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = affected > 0
		if created {
			imageID, err = res.LastInsertId()
			return err
		}
		// 撞上内容去重键：查回已有行。
		return db.QueryRowContext(ctx,
			`SELECT id FROM images WHERE evidence_id = ? AND sha256 = ?`,
			img.EvidenceID, img.SHA256).Scan(&imageID)
	})
	if err != nil {
		return 0, false, fmt.Errorf("insert image: %w", err)
	}
	return imageID, created, nil
}

// InsertImageDiscovery 登记图像的一次发现。发现记录同样做幂等去重：
// 同一 (image, 提取器, 运行, 位置) 的重复登记静默忽略。
func InsertImageDiscovery(ctx context.Context, db *sql.DB, d model.ImageDiscovery) error {
	if d.ImageID == 0 {
		return errors.New("image_id is required")
	}
	if d.DiscoveredBy == "" {
		d.DiscoveredBy = "unknown"
	}
	if d.RunID == "" {
		return errors.New("run_id is required")
	}
	if d.DiscoveredAtUTC == "" {
		d.DiscoveredAtUTC = model.NowUTC()
	}

	var offset any
	if d.CarvedOffset > 0 || d.FSPath == "" {
		offset = d.CarvedOffset
	}
	err := retryBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO image_discoveries(evidence_id, image_id, discovered_by,
			                                        extractor_version, run_id, discovered_at_utc,
			                                        fs_path, fs_mtime_utc, carved_offset_bytes,
			                                        source_metadata_json)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, d.EvidenceID, d.ImageID, d.DiscoveredBy, nullIfEmpty(d.ExtractorVersion),
			d.RunID, d.DiscoveredAtUTC, nullIfEmpty(d.FSPath), nullIfEmpty(d.FSMtimeUTC),
			offset, nullIfEmpty(d.SourceMetaJSON))
		return err
	})
	if err != nil {
		return fmt.Errorf("insert image discovery: %w", err)
	}
	return nil
}

// InsertImageWithDiscovery 一次完成内容实体去重写入与发现登记。
// 返回图像 ID 与内容实体是否为新行。
func InsertImageWithDiscovery(ctx context.Context, db *sql.DB, img model.ImageRecord, d model.ImageDiscovery) (int64, bool, error) {
	imageID, created, err := InsertImage(ctx, db, img)
	if err != nil {
		return 0, false, err
	}
	d.EvidenceID = img.EvidenceID
	d.ImageID = imageID
	if err := InsertImageDiscovery(ctx, db, d); err != nil {
		return 0, false, err
	}
	return imageID, created, nil
}

// GetImageBySHA256 按内容哈希查图像，未找到返回 (nil, nil)。
func GetImageBySHA256(ctx context.Context, db *sql.DB, evidenceID int64, sha256 string) (*model.ImageRecord, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, evidence_id, COALESCE(rel_path, ''), COALESCE(filename, ''),
		       COALESCE(md5, ''), sha256, COALESCE(phash, ''), COALESCE(size_bytes, 0),
		       COALESCE(exif_json, ''), COALESCE(ts_utc, ''), COALESCE(notes, ''),
		       first_discovered_by, COALESCE(first_discovered_at, '')
		FROM images
		WHERE evidence_id = ? AND sha256 = ?
	`, evidenceID, sha256)

	var img model.ImageRecord
	if err := row.Scan(&img.ID, &img.EvidenceID, &img.RelPath, &img.Filename,
		&img.MD5, &img.SHA256, &img.PHash, &img.SizeBytes,
		&img.ExifJSON, &img.TsUTC, &img.Notes,
		&img.FirstDiscoveredBy, &img.FirstDiscoveredAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query image: %w", err)
	}
	return &img, nil
}

// ImageDiscoveries 返回一张图像的全部发现记录，按发现时间排序。
func ImageDiscoveries(ctx context.Context, db *sql.DB, imageID int64) ([]model.ImageDiscovery, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, evidence_id, image_id, discovered_by, COALESCE(extractor_version, ''),
		       run_id, COALESCE(discovered_at_utc, ''), COALESCE(fs_path, ''),
		       COALESCE(fs_mtime_utc, ''), COALESCE(carved_offset_bytes, 0),
		       COALESCE(source_metadata_json, '')
		FROM image_discoveries
		WHERE image_id = ?
		ORDER BY discovered_at_utc ASC, id ASC
	`, imageID)
	if err != nil {
		return nil, fmt.Errorf("query image discoveries: %w", err)
	}
	defer rows.Close()

	out := []model.ImageDiscovery{}
	for rows.Next() {
		var d model.ImageDiscovery
		if err := rows.Scan(&d.ID, &d.EvidenceID, &d.ImageID, &d.DiscoveredBy,
			&d.ExtractorVersion, &d.RunID, &d.DiscoveredAtUTC, &d.FSPath,
			&d.FSMtimeUTC, &d.CarvedOffset, &d.SourceMetaJSON); err != nil {
			return nil, fmt.Errorf("scan image discovery: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image discoveries: %w", err)
	}
	return out, nil
}

// SimilarImage 是一次相似检索的命中结果。
type SimilarImage struct {
	Image    model.ImageRecord
	Distance int
}

// SimilarImages 对证据内图像做感知哈希近邻检索。
// 两阶段：先用 phash_prefix 索引按前缀邻近范围粗筛候选，
// 再对候选逐个算完整海明距离精过滤。范围粗筛只是加速手段：
// 覆盖低位翻转，漏掉前缀高位翻转的远端近邻是可接受的召回损失。
func SimilarImages(ctx context.Context, db *sql.DB, evidenceID int64, targetPHash string, maxDistance int) ([]SimilarImage, error) {
	if maxDistance < 0 {
		maxDistance = 0
	}
	prefix, ok := phash.Prefix(targetPHash)
	if !ok {
		return nil, fmt.Errorf("invalid phash %q", targetPHash)
	}

	window := int64(0)
	if maxDistance > 0 && maxDistance < phash.PrefixBits {
		window = (int64(1) << maxDistance) - 1
	}

	query := `
		SELECT id, evidence_id, COALESCE(rel_path, ''), COALESCE(filename, ''),
		       COALESCE(md5, ''), sha256, COALESCE(phash, ''), COALESCE(size_bytes, 0),
		       COALESCE(exif_json, ''), COALESCE(ts_utc, ''), COALESCE(notes, ''),
		       first_discovered_by, COALESCE(first_discovered_at, '')
		FROM images
		WHERE evidence_id = ? AND phash IS NOT NULL
	`
	args := []any{evidenceID}
	if maxDistance < phash.PrefixBits {
		query += " AND phash_prefix BETWEEN ? AND ?"
		args = append(args, prefix-window, prefix+window)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query similar images: %w", err)
	}
	defer rows.Close()

	out := []SimilarImage{}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var img model.ImageRecord
		if err := rows.Scan(&img.ID, &img.EvidenceID, &img.RelPath, &img.Filename,
			&img.MD5, &img.SHA256, &img.PHash, &img.SizeBytes,
			&img.ExifJSON, &img.TsUTC, &img.Notes,
			&img.FirstDiscoveredBy, &img.FirstDiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		dist, ok := phash.Distance(targetPHash, img.PHash)
		if !ok || dist > maxDistance {
			continue
		}
		out = append(out, SimilarImage{Image: img, Distance: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar images: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Image.ID < out[j].Image.ID
	})
	return out, nil
}

// CountImages 统计证据内去重后的图像数量。
func CountImages(ctx context.Context, db *sql.DB, evidenceID int64) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE evidence_id = ?`, evidenceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}
