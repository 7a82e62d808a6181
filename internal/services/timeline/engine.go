package timeline

import (
	"context"
	"database/sql"
	"fmt"

	"surfsifter/internal/adapters/store/sqlite"
	"surfsifter/internal/domain/model"
)

// Progress 在每个来源处理完后回调一次。
type Progress func(source string, events int)

// Engine 把各工件表的时间戳融合成统一时间线。
// 时间线是派生数据：每次重建先清空再整体生成，不做增量修补。
type Engine struct {
	cfg *Config
}

func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// mapper 从一个来源表读出时间线事件。没有可用时间戳的行静默跳过：
// 缺时间戳不是错误，只是该行进不了时间线。
type mapper func(ctx context.Context, db *sql.DB, evidenceID int64, sc SourceConfig) ([]model.TimelineEvent, error)

var mappers = map[string]mapper{
	SourceHistory:    mapHistory,
	SourceDownloads:  mapDownloads,
	SourceCookies:    mapCookies,
	SourceBookmarks:  mapBookmarks,
	SourceURLs:       mapURLs,
	SourceImages:     mapImages,
	SourceFileList:   mapFileList,
	SourceIndicators: mapIndicators,
}

// 来源处理顺序固定，保证重建结果可复现。
var sourceOrder = []string{
	SourceHistory, SourceDownloads, SourceCookies, SourceBookmarks,
	SourceURLs, SourceImages, SourceFileList, SourceIndicators,
}

// Rebuild 重建一个证据的时间线，返回生成的事件总数。
func (e *Engine) Rebuild(ctx context.Context, db *sql.DB, evidenceID int64, progress Progress) (int64, error) {
	if err := sqlite.ClearTimeline(ctx, db, evidenceID); err != nil {
		return 0, err
	}

	var total int64
	for _, name := range sourceOrder {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if !e.cfg.enabled(name) {
			continue
		}
		events, err := mappers[name](ctx, db, evidenceID, e.cfg.source(name))
		if err != nil {
			return total, fmt.Errorf("map source %s: %w", name, err)
		}
		n, err := sqlite.InsertTimelineEvents(ctx, db, evidenceID, events)
		if err != nil {
			return total, err
		}
		total += n
		if progress != nil {
			progress(name, int(n))
		}
	}
	return total, nil
}

func mapHistory(ctx context.Context, db *sql.DB, evidenceID int64, sc SourceConfig) ([]model.TimelineEvent, error) {
	records, err := sqlite.GetHistory(ctx, db, evidenceID, sqlite.HistoryFilter{})
	if err != nil {
		return nil, err
	}
	events := make([]model.TimelineEvent, 0, len(records))
	for _, r := range records {
		if r.TsUTC == "" {
			continue
		}
		note := r.URL
		if r.Title != "" {
			note = r.Title + " - " + r.URL
		}
		events = append(events, model.TimelineEvent{
			TsUTC: r.TsUTC, Kind: sc.Kind, RefTable: "browser_history", RefID: r.ID,
			Confidence: sc.Confidence, Note: note,
			Provenance: r.DiscoveredBy, RunID: r.RunID,
		})
	}
	return events, nil
}

func mapDownloads(ctx context.Context, db *sql.DB, evidenceID int64, sc SourceConfig) ([]model.TimelineEvent, error) {
	records, err := sqlite.GetDownloads(ctx, db, evidenceID, 0)
	if err != nil {
		return nil, err
	}
	events := make([]model.TimelineEvent, 0, len(records))
	for _, r := range records {
		if r.StartTimeUTC == "" {
			continue
		}
		note := r.URL
		if r.Filename != "" {
			note = r.Filename + " <- " + r.URL
		}
		events = append(events, model.TimelineEvent{
			TsUTC: r.StartTimeUTC, Kind: sc.Kind, RefTable: "browser_downloads", RefID: r.ID,
			Confidence: sc.Confidence, Note: note,
			Provenance: r.DiscoveredBy, RunID: r.RunID,
		})
	}
	return events, nil
}

func mapCookies(ctx context.Context, db *sql.DB, evidenceID int64, sc SourceConfig) ([]model.TimelineEvent, error) {
	records, err := sqlite.GetCookies(ctx, db, evidenceID, "", 0)
	if err != nil {
		return nil, err
	}
	events := make([]model.TimelineEvent, 0, len(records))
	for _, r := range records {
		if r.CreationUTC == "" {
			continue
		}
		events = append(events, model.TimelineEvent{
			TsUTC: r.CreationUTC, Kind: sc.Kind, RefTable: "cookies", RefID: r.ID,
			Confidence: sc.Confidence, Note: r.Domain + " " + r.Name,
			Provenance: r.DiscoveredBy, RunID: r.RunID,
		})
	}
	return events, nil
}

func mapBookmarks(ctx context.Context, db *sql.DB, evidenceID int64, sc SourceConfig) ([]model.TimelineEvent, error) {
	records, err := sqlite.GetBookmarks(ctx, db, evidenceID, 0)
	if err != nil {
		return nil, err
	}
	events := make([]model.TimelineEvent, 0, len(records))
	for _, r := range records {
		if r.DateAddedUTC == "" {
			continue
		}
		note := r.URL
		if r.Title != "" {
			note = r.Title + " - " + r.URL
		}
		events = append(events, model.TimelineEvent{
			TsUTC: r.DateAddedUTC, Kind: sc.Kind, RefTable: "bookmarks", RefID: r.ID,
			Confidence: sc.Confidence, Note: note,
			Provenance: r.DiscoveredBy, RunID: r.RunID,
		})
	}
	return events, nil
}

func mapURLs(ctx context.Context, db *sql.DB, evidenceID int64, sc SourceConfig) ([]model.TimelineEvent, error) {
	records, err := sqlite.GetURLs(ctx, db, evidenceID, sqlite.URLFilter{})
	if err != nil {
		return nil, err
	}
	events := make([]model.TimelineEvent, 0, len(records))
	for _, r := range records {
		ts := r.FirstSeenUTC
		if ts == "" {
			ts = r.LastSeenUTC
		}
		if ts == "" {
			continue
		}
		events = append(events, model.TimelineEvent{
			TsUTC: ts, Kind: sc.Kind, RefTable: "urls", RefID: r.ID,
			Confidence: sc.Confidence, Note: r.URL,
			Provenance: r.DiscoveredBy, RunID: r.RunID,
		})
	}
	return events, nil
}

func mapImages(ctx context.Context, db *sql.DB, evidenceID int64, sc SourceConfig) ([]model.TimelineEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, COALESCE(filename, ''), ts_utc, first_discovered_by
		FROM images
		WHERE evidence_id = ? AND ts_utc IS NOT NULL AND ts_utc != ''
	`, evidenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.TimelineEvent{}
	for rows.Next() {
		var id int64
		var filename, ts, discoveredBy string
		if err := rows.Scan(&id, &filename, &ts, &discoveredBy); err != nil {
			return nil, err
		}
		events = append(events, model.TimelineEvent{
			TsUTC: ts, Kind: sc.Kind, RefTable: "images", RefID: id,
			Confidence: sc.Confidence, Note: filename,
			Provenance: discoveredBy,
		})
	}
	return events, rows.Err()
}

func mapIndicators(ctx context.Context, db *sql.DB, evidenceID int64, sc SourceConfig) ([]model.TimelineEvent, error) {
	records, err := sqlite.GetOSIndicators(ctx, db, evidenceID, "")
	if err != nil {
		return nil, err
	}
	events := make([]model.TimelineEvent, 0, len(records))
	for _, r := range records {
		if r.DetectedAtUTC == "" {
			continue
		}
		// 行自带 confidence 时优先于来源默认档。
		confidence := sc.Confidence
		if r.Confidence != "" {
			confidence = r.Confidence
		}
		events = append(events, model.TimelineEvent{
			TsUTC: r.DetectedAtUTC, Kind: sc.Kind, RefTable: "os_indicators", RefID: r.ID,
			Confidence: confidence, Note: "OS: " + r.Type + " - " + r.Name,
			Provenance: r.DiscoveredBy, RunID: r.RunID,
		})
	}
	return events, nil
}

func mapFileList(ctx context.Context, db *sql.DB, evidenceID int64, sc SourceConfig) ([]model.TimelineEvent, error) {
	records, err := sqlite.GetFileEntries(ctx, db, evidenceID, sqlite.FileFilter{})
	if err != nil {
		return nil, err
	}
	events := []model.TimelineEvent{}
	for _, r := range records {
		if r.MtimeUTC != "" {
			events = append(events, model.TimelineEvent{
				TsUTC: r.MtimeUTC, Kind: sc.Kind, RefTable: "file_list", RefID: r.ID,
				Confidence: sc.Confidence, Note: "modified " + r.FilePath,
				Provenance: r.DiscoveredBy, RunID: r.RunID,
			})
		}
		if r.CrtimeUTC != "" && r.CrtimeUTC != r.MtimeUTC {
			events = append(events, model.TimelineEvent{
				TsUTC: r.CrtimeUTC, Kind: sc.Kind, RefTable: "file_list", RefID: r.ID,
				Confidence: sc.Confidence, Note: "created " + r.FilePath,
				Provenance: r.DiscoveredBy, RunID: r.RunID,
			})
		}
	}
	return events, nil
}
