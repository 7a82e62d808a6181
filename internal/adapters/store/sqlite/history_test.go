package sqlite

import (
	"context"
	"testing"

	"surfsifter/internal/domain/model"
)

// 失败轮次回收：每张观测表都能按 run 清掉自己那一轮的行，
// 其他轮次的行不受影响。
func TestDeleteObservationsByRun(t *testing.T) {
	ctx := context.Background()
	db := newTestEvidenceDB(t)

	keep := model.Provenance{DiscoveredBy: "chrome_history", RunID: "run-keep"}
	drop := model.Provenance{DiscoveredBy: "chrome_history", RunID: "run-drop"}

	if _, err := InsertHistory(ctx, db, 1, []model.HistoryRecord{
		{URL: "https://keep.test/", TsUTC: "2024-03-01T10:00:00Z", Provenance: keep},
		{URL: "https://drop.test/", TsUTC: "2024-03-01T10:01:00Z", Provenance: drop},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := InsertCookies(ctx, db, 1, []model.CookieRecord{
		{Name: "sid", Domain: ".keep.test", Provenance: keep},
		{Name: "sid", Domain: ".drop.test", Provenance: drop},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := InsertDownloads(ctx, db, 1, []model.DownloadRecord{
		{URL: "https://keep.test/a.zip", Filename: "a.zip", Provenance: keep},
		{URL: "https://drop.test/b.zip", Filename: "b.zip", Provenance: drop},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := InsertBookmarks(ctx, db, 1, []model.BookmarkRecord{
		{URL: "https://keep.test/", Title: "keep", Provenance: keep},
		{URL: "https://drop.test/", Title: "drop", Provenance: drop},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := InsertOSIndicators(ctx, db, 1, []model.OSIndicator{
		{Type: "timezone", Name: "system", Provenance: keep},
		{Type: "timezone", Name: "browser", Provenance: drop},
	}); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name    string
		table   string
		deleter func() (int64, error)
	}{
		{"history", "browser_history", func() (int64, error) { return DeleteHistoryByRun(ctx, db, 1, "run-drop") }},
		{"cookies", "cookies", func() (int64, error) { return DeleteCookiesByRun(ctx, db, 1, "run-drop") }},
		{"downloads", "browser_downloads", func() (int64, error) { return DeleteDownloadsByRun(ctx, db, 1, "run-drop") }},
		{"bookmarks", "bookmarks", func() (int64, error) { return DeleteBookmarksByRun(ctx, db, 1, "run-drop") }},
		{"indicators", "os_indicators", func() (int64, error) { return DeleteOSIndicatorsByRun(ctx, db, 1, "run-drop") }},
	} {
		deleted, err := tc.deleter()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if deleted != 1 {
			t.Fatalf("%s: deleted = %d, want 1", tc.name, deleted)
		}
		remaining := countRows(t, db, `SELECT COUNT(*) FROM `+tc.table+` WHERE evidence_id = 1`)
		if remaining != 1 {
			t.Fatalf("%s: remaining = %d, want 1", tc.name, remaining)
		}
	}

	// 留下的全是 run-keep 的行。
	if n := countRows(t, db, `SELECT COUNT(*) FROM browser_history WHERE run_id = 'run-keep'`); n != 1 {
		t.Fatalf("kept history rows = %d, want 1", n)
	}
}
