package timeline

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"surfsifter/internal/adapters/store/sqlite"
	"surfsifter/internal/domain/model"
)

func newEvidenceDB(t *testing.T) *sql.DB {
	t.Helper()
	folder := t.TempDir()
	m, err := sqlite.NewManager(folder, sqlite.CaseDBPathFor(folder, "CASE-T"), true)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.CloseAll() })
	s := m.Session()
	db, err := m.EvidenceConn(context.Background(), s, 1, "disk-a")
	if err != nil {
		t.Fatalf("EvidenceConn: %v", err)
	}
	return db
}

func seedArtifacts(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()
	if _, err := sqlite.InsertHistory(ctx, db, 1, []model.HistoryRecord{
		{URL: "https://example.com/", Title: "Example", TsUTC: "2024-03-01T10:00:00Z", Browser: "chrome",
			Provenance: model.Provenance{DiscoveredBy: "chrome_history", RunID: "run-1"}},
		{URL: "https://no-ts.test/", Browser: "chrome"}, // 无时间戳，不进时间线
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := sqlite.InsertDownloads(ctx, db, 1, []model.DownloadRecord{
		{URL: "https://example.com/tool.zip", Filename: "tool.zip", Browser: "chrome",
			StartTimeUTC: "2024-03-01T10:05:00Z",
			Provenance:   model.Provenance{DiscoveredBy: "chrome_downloads", RunID: "run-1"}},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := sqlite.InsertCookies(ctx, db, 1, []model.CookieRecord{
		{Browser: "chrome", Name: "sid", Domain: ".example.com", CreationUTC: "2024-03-01T09:59:00Z"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := sqlite.UpsertFileEntries(ctx, db, 1, []model.FileEntry{
		{PartitionIndex: 0, FilePath: "/Users/a/tool.zip",
			MtimeUTC: "2024-03-01T10:06:00Z", CrtimeUTC: "2024-03-01T10:05:30Z"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := sqlite.InsertOSIndicators(ctx, db, 1, []model.OSIndicator{
		{Type: "timezone", Name: "system", Value: "Europe/Berlin", Confidence: model.ConfidenceHigh,
			DetectedAtUTC: "2024-03-01T09:00:00Z",
			Provenance:    model.Provenance{DiscoveredBy: "registry_scan", RunID: "run-1"}},
		{Type: "os_version", Name: "ProductVersion", Value: "14.4",
			DetectedAtUTC: "2024-03-01T09:30:00Z"},
		{Type: "install_marker", Name: "no-timestamp"}, // 无时间戳，不进时间线
	}); err != nil {
		t.Fatal(err)
	}
}

func TestRebuildDefaultConfig(t *testing.T) {
	ctx := context.Background()
	db := newEvidenceDB(t)
	seedArtifacts(t, db)

	progress := map[string]int{}
	total, err := NewEngine(nil).Rebuild(ctx, db, 1, func(source string, events int) {
		progress[source] = events
	})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	// history 1 + download 1 + cookie 1 + file mtime 1 + file crtime 1 + indicator 2
	if total != 7 {
		t.Fatalf("total = %d, want 7", total)
	}
	if progress[SourceHistory] != 1 || progress[SourceFileList] != 2 || progress[SourceIndicators] != 2 {
		t.Fatalf("progress = %v", progress)
	}

	events, err := sqlite.GetTimeline(ctx, db, 1, sqlite.TimelineFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 7 {
		t.Fatalf("timeline rows = %d", len(events))
	}
	// 升序排列，最早的 os_indicator 在最前。
	if events[0].Kind != "os_artifact" || events[0].TsUTC != "2024-03-01T09:00:00Z" {
		t.Fatalf("first event = %+v", events[0])
	}
	for _, e := range events {
		if e.Kind == "web_visit" && e.Confidence != model.ConfidenceMedium {
			t.Fatalf("web_visit confidence = %q, want medium", e.Confidence)
		}
	}

	// 行自带 confidence 覆盖来源默认档；没带的落回 low。
	indicators, err := sqlite.GetTimeline(ctx, db, 1, sqlite.TimelineFilter{Kind: "os_artifact"})
	if err != nil {
		t.Fatal(err)
	}
	if len(indicators) != 2 {
		t.Fatalf("os_artifact events = %d, want 2", len(indicators))
	}
	if indicators[0].Confidence != model.ConfidenceHigh || indicators[0].Note != "OS: timezone - system" {
		t.Fatalf("overridden indicator event = %+v", indicators[0])
	}
	if indicators[1].Confidence != model.ConfidenceLow {
		t.Fatalf("default indicator event = %+v", indicators[1])
	}

	// 重建是整体替换，不是累加。
	total2, err := NewEngine(nil).Rebuild(ctx, db, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if total2 != total {
		t.Fatalf("rebuild total changed: %d -> %d", total, total2)
	}
}

func TestRebuildWithConfigFile(t *testing.T) {
	ctx := context.Background()
	db := newEvidenceDB(t)
	seedArtifacts(t, db)

	cfgPath := filepath.Join(t.TempDir(), "timeline.yaml")
	cfgYAML := `
version: 1
sources:
  file_list:
    enabled: false
  os_indicators:
    enabled: false
  cookies:
    confidence: low
    kind: cookie_seen
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	total, err := NewEngine(cfg).Rebuild(ctx, db, 1, nil)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3 with file_list and os_indicators disabled", total)
	}

	cookies, err := sqlite.GetTimeline(ctx, db, 1, sqlite.TimelineFilter{Kind: "cookie_seen"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cookies) != 1 || cookies[0].Confidence != model.ConfidenceLow {
		t.Fatalf("cookie events = %+v", cookies)
	}
}

func TestConfigFingerprint(t *testing.T) {
	a := DefaultConfig().Fingerprint()
	if a == "" {
		t.Fatal("empty fingerprint")
	}
	if b := DefaultConfig().Fingerprint(); b != a {
		t.Fatalf("fingerprint not stable: %s vs %s", a, b)
	}

	cfg := DefaultConfig()
	sc := cfg.Sources[SourceCookies]
	sc.Confidence = model.ConfidenceLow
	cfg.Sources[SourceCookies] = sc
	if cfg.Fingerprint() == a {
		t.Fatal("fingerprint unchanged after confidence change")
	}
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	badSource := filepath.Join(dir, "bad_source.yaml")
	if err := os.WriteFile(badSource, []byte("sources:\n  registry: {enabled: true}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(badSource); err == nil {
		t.Fatal("unknown source accepted")
	}

	badConfidence := filepath.Join(dir, "bad_conf.yaml")
	if err := os.WriteFile(badConfidence, []byte("sources:\n  cookies: {confidence: certain}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(badConfidence); err == nil {
		t.Fatal("invalid confidence accepted")
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
