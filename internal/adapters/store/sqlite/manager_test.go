package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"surfsifter/internal/domain/model"
)

func newTestManager(t *testing.T, enableSplit bool) *Manager {
	t.Helper()
	folder := t.TempDir()
	m, err := NewManager(folder, CaseDBPathFor(folder, "CASE-1"), enableSplit)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.CloseAll() })
	return m
}

func TestSlugifyLabel(t *testing.T) {
	cases := []struct {
		label   string
		want    string
		wantErr bool
	}{
		{"Disk A", "disk-a", false},
		{"Primary Evidence #1", "primary-evidence-1", false},
		{"4Dell Latitude CPi", "ev-4dell-latitude-cpi", false},
		{"Phone_Backup (2024)", "phone-backup-2024", false},
		{"USB--стик", "usb", false}, // 非 ASCII 归约掉，尾部连字符裁剪
		{"стик", "", true},          // 全部归约成连字符后为空
		{"2024_image", "ev-2024-image", false},
		{"UPPER", "upper", false},
		{"a//b\\c", "a-b-c", false},
		{"", "", true},
		{"   ", "", true},
		{"---", "", true},
	}
	for _, tc := range cases {
		got, err := SlugifyLabel(tc.label, 7)
		if tc.wantErr {
			if err == nil {
				t.Errorf("SlugifyLabel(%q) = %q, want error", tc.label, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SlugifyLabel(%q): %v", tc.label, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SlugifyLabel(%q) = %q, want %q", tc.label, got, tc.want)
		}
	}
}

func TestSyntheticLabel(t *testing.T) {
	if got := SyntheticLabel(7); got != "EV-007" {
		t.Fatalf("SyntheticLabel(7) = %q", got)
	}
	if got := SyntheticLabel(1234); got != "EV-1234" {
		t.Fatalf("SyntheticLabel(1234) = %q", got)
	}
}

func TestNewManagerRequiresCaseDBPath(t *testing.T) {
	if _, err := NewManager(t.TempDir(), "", true); err == nil {
		t.Fatal("NewManager accepted empty case db path")
	}
}

func TestFindCaseDatabase(t *testing.T) {
	folder := t.TempDir()
	if _, err := FindCaseDatabase(folder); !errors.Is(err, ErrNoCaseDatabase) {
		t.Fatalf("empty folder: err = %v, want ErrNoCaseDatabase", err)
	}

	legacy := filepath.Join(folder, "old_browser.sqlite")
	if err := os.WriteFile(legacy, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindCaseDatabase(folder)
	if err != nil {
		t.Fatalf("FindCaseDatabase: %v", err)
	}
	if got != legacy {
		t.Fatalf("got %q, want legacy fallback %q", got, legacy)
	}

	// 新命名约定优先于旧版文件。
	current := filepath.Join(folder, "CASE-1_surfsifter.sqlite")
	if err := os.WriteFile(current, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = FindCaseDatabase(folder)
	if err != nil {
		t.Fatalf("FindCaseDatabase: %v", err)
	}
	if got != current {
		t.Fatalf("got %q, want %q", got, current)
	}
}

func TestManagerEvidenceDBLayout(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, true)
	s := m.Session()
	defer s.Close()

	// 路径探测不产生副作用。
	path, err := m.EvidenceDBPath(1, "Disk A", false)
	if err != nil {
		t.Fatalf("EvidenceDBPath: %v", err)
	}
	want := filepath.Join(m.CaseFolder(), "evidences", "disk-a", "evidence_disk-a.sqlite")
	if path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	if exists, _ := m.EvidenceDBExists(1, "Disk A"); exists {
		t.Fatal("evidence db exists before first connection")
	}

	db, err := m.EvidenceConn(ctx, s, 1, "Disk A")
	if err != nil {
		t.Fatalf("EvidenceConn: %v", err)
	}
	if _, err := db.ExecContext(ctx, `SELECT COUNT(*) FROM urls`); err != nil {
		t.Fatalf("evidence schema not applied: %v", err)
	}
	if exists, err := m.EvidenceDBExists(1, "Disk A"); err != nil || !exists {
		t.Fatalf("evidence db missing after connection: exists=%v err=%v", exists, err)
	}
}

func TestManagerSplitDisabled(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, false)
	s := m.Session()
	defer s.Close()

	caseDB, err := m.CaseConn(ctx, s)
	if err != nil {
		t.Fatalf("CaseConn: %v", err)
	}
	evDB, err := m.EvidenceConn(ctx, s, 1, "Disk A")
	if err != nil {
		t.Fatalf("EvidenceConn: %v", err)
	}
	if caseDB != evDB {
		t.Fatal("split disabled: evidence conn should be the case conn")
	}

	// 证据 schema 已合入案件库，工件读写照常可用。
	n, err := InsertURLs(ctx, evDB, 1, []model.URLRecord{{URL: "https://example.com/"}})
	if err != nil {
		t.Fatalf("InsertURLs: %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted = %d, want 1", n)
	}
	if c := countRows(t, evDB, `SELECT COUNT(*) FROM cases`); c != 0 {
		t.Fatalf("cases rows = %d", c)
	}

	// 没有任何证据库文件落盘。
	entries, err := os.ReadDir(filepath.Join(m.CaseFolder(), "evidences"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("split disabled wrote evidence files: %v", entries)
	}
}

func TestManagerSessionIsolation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, true)

	s1 := m.Session()
	s2 := m.Session()
	defer s1.Close()
	defer s2.Close()

	db1, err := m.CaseConn(ctx, s1)
	if err != nil {
		t.Fatalf("CaseConn s1: %v", err)
	}
	db2, err := m.CaseConn(ctx, s2)
	if err != nil {
		t.Fatalf("CaseConn s2: %v", err)
	}
	if db1 == db2 {
		t.Fatal("distinct sessions shared a connection")
	}
	if m.CacheLen() != 2 {
		t.Fatalf("cache len = %d, want 2", m.CacheLen())
	}

	// 同一会话重复请求复用连接。
	again, err := m.CaseConn(ctx, s1)
	if err != nil {
		t.Fatalf("CaseConn s1 again: %v", err)
	}
	if again != db1 {
		t.Fatal("same session re-opened a cached connection")
	}
	if m.CacheLen() != 2 {
		t.Fatalf("cache len = %d after reuse, want 2", m.CacheLen())
	}

	// 已提交的写入对另一个会话可见。
	if err := EnsureCase(ctx, db1, model.Case{CaseID: "CASE-1", Title: "Test"}); err != nil {
		t.Fatalf("EnsureCase: %v", err)
	}
	got, err := GetCase(ctx, db2, "CASE-1")
	if err != nil {
		t.Fatalf("GetCase via s2: %v", err)
	}
	if got == nil || got.Title != "Test" {
		t.Fatalf("cross-session read = %+v", got)
	}

	// 关闭一个会话只逐出它自己的条目。
	if err := s1.Close(); err != nil {
		t.Fatalf("close s1: %v", err)
	}
	if m.CacheLen() != 1 {
		t.Fatalf("cache len = %d after closing s1, want 1", m.CacheLen())
	}
	if _, err := GetCase(ctx, db2, "CASE-1"); err != nil {
		t.Fatalf("s2 connection broken by s1 close: %v", err)
	}
}

func TestManagerEndToEnd(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, true)
	s := m.Session()
	defer s.Close()

	caseDB, err := m.CaseConn(ctx, s)
	if err != nil {
		t.Fatalf("CaseConn: %v", err)
	}
	if err := EnsureCase(ctx, caseDB, model.Case{CaseID: "CASE-1", Title: "Laptop seizure"}); err != nil {
		t.Fatalf("EnsureCase: %v", err)
	}
	evidenceID, err := AddEvidence(ctx, caseDB, "CASE-1", "Disk A", "/images/disk-a.E01")
	if err != nil {
		t.Fatalf("AddEvidence: %v", err)
	}

	evDB, err := m.EvidenceConn(ctx, s, evidenceID, "Disk A")
	if err != nil {
		t.Fatalf("EvidenceConn: %v", err)
	}
	runID, err := StartRun(ctx, evDB, evidenceID, "chrome_history")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	n, err := InsertHistory(ctx, evDB, evidenceID, []model.HistoryRecord{
		{URL: "https://example.com/", Title: "Example", TsUTC: "2024-03-01T10:00:00Z",
			Browser: "chrome", Provenance: model.Provenance{DiscoveredBy: "chrome_history", RunID: runID}},
	})
	if err != nil {
		t.Fatalf("InsertHistory: %v", err)
	}
	if err := FinishRun(ctx, evDB, runID, n, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err := GetRun(ctx, evDB, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil || run.Status != RunStatusSuccess || run.ItemsInserted != 1 {
		t.Fatalf("run = %+v", run)
	}

	evs, err := ListEvidences(ctx, caseDB, "CASE-1")
	if err != nil {
		t.Fatalf("ListEvidences: %v", err)
	}
	if len(evs) != 1 || evs[0].Label != "Disk A" {
		t.Fatalf("evidences = %+v", evs)
	}
}
