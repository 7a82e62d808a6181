package safari

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"surfsifter/internal/adapters/store/sqlite"
)

const sampleBookmarksPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>WebBookmarkFileVersion</key><integer>1</integer>
	<key>WebBookmarkType</key><string>WebBookmarkTypeList</string>
	<key>Children</key>
	<array>
		<dict>
			<key>WebBookmarkType</key><string>WebBookmarkTypeList</string>
			<key>Title</key><string>BookmarksBar</string>
			<key>Children</key>
			<array>
				<dict>
					<key>WebBookmarkType</key><string>WebBookmarkTypeLeaf</string>
					<key>URLString</key><string>https://example.com/</string>
					<key>URIDictionary</key>
					<dict>
						<key>title</key><string>Example</string>
					</dict>
				</dict>
				<dict>
					<key>WebBookmarkType</key><string>WebBookmarkTypeList</string>
					<key>Title</key><string>Work</string>
					<key>Children</key>
					<array>
						<dict>
							<key>WebBookmarkType</key><string>WebBookmarkTypeLeaf</string>
							<key>URLString</key><string>https://intranet.test/wiki</string>
							<key>URIDictionary</key>
							<dict>
								<key>title</key><string>Wiki</string>
							</dict>
						</dict>
					</array>
				</dict>
				<dict>
					<key>WebBookmarkType</key><string>WebBookmarkTypeLeaf</string>
					<key>URLString</key><string></string>
				</dict>
			</array>
		</dict>
	</array>
</dict>
</plist>`

func TestParseBookmarks(t *testing.T) {
	records, err := ParseBookmarks([]byte(sampleBookmarksPlist))
	if err != nil {
		t.Fatalf("ParseBookmarks: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].URL != "https://example.com/" || records[0].Title != "Example" {
		t.Fatalf("first = %+v", records[0])
	}
	if records[0].FolderPath != "BookmarksBar" {
		t.Fatalf("first folder = %q", records[0].FolderPath)
	}
	if records[1].FolderPath != "BookmarksBar/Work" || records[1].Title != "Wiki" {
		t.Fatalf("second = %+v", records[1])
	}
	for _, r := range records {
		if r.Browser != "safari" {
			t.Fatalf("browser = %q", r.Browser)
		}
	}
}

func TestParseBookmarksRejectsGarbage(t *testing.T) {
	if _, err := ParseBookmarks([]byte("not a plist")); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestImportBookmarksFile(t *testing.T) {
	ctx := context.Background()
	folder := t.TempDir()
	m, err := sqlite.NewManager(folder, sqlite.CaseDBPathFor(folder, "CASE-S"), true)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.CloseAll()
	s := m.Session()
	db, err := m.EvidenceConn(ctx, s, 1, "mac-laptop")
	if err != nil {
		t.Fatal(err)
	}

	plistPath := filepath.Join(t.TempDir(), "Bookmarks.plist")
	if err := os.WriteFile(plistPath, []byte(sampleBookmarksPlist), 0o644); err != nil {
		t.Fatal(err)
	}
	runID, err := sqlite.StartRun(ctx, db, 1, "safari_bookmarks")
	if err != nil {
		t.Fatal(err)
	}

	n, err := ImportBookmarksFile(ctx, db, 1, plistPath, runID)
	if err != nil {
		t.Fatalf("ImportBookmarksFile: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported = %d, want 2", n)
	}

	bookmarks, err := sqlite.GetBookmarks(ctx, db, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(bookmarks) != 2 || bookmarks[0].RunID != runID {
		t.Fatalf("bookmarks = %+v", bookmarks)
	}

	// 书签地址同时作为 URL 观测入库，域名已拆解。
	urls, err := sqlite.GetURLs(ctx, db, 1, sqlite.URLFilter{Domain: "intranet.test"})
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 1 || urls[0].DiscoveredBy != "safari_bookmarks" {
		t.Fatalf("urls = %+v", urls)
	}
}
