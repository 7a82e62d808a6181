package sqlite

import (
	"context"
	"testing"

	"surfsifter/internal/domain/model"
)

func TestUpsertFileEntries(t *testing.T) {
	ctx := context.Background()
	db := newTestEvidenceDB(t)

	entry := model.FileEntry{
		PartitionIndex: 0,
		FilePath:       "/Users/a/Downloads/report.pdf",
		Filename:       "report.pdf",
		Extension:      "PDF",
		SizeBytes:      1024,
	}
	if _, err := UpsertFileEntries(ctx, db, 1, []model.FileEntry{entry}); err != nil {
		t.Fatalf("UpsertFileEntries: %v", err)
	}

	// 同路径重复写入：更新而不是追加，文件清单描述状态。
	entry.SizeBytes = 2048
	entry.SHA256 = "cc33"
	if _, err := UpsertFileEntries(ctx, db, 1, []model.FileEntry{entry}); err != nil {
		t.Fatalf("UpsertFileEntries update: %v", err)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM file_list`); n != 1 {
		t.Fatalf("file_list rows = %d, want 1", n)
	}

	got, err := GetFileEntries(ctx, db, 1, FileFilter{Extension: "pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].SizeBytes != 2048 || got[0].SHA256 != "cc33" {
		t.Fatalf("entry = %+v", got)
	}

	// 不同分区的同名路径是不同文件。
	entry.PartitionIndex = 1
	if _, err := UpsertFileEntries(ctx, db, 1, []model.FileEntry{entry}); err != nil {
		t.Fatal(err)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM file_list`); n != 2 {
		t.Fatalf("file_list rows = %d, want 2", n)
	}
}

func TestDeleteFileEntriesCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestEvidenceDB(t)

	entries := []model.FileEntry{
		{PartitionIndex: 0, FilePath: "/a.bin"},
		{PartitionIndex: 0, FilePath: "/b.bin"},
	}
	if _, err := UpsertFileEntries(ctx, db, 1, entries); err != nil {
		t.Fatal(err)
	}
	got, err := GetFileEntries(ctx, db, 1, FileFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d", len(got))
	}
	fileA, fileB := got[0].ID, got[1].ID

	if _, err := InsertFileMatches(ctx, db, 1, []model.FileMatch{
		{FileID: fileA, ListName: "nsrl", MatchType: "sha256"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := TagArtifact(ctx, db, 1, "reviewed", model.ArtifactFileList, fileA, "manual"); err != nil {
		t.Fatal(err)
	}
	if _, err := TagArtifact(ctx, db, 1, "reviewed", model.ArtifactFileList, fileB, "manual"); err != nil {
		t.Fatal(err)
	}

	if err := DeleteFileEntries(ctx, db, 1, []int64{fileA}); err != nil {
		t.Fatalf("DeleteFileEntries: %v", err)
	}

	// 命中记录走外键级联，标签关联走应用级联，两边都不残留。
	if n := countRows(t, db, `SELECT COUNT(*) FROM file_list_matches`); n != 0 {
		t.Fatalf("matches survived delete: %d", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM tag_associations WHERE artifact_id = ?`, fileA); n != 0 {
		t.Fatalf("tag associations survived delete: %d", n)
	}
	// 未删除文件的关联保持，usage_count 同步回落。
	if got := tagUsage(t, db, 1, "reviewed"); got != 1 {
		t.Fatalf("usage = %d, want 1", got)
	}
	remaining, err := GetFileEntries(ctx, db, 1, FileFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].ID != fileB {
		t.Fatalf("remaining = %+v", remaining)
	}
}

func TestDeleteFileEntriesByPartition(t *testing.T) {
	ctx := context.Background()
	db := newTestEvidenceDB(t)

	if _, err := UpsertFileEntries(ctx, db, 1, []model.FileEntry{
		{PartitionIndex: 0, FilePath: "/p0/a"},
		{PartitionIndex: 0, FilePath: "/p0/b"},
		{PartitionIndex: 1, FilePath: "/p1/a"},
	}); err != nil {
		t.Fatal(err)
	}

	n, err := DeleteFileEntriesByPartition(ctx, db, 1, 0)
	if err != nil {
		t.Fatalf("DeleteFileEntriesByPartition: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted = %d, want 2", n)
	}
	remaining, err := GetFileEntries(ctx, db, 1, FileFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].PartitionIndex != 1 {
		t.Fatalf("remaining = %+v", remaining)
	}
}
