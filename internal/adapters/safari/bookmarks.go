// Package safari 解析 macOS Safari 的数据文件，目前覆盖 Bookmarks.plist。
package safari

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"

	"surfsifter/internal/adapters/store/sqlite"
	"surfsifter/internal/domain/model"

	"howett.net/plist"
)

// Safari 书签树的节点类型。
const (
	nodeTypeList = "WebBookmarkTypeList"
	nodeTypeLeaf = "WebBookmarkTypeLeaf"
)

// bookmarkNode 对应 Bookmarks.plist 的一个树节点。
// plist 可能是 XML 也可能是二进制格式；howett.net/plist 两者都支持。
type bookmarkNode struct {
	WebBookmarkType string            `plist:"WebBookmarkType"`
	Title           string            `plist:"Title"`
	URLString       string            `plist:"URLString"`
	URIDictionary   map[string]string `plist:"URIDictionary"`
	Children        []bookmarkNode    `plist:"Children"`
}

// ParseBookmarks 把 Bookmarks.plist 的原始字节解析成书签记录。
// 目录层级折叠进 FolderPath（"/" 分隔）；没有 URL 的节点跳过。
func ParseBookmarks(raw []byte) ([]model.BookmarkRecord, error) {
	var root bookmarkNode
	if _, err := plist.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse bookmarks plist: %w", err)
	}

	out := []model.BookmarkRecord{}
	walkBookmarks(root, "", &out)
	return out, nil
}

func walkBookmarks(node bookmarkNode, folder string, out *[]model.BookmarkRecord) {
	switch node.WebBookmarkType {
	case nodeTypeLeaf:
		u := strings.TrimSpace(node.URLString)
		if u == "" {
			return
		}
		title := strings.TrimSpace(node.URIDictionary["title"])
		if title == "" {
			title = strings.TrimSpace(node.Title)
		}
		*out = append(*out, model.BookmarkRecord{
			Browser:    "safari",
			URL:        u,
			Title:      title,
			FolderPath: folder,
		})
	case nodeTypeList, "":
		// 根节点没有类型字段，当作目录处理。
		next := folder
		if title := strings.TrimSpace(node.Title); title != "" && title != "com.apple.ReadingList" {
			if next == "" {
				next = title
			} else {
				next = next + "/" + title
			}
		}
		for _, child := range node.Children {
			walkBookmarks(child, next, out)
		}
	}
}

// ImportBookmarksFile 读取 Bookmarks.plist 并入库。
// 书签进 bookmarks 表，其中的地址同时作为 URL 观测进 urls 表，
// 两边都带上本次运行的溯源信息。返回写入的书签数。
func ImportBookmarksFile(ctx context.Context, db *sql.DB, evidenceID int64, path, runID string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read bookmarks file: %w", err)
	}
	records, err := ParseBookmarks(raw)
	if err != nil {
		return 0, err
	}

	urls := make([]model.URLRecord, 0, len(records))
	for i := range records {
		records[i].Provenance = model.Provenance{
			DiscoveredBy: "safari_bookmarks",
			SourcePath:   path,
			RunID:        runID,
		}
		rec := model.URLRecord{
			URL:        records[i].URL,
			Context:    "safari bookmark: " + records[i].Title,
			Provenance: records[i].Provenance,
		}
		if parsed, err := url.Parse(records[i].URL); err == nil {
			rec.Domain = parsed.Hostname()
			rec.Scheme = parsed.Scheme
		}
		urls = append(urls, rec)
	}

	n, err := sqlite.InsertBookmarks(ctx, db, evidenceID, records)
	if err != nil {
		return 0, err
	}
	if _, err := sqlite.InsertURLs(ctx, db, evidenceID, urls); err != nil {
		return 0, err
	}
	return n, nil
}
