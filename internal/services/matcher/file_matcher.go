package matcher

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"sort"
	"strings"

	"surfsifter/internal/adapters/rules"
	sqliteadapter "surfsifter/internal/adapters/store/sqlite"
	"surfsifter/internal/domain/model"
)

// MatchFiles 把文件清单逐行与参考名单比对：
// - 先比 md5 / sha256 哈希（大小写不敏感）
// - 再比文件名模式（glob 语法，作用在小写文件名上）
// 同一行可以产生多条命中，按 file_id + match_type 排序返回。
func MatchFiles(loaded *rules.LoadedList, files []model.FileEntry) []model.FileMatch {
	md5Set := hashSet(loaded.List.MD5)
	sha256Set := hashSet(loaded.List.SHA256)

	matches := make([]model.FileMatch, 0)
	for _, f := range files {
		if h := strings.ToLower(strings.TrimSpace(f.MD5)); h != "" {
			if _, ok := md5Set[h]; ok {
				matches = append(matches, model.FileMatch{
					EvidenceID:   f.EvidenceID,
					FileID:       f.ID,
					ListName:     loaded.List.Name,
					MatchType:    "md5",
					MatchedValue: h,
				})
			}
		}
		if h := strings.ToLower(strings.TrimSpace(f.SHA256)); h != "" {
			if _, ok := sha256Set[h]; ok {
				matches = append(matches, model.FileMatch{
					EvidenceID:   f.EvidenceID,
					FileID:       f.ID,
					ListName:     loaded.List.Name,
					MatchType:    "sha256",
					MatchedValue: h,
				})
			}
		}

		name := strings.ToLower(f.Filename)
		for _, pattern := range loaded.List.Patterns {
			if matchPattern(strings.ToLower(pattern), name) {
				matches = append(matches, model.FileMatch{
					EvidenceID:   f.EvidenceID,
					FileID:       f.ID,
					ListName:     loaded.List.Name,
					MatchType:    "pattern",
					MatchedValue: pattern,
				})
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].FileID == matches[j].FileID {
			if matches[i].MatchType == matches[j].MatchType {
				return matches[i].MatchedValue < matches[j].MatchedValue
			}
			return matches[i].MatchType < matches[j].MatchType
		}
		return matches[i].FileID < matches[j].FileID
	})
	return matches
}

// matchPattern 优先按 glob 匹配；模式里没有通配符时退化为子串匹配。
func matchPattern(pattern, name string) bool {
	if strings.ContainsAny(pattern, "*?[") {
		ok, err := path.Match(pattern, name)
		return err == nil && ok
	}
	return strings.Contains(name, pattern)
}

// MatchAndStore 读取证据的文件清单、执行比对并把命中写回 file_list_matches。
// runID 随命中行留痕，名单文件哈希由调用方自行记录。
func MatchAndStore(ctx context.Context, db *sql.DB, evidenceID int64, loaded *rules.LoadedList, runID string) (int64, error) {
	files, err := sqliteadapter.GetFileEntries(ctx, db, evidenceID, sqliteadapter.FileFilter{})
	if err != nil {
		return 0, fmt.Errorf("load file entries: %w", err)
	}

	matches := MatchFiles(loaded, files)
	for i := range matches {
		matches[i].RunID = runID
	}
	n, err := sqliteadapter.InsertFileMatches(ctx, db, evidenceID, matches)
	if err != nil {
		return 0, fmt.Errorf("store file matches: %w", err)
	}
	return n, nil
}

func hashSet(hashes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}
