package model

import "strings"

// Tag 是证据内的标签。UsageCount 由触发器维护，
// 恒等于 tag_associations 中引用该标签的行数。
type Tag struct {
	ID             int64
	EvidenceID     int64
	Name           string
	NameNormalized string
	CreatedBy      string
	CreatedAtUTC   string
	UsageCount     int64
}

// TagAssociation 把标签关联到任意类型的工件。
// (artifact_type, artifact_id) 是多态指针，库层不做外键约束，
// 删除工件时由应用侧级联清理。
type TagAssociation struct {
	ID           int64
	TagID        int64
	EvidenceID   int64
	ArtifactType string
	ArtifactID   int64
	TaggedBy     string
	TaggedAtUTC  string
}

// NormalizeTagName 是标签唯一性比较用的归一化形式。
func NormalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// 可打标签的工件类型。与各工件表一一对应。
const (
	ArtifactURL         = "url"
	ArtifactHistory     = "browser_history"
	ArtifactCookie      = "cookie"
	ArtifactDownload    = "browser_download"
	ArtifactBookmark    = "bookmark"
	ArtifactImage       = "image"
	ArtifactFileList    = "file_list"
	ArtifactOSIndicator = "os_indicator"
)
