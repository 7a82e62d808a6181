package model

import "time"

// NowUTC 返回统一格式的 UTC 时间戳字符串。
// 库内所有时间列都按 ISO-8601 TEXT 存储，排序依赖字典序。
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Case 是案件元信息，存在案件库 cases 表。
// 案件一经创建不会被程序删除，元信息可编辑。
type Case struct {
	CaseID       string
	Title        string
	Investigator string
	Notes        string
	CreatedAtUTC string
	UpdatedAtUTC string
}

// Evidence 是案件下的一份证据（通常对应一个磁盘镜像）。
// Label 是证据目录 slug 的来源，入库后不允许为空。
type Evidence struct {
	ID         int64
	CaseID     string
	Label      string
	SourcePath string
	AddedAtUTC string
}
