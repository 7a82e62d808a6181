package app

import "path/filepath"

// Config 存放应用级路径配置。
// 启动时构造一次，显式传给需要的组件，不做进程级单例。
type Config struct {
	// CaseFolder 是案件工作区目录（案件库、evidences/、logs/ 都在其下）。
	CaseFolder string
	// CaseDBPath 为空时按 {case_id}_surfsifter.sqlite 约定在 CaseFolder 内推导。
	CaseDBPath string
	// EnableSplit 控制每份证据是否使用独立数据库文件。
	EnableSplit bool
	// TimelineConfigPath 指向时间线融合的 YAML 配置，缺省时用内置默认。
	TimelineConfigPath string
}

// DefaultConfig 返回指定案件目录下的默认配置。
func DefaultConfig(caseFolder string) Config {
	return Config{
		CaseFolder:         caseFolder,
		EnableSplit:        true,
		TimelineConfigPath: filepath.Join(caseFolder, "timeline.yaml"),
	}
}
