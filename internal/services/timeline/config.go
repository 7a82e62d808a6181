package timeline

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"surfsifter/internal/domain/model"
	"surfsifter/internal/platform/hash"

	"gopkg.in/yaml.v3"
)

// 时间线可用的事件来源。键同时是配置文件里的节名。
const (
	SourceHistory    = "browser_history"
	SourceDownloads  = "browser_downloads"
	SourceCookies    = "cookies"
	SourceBookmarks  = "bookmarks"
	SourceURLs       = "urls"
	SourceImages     = "images"
	SourceFileList   = "file_list"
	SourceIndicators = "os_indicators"
)

// SourceConfig 是单个来源的融合配置。
// Enabled 用指针区分“显式关闭”和“没写”，没写的字段落默认值。
type SourceConfig struct {
	Enabled    *bool  `yaml:"enabled"`
	Kind       string `yaml:"kind"`
	Confidence string `yaml:"confidence"`
}

// Config 控制时间线重建时各来源的取舍与置信度档位。
type Config struct {
	Version int                     `yaml:"version"`
	Sources map[string]SourceConfig `yaml:"sources"`
}

// 每个来源的出厂默认：事件类型与时间戳质量决定的置信度。
// 用户主动动作留下的时间（下载、加书签）最可信；
// 从文件系统或间接痕迹捞出来的时间戳档位相应压低。
// os_indicators 行自带 confidence 列，行级值优先于这里的默认档。
var defaultSources = map[string]SourceConfig{
	SourceHistory:    {Kind: "web_visit", Confidence: model.ConfidenceMedium},
	SourceDownloads:  {Kind: "download", Confidence: model.ConfidenceHigh},
	SourceCookies:    {Kind: "cookie_created", Confidence: model.ConfidenceMedium},
	SourceBookmarks:  {Kind: "bookmark_added", Confidence: model.ConfidenceHigh},
	SourceURLs:       {Kind: "url_seen", Confidence: model.ConfidenceMedium},
	SourceImages:     {Kind: "image_timestamp", Confidence: model.ConfidenceMedium},
	SourceFileList:   {Kind: "file_activity", Confidence: model.ConfidenceLow},
	SourceIndicators: {Kind: "os_artifact", Confidence: model.ConfidenceLow},
}

// DefaultConfig 返回全来源启用的默认配置。
func DefaultConfig() *Config {
	sources := make(map[string]SourceConfig, len(defaultSources))
	for name, sc := range defaultSources {
		enabled := true
		sc.Enabled = &enabled
		sources[name] = sc
	}
	return &Config{Version: 1, Sources: sources}
}

// LoadConfig 从 YAML 文件读取配置并叠加在默认值上。
// path 为空时直接用默认配置。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read timeline config: %w", err)
	}
	var loaded Config
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("parse timeline config: %w", err)
	}
	if err := validate(&loaded); err != nil {
		return nil, err
	}

	for name, sc := range loaded.Sources {
		merged := cfg.Sources[name]
		if sc.Enabled != nil {
			merged.Enabled = sc.Enabled
		}
		if strings.TrimSpace(sc.Kind) != "" {
			merged.Kind = sc.Kind
		}
		if strings.TrimSpace(sc.Confidence) != "" {
			merged.Confidence = sc.Confidence
		}
		cfg.Sources[name] = merged
	}
	return cfg, nil
}

// validate 检查来源名与置信度档位的合法性。
func validate(cfg *Config) error {
	for name, sc := range cfg.Sources {
		if _, ok := defaultSources[name]; !ok {
			return fmt.Errorf("timeline config: unknown source: %s", name)
		}
		switch strings.TrimSpace(sc.Confidence) {
		case "", model.ConfidenceHigh, model.ConfidenceMedium, model.ConfidenceLow:
		default:
			return fmt.Errorf("timeline config: invalid confidence %q for source %s", sc.Confidence, name)
		}
	}
	return nil
}

// Fingerprint 返回生效配置的 SHA-256 指纹，来源按名字排序后逐项拼接。
// 两次重建指纹相同即可断定融合参数没变，用于运行留痕。
func (c *Config) Fingerprint() string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names)+1)
	parts = append(parts, fmt.Sprintf("version=%d", c.Version))
	for _, name := range names {
		sc := c.Sources[name]
		enabled := sc.Enabled != nil && *sc.Enabled
		parts = append(parts, fmt.Sprintf("%s=%t:%s:%s", name, enabled, sc.Kind, sc.Confidence))
	}
	return hash.Text(parts...)
}

// enabled 报告某来源在配置下是否参与重建。
func (c *Config) enabled(name string) bool {
	sc, ok := c.Sources[name]
	if !ok || sc.Enabled == nil {
		return false
	}
	return *sc.Enabled
}

// source 返回某来源合并后的配置。
func (c *Config) source(name string) SourceConfig {
	if sc, ok := c.Sources[name]; ok {
		return sc
	}
	return defaultSources[name]
}
