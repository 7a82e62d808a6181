package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReferenceList 是一份参考名单：已知文件哈希加上文件名模式。
// 命中结果写入 file_list_matches 时以 name 作为 list_name 留痕。
type ReferenceList struct {
	Version  string   `yaml:"version"`
	Name     string   `yaml:"name"`
	MD5      []string `yaml:"md5"`
	SHA256   []string `yaml:"sha256"`
	Patterns []string `yaml:"patterns"`
}

// LoadedList 是加载后的名单和其文件哈希，用于留痕与版本确认。
type LoadedList struct {
	List   ReferenceList
	SHA256 string
}

// Loader 负责从磁盘读取并校验参考名单文件。
type Loader struct {
	File string
}

func NewLoader(file string) *Loader {
	return &Loader{File: file}
}

// Load 读取名单并执行基础结构校验。
func (l *Loader) Load(ctx context.Context) (*LoadedList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(l.File)
	if err != nil {
		return nil, fmt.Errorf("read reference list: %w", err)
	}

	var list ReferenceList
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse reference list: %w", err)
	}
	if err := validateList(list); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(raw)
	return &LoadedList{
		List:   list,
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

// validateList 检查名单的完整性：至少要有一种可触发匹配的条件。
func validateList(list ReferenceList) error {
	if strings.TrimSpace(list.Version) == "" {
		return errors.New("reference list: version is required")
	}
	if strings.TrimSpace(list.Name) == "" {
		return errors.New("reference list: name is required")
	}
	if len(list.MD5) == 0 && len(list.SHA256) == 0 && len(list.Patterns) == 0 {
		return errors.New("reference list: no md5, sha256 or patterns entries")
	}

	for _, h := range list.MD5 {
		h = strings.TrimSpace(h)
		if len(h) != 32 || !isHex(h) {
			return fmt.Errorf("reference list: invalid md5 entry: %s", h)
		}
	}
	for _, h := range list.SHA256 {
		h = strings.TrimSpace(h)
		if len(h) != 64 || !isHex(h) {
			return fmt.Errorf("reference list: invalid sha256 entry: %s", h)
		}
	}
	for _, p := range list.Patterns {
		if strings.TrimSpace(p) == "" {
			return errors.New("reference list: empty pattern entry")
		}
	}
	return nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}
