package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// 案件库文件名约定。旧版 _browser.sqlite 仍可被发现逻辑识别，
// 保证老案件能继续打开。
const (
	CaseDBSuffix       = "_surfsifter.sqlite"
	LegacyCaseDBSuffix = "_browser.sqlite"
)

// ErrNoCaseDatabase 表示案件目录里找不到任何案件库文件。
var ErrNoCaseDatabase = errors.New("no case database found")

var (
	slugInvalidRe = regexp.MustCompile(`[^a-z0-9-]+`)
	slugDupDashRe = regexp.MustCompile(`-+`)
)

// SlugifyLabel 把证据标签转成文件系统安全的 slug。
// slug 是证据目录的持久磁盘身份：标签缺失时拒绝推导而不是猜一个默认值，
// 否则后续任何标签变化都会让已落盘的目录失联。
func SlugifyLabel(label string, evidenceID int64) (string, error) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return "", fmt.Errorf("evidence label is required (evidence_id=%d)", evidenceID)
	}

	slug := strings.ToLower(trimmed)
	slug = strings.ReplaceAll(slug, "_", "-")
	slug = slugInvalidRe.ReplaceAllString(slug, "-")
	slug = slugDupDashRe.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "", fmt.Errorf("evidence label %q resulted in empty slug (evidence_id=%d)", label, evidenceID)
	}

	if slug[0] < 'a' || slug[0] > 'z' {
		slug = "ev-" + slug
	}
	return slug, nil
}

// SyntheticLabel 是证据元数据行缺失时的兜底标签。
// 用固定格式而不是报错，保证已提取的数据永远可达。
func SyntheticLabel(evidenceID int64) string {
	return fmt.Sprintf("EV-%03d", evidenceID)
}

// CaseDBPathFor 按命名约定推导案件库路径。
func CaseDBPathFor(caseFolder, caseID string) string {
	return filepath.Join(caseFolder, caseID+CaseDBSuffix)
}

// FindCaseDatabase 在案件目录里定位案件库文件。
// 优先匹配 *_surfsifter.sqlite，找不到时回退旧版 *_browser.sqlite；
// 两者都不存在返回 ErrNoCaseDatabase。
func FindCaseDatabase(caseFolder string) (string, error) {
	for _, suffix := range []string{CaseDBSuffix, LegacyCaseDBSuffix} {
		matches, err := filepath.Glob(filepath.Join(caseFolder, "*"+suffix))
		if err != nil {
			return "", fmt.Errorf("glob case database: %w", err)
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0], nil
		}
	}
	return "", ErrNoCaseDatabase
}

// ensureCaseStructure 创建案件目录的标准结构，返回 evidences 子目录。
func ensureCaseStructure(caseFolder string) (string, error) {
	evidencesDir := filepath.Join(caseFolder, "evidences")
	if err := os.MkdirAll(evidencesDir, 0o755); err != nil {
		return "", fmt.Errorf("create evidences dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(caseFolder, "logs"), 0o755); err != nil {
		return "", fmt.Errorf("create logs dir: %w", err)
	}
	return evidencesDir, nil
}

// Manager 是获取案件库/证据库连接的唯一入口，
// 封装路径推导、连接缓存和首次打开时的自动迁移。
type Manager struct {
	caseFolder  string
	caseDBPath  string
	enableSplit bool

	cache *ConnCache

	// 进程内每个 (路径, 迁移集) 只迁移一次，避免并发会话重复执行脚本。
	migrateMu sync.Mutex
	migrated  map[string]bool
}

// NewManager 构造管理器并确保案件目录结构存在。
// caseDBPath 必须显式给出并符合 {case_id}_surfsifter.sqlite 约定。
func NewManager(caseFolder, caseDBPath string, enableSplit bool) (*Manager, error) {
	if strings.TrimSpace(caseDBPath) == "" {
		return nil, errors.New("case database path is required")
	}
	absFolder, err := filepath.Abs(caseFolder)
	if err != nil {
		return nil, fmt.Errorf("resolve case folder: %w", err)
	}
	absDB, err := filepath.Abs(caseDBPath)
	if err != nil {
		return nil, fmt.Errorf("resolve case database path: %w", err)
	}
	if _, err := ensureCaseStructure(absFolder); err != nil {
		return nil, err
	}
	return &Manager{
		caseFolder:  absFolder,
		caseDBPath:  absDB,
		enableSplit: enableSplit,
		cache:       NewConnCache(),
		migrated:    make(map[string]bool),
	}, nil
}

// CaseDBPath 返回案件库的绝对路径。
func (m *Manager) CaseDBPath() string { return m.caseDBPath }

// CaseFolder 返回案件工作区目录。
func (m *Manager) CaseFolder() string { return m.caseFolder }

// SplitEnabled 报告证据库是否按证据拆分。
func (m *Manager) SplitEnabled() bool { return m.enableSplit }

// Session 为一个工作协程创建连接租约。
func (m *Manager) Session() *Session { return m.cache.NewSession() }

// CacheLen 暴露缓存条目数，仅用于测试断言。
func (m *Manager) CacheLen() int { return m.cache.Len() }

// CloseAll 关闭全部缓存连接，管理器停机时调用。
func (m *Manager) CloseAll() error { return m.cache.CloseAll() }

// CaseConn 返回案件库连接，首次打开时应用案件 schema 迁移。
func (m *Manager) CaseConn(ctx context.Context, s *Session) (*sql.DB, error) {
	db, err := m.cache.acquire(s.id, m.caseDBPath, func() (*sql.DB, error) {
		return openDB(m.caseDBPath)
	})
	if err != nil {
		return nil, err
	}
	if err := m.migrateOnce(ctx, db, m.caseDBPath, caseMigrationsDir); err != nil {
		return nil, err
	}
	return db, nil
}

// EvidenceConn 返回指定证据的连接。
// 拆分模式关闭时退回案件库连接（此时证据 schema 也迁移进案件库，
// 工件读写继续可用，但事务/锁域随之变成整个案件）。
func (m *Manager) EvidenceConn(ctx context.Context, s *Session, evidenceID int64, label string) (*sql.DB, error) {
	if !m.enableSplit {
		db, err := m.CaseConn(ctx, s)
		if err != nil {
			return nil, err
		}
		if err := m.migrateOnce(ctx, db, m.caseDBPath, evidenceMigrationsDir); err != nil {
			return nil, err
		}
		return db, nil
	}

	dbPath, err := m.EvidenceDBPath(evidenceID, label, true)
	if err != nil {
		return nil, err
	}
	db, err := m.cache.acquire(s.id, dbPath, func() (*sql.DB, error) {
		return openDB(dbPath)
	})
	if err != nil {
		return nil, err
	}
	if err := m.migrateOnce(ctx, db, dbPath, evidenceMigrationsDir); err != nil {
		return nil, err
	}
	return db, nil
}

// EvidenceDBPath 推导证据库的磁盘路径。
// createDirs=false 时没有任何 I/O 副作用，供只想探测路径的调用方使用。
func (m *Manager) EvidenceDBPath(evidenceID int64, label string, createDirs bool) (string, error) {
	slug, err := SlugifyLabel(label, evidenceID)
	if err != nil {
		return "", err
	}
	evidenceDir := filepath.Join(m.caseFolder, "evidences", slug)
	if createDirs {
		if err := os.MkdirAll(evidenceDir, 0o755); err != nil {
			return "", fmt.Errorf("create evidence dir %s: %w", evidenceDir, err)
		}
	}
	return filepath.Join(evidenceDir, "evidence_"+slug+".sqlite"), nil
}

// EvidenceDBExists 检查证据库文件是否已存在，且不会触发任何创建。
// 必须在 EvidenceConn 之前调用才有意义：EvidenceConn 总是会把库建出来。
func (m *Manager) EvidenceDBExists(evidenceID int64, label string) (bool, error) {
	dbPath, err := m.EvidenceDBPath(evidenceID, label, false)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat evidence db: %w", err)
	}
	return true, nil
}

func (m *Manager) migrateOnce(ctx context.Context, db *sql.DB, path, dir string) error {
	key := path + "|" + dir
	m.migrateMu.Lock()
	defer m.migrateMu.Unlock()
	if m.migrated[key] {
		return nil
	}

	mig := &Migrator{db: db, fsys: migrationFS, dir: dir}
	if err := retryBusy(ctx, func() error { return mig.Up(ctx) }); err != nil {
		return fmt.Errorf("migrate %s: %w", path, err)
	}
	m.migrated[key] = true
	return nil
}
