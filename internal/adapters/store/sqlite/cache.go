package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// ConnCache 按 (会话, 数据库路径) 缓存连接。
// 会话是“线程本地连接”的显式化：每个工作协程持有一个 Session，
// 同一会话对同一路径的重复请求复用同一个连接，
// 不同会话永远拿到彼此独立的连接对象。
// 缓存本身是证据访问路径上唯一的跨协程共享可变状态，内部用互斥锁保护。
type ConnCache struct {
	mu      sync.Mutex
	conns   map[connKey]*sql.DB
	nextSID atomic.Int64
}

type connKey struct {
	session int64
	path    string
}

func NewConnCache() *ConnCache {
	return &ConnCache{conns: make(map[connKey]*sql.DB)}
}

// Session 代表一个工作协程对一组连接的独占租约。
// 协程结束时必须调用 Close，只会清理属于自己的缓存项。
type Session struct {
	id    int64
	cache *ConnCache
}

func (c *ConnCache) NewSession() *Session {
	return &Session{id: c.nextSID.Add(1), cache: c}
}

// Close 关闭并逐出当前会话的全部缓存连接，其他会话不受影响。
func (s *Session) Close() error {
	return s.cache.closeSession(s.id)
}

// acquire 返回 (session, path) 对应的缓存连接；缺失时调用 open 创建。
// open 在锁外执行，避免一条慢打开阻塞所有会话；
// 回填前二次检查，竞争失败方关闭自己新开的连接。
func (c *ConnCache) acquire(session int64, path string, open func() (*sql.DB, error)) (*sql.DB, error) {
	key := connKey{session: session, path: path}

	c.mu.Lock()
	if db, ok := c.conns[key]; ok {
		c.mu.Unlock()
		return db, nil
	}
	c.mu.Unlock()

	db, err := open()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.conns[key]; ok {
		_ = db.Close()
		return cached, nil
	}
	c.conns[key] = db
	return db, nil
}

func (c *ConnCache) closeSession(session int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, db := range c.conns {
		if key.session != session {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close connection %s: %w", key.path, err)
		}
		delete(c.conns, key)
	}
	return firstErr
}

// CloseAll 关闭所有会话的所有连接，用于管理器整体停机。
func (c *ConnCache) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, db := range c.conns {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close connection %s: %w", key.path, err)
		}
		delete(c.conns, key)
	}
	return firstErr
}

// Len 返回当前缓存的 (会话, 路径) 条目数。
func (c *ConnCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// openDB 打开单连接池并应用统一 pragma。
// SetMaxOpenConns(1) 保证一个缓存项只对应一条实际 SQLite 连接，
// 这样 pragma 和事务语义都落在同一条连接上。
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s on %s: %w", p, path, err)
		}
	}
	return db, nil
}
