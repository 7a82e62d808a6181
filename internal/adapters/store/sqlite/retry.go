package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"
)

// 瞬时锁冲突的有限重试预算。busy_timeout 已经在连接层等锁，
// 这里只兜底 WAL 下偶发的 SQLITE_BUSY/SQLITE_LOCKED；
// 超出预算的锁冲突原样抛给调用方做用户可见的报告。
const (
	busyRetryAttempts = 5
	busyRetryDelay    = 50 * time.Millisecond
)

// retryBusy 执行 fn，仅在锁冲突错误时退避重试。
func retryBusy(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-time.After(busyRetryDelay << attempt):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		// SQLITE_BUSY=5 / SQLITE_LOCKED=6，含扩展码。
		code := serr.Code() & 0xff
		return code == 5 || code == 6
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
