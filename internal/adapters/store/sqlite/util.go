package sqlite

// SQLite 中没有布尔类型，统一转 0/1 存储。
func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// 空字符串按 NULL 写入，避免无意义空值污染查询条件。
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// 零值数字按 NULL 写入，语义同 nullIfEmpty。
func nullIfZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
