package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New 生成带前缀的简易唯一 ID：
// prefix + 毫秒时间戳 + 随机后缀。
// 这种格式便于日志阅读，也基本满足本地场景下的唯一性。
func New(prefix string) string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// NewRun 生成提取运行（run_id）标识。
// run_id 会写入每一条产出行做溯源关联，要求跨会话稳定且不可猜测，
// 因此用标准 UUID 而不是 New 的可读格式。
func NewRun() string {
	return uuid.NewString()
}
