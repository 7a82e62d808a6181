package phash

import (
	"math/bits"
	"strconv"
	"strings"
)

// PrefixBits 是存入 phash_prefix 列的位数。
// 只是查询加速用的粗筛键，不影响相似判定的正确性。
const PrefixBits = 16

// Prefix 取 64 位感知哈希（16 位十六进制字符串）的前 16 bit。
// 返回 (0, false) 表示输入不可解析，调用方应写入 NULL。
func Prefix(hexHash string) (int64, bool) {
	v, ok := parse(hexHash)
	if !ok {
		return 0, false
	}
	return int64(v >> (64 - PrefixBits)), true
}

// Distance 计算两个感知哈希的汉明距离。
// 任一输入不可解析时返回 (0, false)。
func Distance(a, b string) (int, bool) {
	va, ok := parse(a)
	if !ok {
		return 0, false
	}
	vb, ok := parse(b)
	if !ok {
		return 0, false
	}
	return bits.OnesCount64(va ^ vb), true
}

func parse(hexHash string) (uint64, bool) {
	s := strings.TrimSpace(strings.ToLower(hexHash))
	if len(s) != 16 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
