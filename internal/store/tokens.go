package store

import "strings"

// maxTokenKeyLen 注册表键的最大长度
const maxTokenKeyLen = 64

// TokenKey 将 token 转换为注册表键：只保留 [A-Za-z0-9_-]，其余替换为 '_'，截断到 64 个字符
// 不同 token 截断后可能相同，后注册的覆盖先注册的。
func TokenKey(token string) string {
	var b strings.Builder
	b.Grow(maxTokenKeyLen)
	for _, r := range token {
		if b.Len() >= maxTokenKeyLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
