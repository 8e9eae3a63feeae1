package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameRunes = 80

// SanitizeName 把任意字符串转为安全的文件名片段
//
// 保留字母、数字 (含中文等非ASCII字母)、'-'、'_'、'.',其余替换为 '_',
// 连续的 '_' 合并,首尾的 '.'、'_'、'-' 去掉,最长 80 个字符。
func SanitizeName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		ok := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.'
		if !ok || r == '_' {
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		}
		b.WriteRune(r)
		lastUnderscore = false
	}

	name := strings.Trim(b.String(), "._-")
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = strings.TrimRight(string([]rune(name)[:maxNameRunes]), "._-")
	}
	return name
}

