package code

import (
	"strings"
)

const (
	// LangEN English
	LangEN = "en"
	// LangZH 简体中文
	LangZH = "zh_cn"
	// FallbackLang is used when a request names no language or an unknown one
	// FallbackLang 请求未指定语言或语言未知时使用
	FallbackLang = LangEN
)

// lang holds one message per supported language
// lang 存储每种支持语言的消息
type lang struct {
	en    string
	zh_cn string
}

// In returns the message in language, empty translations fall back to English
// In 返回指定语言的消息，缺失时回退到英文
func (l lang) In(language string) string {
	if NormalizeLang(language) == LangZH && l.zh_cn != "" {
		return l.zh_cn
	}
	return l.en
}

// NormalizeLang maps header values such as "zh-CN", "zh_Hans" or "en-US" to a supported language
// NormalizeLang 将请求中的语言标识归一为支持的语言
func NormalizeLang(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_")))
	if s == "" {
		return FallbackLang
	}
	// Accept-Language 取第一项
	if i := strings.IndexAny(s, ",;"); i >= 0 {
		s = s[:i]
	}
	if strings.HasPrefix(s, "zh") {
		return LangZH
	}
	return FallbackLang
}

// SupportedLanguages 返回支持的语言
func SupportedLanguages() []string {
	return []string{LangEN, LangZH}
}
