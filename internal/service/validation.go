package service

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"ollama-chat-go/internal/model"
)

var (
	dangerousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)data:text/html`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
	}
	conversationIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailPattern          = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidateText 去掉首尾空白与 NUL 字符后检查长度与脚本注入模式，返回清洗后的文本。
func ValidateText(field, text string, maxLength int) (string, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), "\x00", "")
	if cleaned == "" {
		return "", invalid(field, "empty")
	}
	if maxLength > 0 && utf8.RuneCountInString(cleaned) > maxLength {
		return "", invalid(field, "too long")
	}
	for _, p := range dangerousPatterns {
		if p.MatchString(cleaned) {
			return "", invalid(field, "disallowed content")
		}
	}
	return cleaned, nil
}

// ValidConversationID 判断对话 ID 是否只包含字母、数字、下划线与连字符。
func ValidConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

// NormalizeConversationID 对不合法的对话 ID 回退到哨兵值。
func NormalizeConversationID(id string) string {
	if !ValidConversationID(id) {
		return model.DefaultConversationID
	}
	return id
}

// ModelPolicy 描述模型白名单与默认模型。
type ModelPolicy struct {
	Default string
	Allowed []string
}

// Allows 判断模型名是否在白名单中。
func (p ModelPolicy) Allows(name string) bool {
	for _, m := range p.Allowed {
		if m == name {
			return true
		}
	}
	return false
}

// Normalize 对不在白名单中的模型回退到默认模型。
func (p ModelPolicy) Normalize(name string) string {
	if p.Allows(name) {
		return name
	}
	return p.Default
}

// ValidEmail 判断邮箱格式是否合法。
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}
