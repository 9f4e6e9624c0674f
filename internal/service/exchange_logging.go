package service

import (
	"log"
	"strings"
	"unicode/utf8"
)

const maxLogSnippetRunes = 1024

// logExchange 输出与外部协作方（识别模型、渲染服务）往来的关键内容，方便排查。
func logExchange(kind, phase, content string) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		log.Printf("[%s] %s: <empty>", kind, phase)
		return
	}

	runeCount := utf8.RuneCountInString(trimmed)
	snippet := trimmed
	if runeCount > maxLogSnippetRunes {
		snippet = string([]rune(trimmed)[:maxLogSnippetRunes]) + "…(truncated)"
	}
	log.Printf("[%s] %s (runes=%d): %s", kind, phase, runeCount, snippet)
}
