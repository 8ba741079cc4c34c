package local

import (
	"regexp"
	"strings"
)

var (
	// Matches a complete <think>...</think> block, including newlines.
	thinkBlockRegex = regexp.MustCompile(`(?is)<think>.*?</think>`)
	// An unterminated <think> swallows the rest of the reply.
	openThinkRegex = regexp.MustCompile(`(?is)<think>.*`)
	reasoningRegex = regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`)
	// Three or more newlines, possibly separated by whitespace.
	multiNewlineRegex = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// cleanReply strips model reasoning tags from a reply and tidies blank lines.
// Local models such as qwen3 emit <think> blocks that must not reach the chat.
func cleanReply(reply string) string {
	cleaned := thinkBlockRegex.ReplaceAllString(reply, "")
	cleaned = openThinkRegex.ReplaceAllString(cleaned, "")
	cleaned = reasoningRegex.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	return multiNewlineRegex.ReplaceAllString(cleaned, "\n\n")
}

// truncate shortens text for log fields.
func truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
