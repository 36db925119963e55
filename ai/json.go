package ai

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON object out of a chatty completion: code fences are
// stripped and the text between the first '{' and the last '}' is kept.
// It reports false when no syntactically valid object is found.
func ExtractJSON(text string) (string, bool) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return s, true
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	s = s[start : end+1]
	if !json.Valid([]byte(s)) {
		return "", false
	}
	return s, true
}
