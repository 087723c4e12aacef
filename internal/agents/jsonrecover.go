// Package agents implements the four pure workflow nodes over
// research.State: search, synthesis, validation, human review.
package agents

import "strings"

// extractJSONObject recovers the first balanced top-level {...} substring
// from text, tolerating prose before or after it. Grounded in the
// original implementation's brace-extraction recovery used by both
// search_agent.py and validation_agent.py when the model wraps its JSON
// response in explanatory text.
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
