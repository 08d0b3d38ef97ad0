// Package json recovers JSON objects from free-form model output.
//
// Models asked for structured output routinely wrap it in prose or
// markdown fences. Decode pulls the first complete object out of such
// text so callers never parse the surrounding commentary themselves.
package json

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode extracts a JSON object from text and unmarshals it into T.
// The text may be pure JSON, a fenced ```json block, or prose with an
// object embedded in it. Arrays at the top level are not supported.
func Decode[T any](text string) (T, error) {
	var out T
	raw, err := Extract(text)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("unmarshal extracted JSON: %w", err)
	}
	return out, nil
}

// Extract returns the raw JSON object contained in text.
func Extract(text string) (string, error) {
	candidate := unfence(text)

	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	if obj, ok := scanObject(candidate); ok {
		return obj, nil
	}

	preview := text
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("no JSON object in response: %q", preview)
}

// unfence strips a surrounding markdown code fence, with or without a
// language tag.
func unfence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && !strings.ContainsAny(s[:idx], "{}") {
		// Drop the language tag line (```json etc).
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// scanObject finds the first balanced top-level object in text.
func scanObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	return ObjectAt(text, start)
}

// ObjectAt returns the balanced JSON object beginning at start, which
// must point at a '{'. The scan tracks string literals so braces
// inside values don't confuse the depth count; the result is only
// returned when it parses as valid JSON.
func ObjectAt(text string, start int) (string, bool) {
	if start < 0 || start >= len(text) || text[start] != '{' {
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
				obj := text[start : i+1]
				if json.Valid([]byte(obj)) {
					return obj, true
				}
				return "", false
			}
		}
	}
	return "", false
}
