// Package partialjson parses prefixes of streamed JSON values.
//
// Tool-call arguments arrive from providers as incremental fragments of a
// JSON object. At every delta the accumulated fragment is usually not yet
// valid JSON; Parse returns the most complete parse possible by closing the
// innermost unterminated string, array, or object. On unrecoverable input
// it returns the empty object. The result is deterministic for any input.
package partialjson

import (
	"encoding/json"
	"strings"
)

// ParseObject parses a (possibly incomplete) JSON object fragment and
// returns the best-effort map. Never returns nil.
func ParseObject(fragment string) map[string]any {
	v := Parse(fragment)
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Parse parses a (possibly incomplete) JSON value fragment. If the fragment
// is already valid JSON, the parsed value is returned as-is. Otherwise the
// longest prefix that can be completed into valid JSON is used; if no prefix
// works, the empty object is returned.
func Parse(fragment string) any {
	s := strings.TrimSpace(fragment)
	if s == "" {
		return map[string]any{}
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}

	// Work backwards: close the prefix s[:i] and try to parse it. Dangling
	// tokens (a lone key, a trailing colon or comma) make the full-length
	// completion invalid, so shorter prefixes are tried until one parses.
	for i := len(s); i > 0; i-- {
		candidate := complete(s[:i])
		if candidate == "" {
			continue
		}
		if err := json.Unmarshal([]byte(candidate), &v); err == nil {
			return v
		}
	}
	return map[string]any{}
}

// complete closes the open string and every open container of prefix.
// Returns "" when the prefix ends inside an escape sequence (closing it
// would change the meaning of the escape).
func complete(prefix string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if escaped {
		return ""
	}

	var b strings.Builder
	b.WriteString(prefix)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}
