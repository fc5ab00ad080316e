package ai

import "unicode/utf8"

// SanitizeSurrogates removes unpaired UTF-16 surrogate halves from s.
// Providers reject request bodies containing lone surrogates, so every
// outbound string passes through here during the pre-flight transform.
//
// In Go a lone surrogate shows up either as an invalid UTF-8 byte (from a
// decoded \uD800-style escape) or as a raw code point in the surrogate
// range smuggled in via WTF-8. Both forms are dropped; well-formed text is
// returned unchanged.
func SanitizeSurrogates(s string) string {
	clean := true
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if (r == utf8.RuneError && size == 1) || isSurrogate(r) {
			clean = false
			break
		}
		i += size
	}
	if clean {
		return s
	}

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if (r == utf8.RuneError && size == 1) || isSurrogate(r) {
			i += size
			continue
		}
		out = append(out, s[i:i+size]...)
		i += size
	}
	return string(out)
}

func isSurrogate(r rune) bool {
	return r >= 0xD800 && r <= 0xDFFF
}
