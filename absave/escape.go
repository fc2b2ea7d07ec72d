package absave

import "strings"

// needsEscape reports whether b must be prefixed with a backslash in
// literal text.
func needsEscape(b byte) bool {
	return isControl(b) || b == escapeByte
}

// Escape returns s with every control byte and backslash prefixed by a
// backslash.
func Escape(s string) string {
	clean := true
	for i := 0; i < len(s); i++ {
		if needsEscape(s[i]) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}
	return string(AppendEscaped(make([]byte, 0, len(s)+4), s))
}

// AppendEscaped appends the escaped form of s to dst.
func AppendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsEscape(c) {
			dst = append(dst, escapeByte)
		}
		dst = append(dst, c)
	}
	return dst
}

// Unescape removes escape prefixes: a backslash followed by any byte
// yields that byte. A dangling backslash at the end is kept.
func Unescape(s string) string {
	i := strings.IndexByte(s, escapeByte)
	if i < 0 {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	sb.WriteString(s[:i])
	for ; i < len(s); i++ {
		c := s[i]
		if c == escapeByte && i+1 < len(s) {
			i++
			c = s[i]
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
