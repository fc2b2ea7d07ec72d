package absave

import (
	"fmt"
	"strconv"
)

// ============================================================
// Document Header
// ============================================================
//
// Header format:
//   <marker>[version digits] 0x01
//
// Markers:
//   U  unnamed + typed
//   N  named   + typed
//   V  unnamed + untyped
//   M  named   + untyped

// Header describes a document's mode.
type Header struct {
	Style      Style // StyleUnnamed or StyleNamed
	Typed      bool
	HasVersion bool
	Version    int
}

// Marker returns the header marker character.
func (h Header) Marker() byte {
	switch {
	case h.Typed && h.Style == StyleNamed:
		return 'N'
	case h.Typed:
		return 'U'
	case h.Style == StyleNamed:
		return 'M'
	default:
		return 'V'
	}
}

// AppendHeader appends the header including its terminating separator.
func AppendHeader(dst []byte, h Header) []byte {
	dst = append(dst, h.Marker())
	if h.HasVersion {
		dst = strconv.AppendInt(dst, int64(h.Version), 10)
	}
	return append(dst, NextItem)
}

// ParseHeader parses the header text that precedes the first separator.
// The marker is accepted in either case.
func ParseHeader(text string) (Header, error) {
	var h Header
	if text == "" {
		return h, fmt.Errorf("empty header")
	}

	switch text[0] {
	case 'U', 'u':
		h.Typed = true
	case 'N', 'n':
		h.Typed, h.Style = true, StyleNamed
	case 'V', 'v':
	case 'M', 'm':
		h.Style = StyleNamed
	default:
		return h, fmt.Errorf("unknown header marker %q", text[0])
	}

	if digits := text[1:]; digits != "" {
		for i := 0; i < len(digits); i++ {
			if digits[i] < '0' || digits[i] > '9' {
				return h, fmt.Errorf("invalid header version %q", digits)
			}
		}
		v, err := strconv.Atoi(digits)
		if err != nil {
			return h, fmt.Errorf("invalid header version %q: %w", digits, err)
		}
		h.HasVersion, h.Version = true, v
	}
	return h, nil
}
