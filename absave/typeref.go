package absave

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ============================================================
// Type Descriptors
// ============================================================
//
// TypeRef text:
//
//	Name,Module                                  default identity
//	Name,Module,<version words>,Locale,<token>   otherwise
//
// Version words are packed numbers, one per component, with trailing zero
// components omitted. The public-key token is written as raw bytes. Commas
// inside [] (generic instantiations) belong to the name.

// TypeDescriptor identifies a type on the wire.
type TypeDescriptor struct {
	Name           string    // Fully-qualified type name
	Module         string    // Defining module (package path)
	Version        [4]uint32 // Up to four components; zero means absent
	Locale         string
	PublicKeyToken []byte
}

// IsDefault reports whether only Name and Module are set.
func (d TypeDescriptor) IsDefault() bool {
	return d.Version == [4]uint32{} && d.Locale == "" && len(d.PublicKeyToken) == 0
}

// Key returns the lookup key used by registries.
func (d TypeDescriptor) Key() string {
	return d.Name + "," + d.Module
}

// String returns a human-readable form, e.g. "pkg.Point,example.com/pkg v1.2".
func (d TypeDescriptor) String() string {
	s := d.Key()
	if n := d.versionLen(); n > 0 {
		s += " v"
		for i := 0; i < n; i++ {
			if i > 0 {
				s += "."
			}
			s += fmt.Sprint(d.Version[i])
		}
	}
	if d.Locale != "" {
		s += " " + d.Locale
	}
	if len(d.PublicKeyToken) > 0 {
		s += fmt.Sprintf(" %x", d.PublicKeyToken)
	}
	return s
}

func (d TypeDescriptor) versionLen() int {
	n := len(d.Version)
	for n > 0 && d.Version[n-1] == 0 {
		n--
	}
	return n
}

// AppendTypeRef appends the unescaped TypeRef text of d.
func AppendTypeRef(dst []byte, d TypeDescriptor) []byte {
	dst = append(dst, d.Name...)
	dst = append(dst, ',')
	dst = append(dst, d.Module...)
	if d.IsDefault() {
		return dst
	}
	dst = append(dst, ',')
	for i := 0; i < d.versionLen(); i++ {
		dst = AppendUint(dst, uint64(d.Version[i]), 4)
	}
	dst = append(dst, ',')
	dst = append(dst, d.Locale...)
	dst = append(dst, ',')
	return append(dst, d.PublicKeyToken...)
}

// FormatTypeRef returns the unescaped TypeRef text of d.
func FormatTypeRef(d TypeDescriptor) string {
	return string(AppendTypeRef(nil, d))
}

// ParseTypeRef parses unescaped TypeRef text.
func ParseTypeRef(text string) (TypeDescriptor, error) {
	var d TypeDescriptor
	b := []byte(text)

	// Name: up to the first comma outside brackets.
	depth, i := 0, 0
	for ; i < len(b); i++ {
		switch b[i] {
		case '[':
			depth++
		case ']':
			depth--
		}
		if b[i] == ',' && depth == 0 {
			break
		}
	}
	if i == 0 {
		return d, fmt.Errorf("typeref %q: empty name", text)
	}
	if depth != 0 {
		return d, fmt.Errorf("typeref %q: unbalanced brackets", text)
	}
	d.Name = string(b[:i])
	if i == len(b) {
		return d, nil
	}
	b = b[i+1:]

	// Module.
	j := bytes.IndexByte(b, ',')
	if j < 0 {
		d.Module = string(b)
		return d, nil
	}
	d.Module = string(b[:j])
	b = b[j+1:]

	// Version words until the next comma. Packed numbers never begin with
	// a comma, so the first comma at a word boundary ends the list.
	for n := 0; len(b) > 0 && b[0] != ','; n++ {
		if n == len(d.Version) {
			return d, fmt.Errorf("typeref %q: more than %d version components", text, len(d.Version))
		}
		le, used, err := ReadNumber(b)
		if err != nil {
			return d, fmt.Errorf("typeref %q: version: %w", text, err)
		}
		u, err := widen(le, 4)
		if err != nil {
			return d, fmt.Errorf("typeref %q: version: %w", text, err)
		}
		d.Version[n] = uint32(u)
		b = b[used:]
	}
	if len(b) == 0 {
		return d, fmt.Errorf("typeref %q: missing locale", text)
	}
	b = b[1:]

	// Locale, then the raw token.
	j = bytes.IndexByte(b, ',')
	if j < 0 {
		return d, fmt.Errorf("typeref %q: missing public key token", text)
	}
	d.Locale = string(b[:j])
	if tok := b[j+1:]; len(tok) > 0 {
		d.PublicKeyToken = append([]byte(nil), tok...)
	}
	return d, nil
}

// ============================================================
// Cache Key Bytes
// ============================================================

const cacheKeyLen = 2

func appendCacheKey(dst []byte, key uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, key)
}

func parseCacheKey(b string) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
