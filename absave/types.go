package absave

import (
	"fmt"
	"log/slog"
)

// ============================================================
// Control Bytes
// ============================================================

// Structural control bytes. Their values are fixed by the wire format.
const (
	NextItem        byte = 0x01
	Null            byte = 0x02
	StartObject     byte = 0x03
	StartArray      byte = 0x04
	ExitLevel       byte = 0x05
	StartDictionary byte = 0x06

	escapeByte byte = '\\'
)

// isControl reports whether b is one of the six structural bytes.
func isControl(b byte) bool {
	return b >= NextItem && b <= StartDictionary
}

// ============================================================
// Value Categories
// ============================================================

// Category is the closed set of value classes the format distinguishes.
type Category uint8

const (
	CategoryNull Category = iota
	CategoryString
	CategoryNumber
	CategoryBoolean
	CategoryDateTime
	CategoryTypeRef
	CategoryArray
	CategoryDictionary
	CategoryObject
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryNull:
		return "null"
	case CategoryString:
		return "string"
	case CategoryNumber:
		return "number"
	case CategoryBoolean:
		return "boolean"
	case CategoryDateTime:
		return "datetime"
	case CategoryTypeRef:
		return "typeref"
	case CategoryArray:
		return "array"
	case CategoryDictionary:
		return "dictionary"
	case CategoryObject:
		return "object"
	default:
		return fmt.Sprintf("category(%d)", c)
	}
}

// Nested reports whether values of this category open a structure closed
// by ExitLevel.
func (c Category) Nested() bool {
	return c == CategoryArray || c == CategoryDictionary || c == CategoryObject
}

// NumberKind is the closed set of numeric sub-kinds.
type NumberKind uint8

const (
	NumberNone NumberKind = iota
	NumberInt8
	NumberInt16
	NumberInt32
	NumberInt64
	NumberUint8
	NumberUint16
	NumberUint32
	NumberUint64
	NumberFloat32
	NumberFloat64
	NumberDecimal
)

// Size returns the declared byte width. Decimals are four 4-byte words and
// report the width of one word.
func (k NumberKind) Size() int {
	switch k {
	case NumberInt8, NumberUint8:
		return 1
	case NumberInt16, NumberUint16:
		return 2
	case NumberInt32, NumberUint32, NumberFloat32, NumberDecimal:
		return 4
	case NumberInt64, NumberUint64, NumberFloat64:
		return 8
	default:
		return 0
	}
}

// Signed reports whether the kind is a two's-complement integer.
func (k NumberKind) Signed() bool {
	return k >= NumberInt8 && k <= NumberInt64
}

func (k NumberKind) String() string {
	switch k {
	case NumberInt8:
		return "int8"
	case NumberInt16:
		return "int16"
	case NumberInt32:
		return "int32"
	case NumberInt64:
		return "int64"
	case NumberUint8:
		return "uint8"
	case NumberUint16:
		return "uint16"
	case NumberUint32:
		return "uint32"
	case NumberUint64:
		return "uint64"
	case NumberFloat32:
		return "float32"
	case NumberFloat64:
		return "float64"
	case NumberDecimal:
		return "decimal"
	default:
		return "none"
	}
}

// ============================================================
// Style & Settings
// ============================================================

// Style selects named or unnamed member encoding.
type Style uint8

const (
	StyleUnnamed Style = iota
	StyleNamed
	// StyleInfer takes the style from the document header. Decoding only.
	StyleInfer
)

func (s Style) String() string {
	switch s {
	case StyleUnnamed:
		return "unnamed"
	case StyleNamed:
		return "named"
	case StyleInfer:
		return "infer"
	default:
		return fmt.Sprintf("style(%d)", s)
	}
}

// ParseStyle parses a style name as printed by Style.String.
func ParseStyle(s string) (Style, error) {
	switch s {
	case "unnamed", "":
		return StyleUnnamed, nil
	case "named":
		return StyleNamed, nil
	case "infer":
		return StyleInfer, nil
	}
	return StyleUnnamed, fmt.Errorf("unknown style: %s", s)
}

// Settings controls one encode or decode session.
type Settings struct {
	Style Style // Member encoding style
	Typed bool  // Write type descriptors before objects (encode only; decode reads the header)

	CacheTypes bool // Replace repeat type descriptors with 2-byte keys

	HasVersion bool // Write Version into the header
	Version    int

	// OmitTrailingTerminators drops the exit bytes that would otherwise end
	// the document. Decoders always accept both forms.
	OmitTrailingTerminators bool

	Reflector Reflector     // nil: a fresh Registry per session
	Errors    *ErrorHandler // nil: every error is fatal
	Logger    *slog.Logger  // nil: discard
}

// DefaultSettings returns unnamed, typed, cached settings.
func DefaultSettings() Settings {
	return Settings{
		Style:      StyleUnnamed,
		Typed:      true,
		CacheTypes: true,
	}
}

func (s Settings) reflector() Reflector {
	if s.Reflector != nil {
		return s.Reflector
	}
	return NewRegistry()
}

func (s Settings) errors() *ErrorHandler {
	if s.Errors != nil {
		return s.Errors
	}
	return &ErrorHandler{}
}

func (s Settings) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.DiscardHandler)
}
