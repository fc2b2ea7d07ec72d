package absave

import (
	"errors"
	"fmt"
	"math/bits"
	"reflect"
	"strings"
)

// ErrorKind is a bit set of format error kinds.
type ErrorKind uint16

const (
	KindInvalidHeader ErrorKind = 1 << iota
	KindInferredTypeNotAllowed
	KindInvalidValue
	KindUnexpectedToken
	KindTooManyItems
	KindMissingName
	KindTooManyAmbiguousConstructors
	KindInvalidConstructor
	KindUnknownTypeKey

	// KindAll is every kind.
	KindAll = KindInvalidHeader | KindInferredTypeNotAllowed | KindInvalidValue |
		KindUnexpectedToken | KindTooManyItems | KindMissingName |
		KindTooManyAmbiguousConstructors | KindInvalidConstructor | KindUnknownTypeKey
)

var kindNames = []struct {
	kind ErrorKind
	name string
}{
	{KindInvalidHeader, "invalid header"},
	{KindInferredTypeNotAllowed, "inferred type not allowed"},
	{KindInvalidValue, "invalid value"},
	{KindUnexpectedToken, "unexpected token"},
	{KindTooManyItems, "too many items"},
	{KindMissingName, "missing name"},
	{KindTooManyAmbiguousConstructors, "too many ambiguous constructors"},
	{KindInvalidConstructor, "invalid constructor"},
	{KindUnknownTypeKey, "unknown type key"},
}

// String returns the kind names joined by '|'.
func (k ErrorKind) String() string {
	if k == 0 {
		return "none"
	}
	var parts []string
	for _, kn := range kindNames {
		if k&kn.kind != 0 {
			parts = append(parts, kn.name)
		}
	}
	if rest := k &^ KindAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("kind(%#x)", uint16(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseErrorKind parses a single kind name, e.g. "too many items" or
// "TooManyItems".
func ParseErrorKind(s string) (ErrorKind, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), "_", ""))
	for _, kn := range kindNames {
		if strings.ReplaceAll(kn.name, " ", "") == norm {
			return kn.kind, nil
		}
	}
	if norm == "all" {
		return KindAll, nil
	}
	return 0, fmt.Errorf("unknown error kind: %s", s)
}

// Sentinel errors, one per kind. *Error unwraps to these.
var (
	ErrInvalidHeader                = errors.New("absave: invalid header")
	ErrInferredTypeNotAllowed       = errors.New("absave: inferred type not allowed")
	ErrInvalidValue                 = errors.New("absave: invalid value")
	ErrUnexpectedToken              = errors.New("absave: unexpected token")
	ErrTooManyItems                 = errors.New("absave: too many items")
	ErrMissingName                  = errors.New("absave: missing name")
	ErrTooManyAmbiguousConstructors = errors.New("absave: too many ambiguous constructors")
	ErrInvalidConstructor           = errors.New("absave: invalid constructor")
	ErrUnknownTypeKey               = errors.New("absave: unknown type key")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidHeader:
		return ErrInvalidHeader
	case KindInferredTypeNotAllowed:
		return ErrInferredTypeNotAllowed
	case KindInvalidValue:
		return ErrInvalidValue
	case KindUnexpectedToken:
		return ErrUnexpectedToken
	case KindTooManyItems:
		return ErrTooManyItems
	case KindMissingName:
		return ErrMissingName
	case KindTooManyAmbiguousConstructors:
		return ErrTooManyAmbiguousConstructors
	case KindInvalidConstructor:
		return ErrInvalidConstructor
	case KindUnknownTypeKey:
		return ErrUnknownTypeKey
	}
	return nil
}

// ErrorRecord describes one format error.
type ErrorRecord struct {
	Kind    ErrorKind
	Pos     int // byte offset in the document, -1 when not applicable
	Message string
}

// Error is the fault returned for an unsuppressed ErrorRecord.
type Error struct {
	Kind    ErrorKind
	Pos     int
	Message string
}

func (e *Error) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("absave: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("absave: %s: %s at byte %d", e.Kind, e.Message, e.Pos)
}

// Unwrap returns the kind's sentinel error.
func (e *Error) Unwrap() error {
	return e.Kind.sentinel()
}

// ErrorHandler is the sink for format errors in a session.
//
// The zero value treats every kind as fatal. IgnoreAll suppresses every
// kind and skips OnError.
type ErrorHandler struct {
	Suppressed ErrorKind
	IgnoreAll  bool

	// OnError is called for every error unless IgnoreAll is set. It may be
	// shared across sessions only if it keeps no per-session state.
	OnError func(ErrorRecord)
}

// Handle records an error. It returns nil when the kind is suppressed and
// an *Error otherwise.
func (h *ErrorHandler) Handle(kind ErrorKind, pos int, format string, args ...any) error {
	if bits.OnesCount16(uint16(kind)) != 1 {
		panic(fmt.Sprintf("absave: Handle needs exactly one kind, got %s", kind))
	}
	rec := ErrorRecord{Kind: kind, Pos: pos, Message: fmt.Sprintf(format, args...)}
	if h.IgnoreAll {
		return nil
	}
	if h.OnError != nil {
		h.OnError(rec)
	}
	if h.Suppressed&kind != 0 {
		return nil
	}
	return &Error{Kind: rec.Kind, Pos: rec.Pos, Message: rec.Message}
}

// Suppresses reports whether kind is suppressed.
func (h *ErrorHandler) Suppresses(kind ErrorKind) bool {
	return h.IgnoreAll || h.Suppressed&kind != 0
}

// UnsupportedTypeError is returned when a Go type cannot be encoded in the
// session's mode.
type UnsupportedTypeError struct {
	Type   reflect.Type
	Reason string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Reason == "" {
		return "absave: unsupported type " + e.Type.String()
	}
	return "absave: unsupported type " + e.Type.String() + ": " + e.Reason
}
