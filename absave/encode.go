package absave

import (
	"encoding"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// ============================================================
// Public API
// ============================================================

// Marshal encodes v as a complete document. A struct (or pointer to one)
// is written as the document's root object. A pointer to an interface
// declares a dynamic root, which typed documents box with its type.
func Marshal(v any, s Settings) ([]byte, error) {
	e, err := newEncodeState(s)
	if err != nil {
		return nil, err
	}
	if err := e.document(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// AppendValue appends the encoding of a single value without a header.
// leadingSeparator writes the next-item byte first, as for any sibling
// that is not first in its frame.
func AppendValue(dst []byte, v any, leadingSeparator bool, s Settings) ([]byte, error) {
	e, err := newEncodeState(s)
	if err != nil {
		return dst, err
	}
	e.buf = dst
	rv := reflect.ValueOf(v)
	var declared reflect.Type
	if rv.IsValid() {
		declared = rv.Type()
	} else {
		declared = anyType
	}
	if _, err := e.value(rv, declared, leadingSeparator); err != nil {
		return dst, err
	}
	return e.buf, nil
}

// Encoder writes documents to an output stream. Each Encode call is an
// independent session with its own type cache.
type Encoder struct {
	w io.Writer
	s Settings
}

// NewEncoder returns an encoder that writes to w.
func NewEncoder(w io.Writer, s Settings) *Encoder {
	return &Encoder{w: w, s: s}
}

// Encode writes the document for v.
func (enc *Encoder) Encode(v any) error {
	data, err := Marshal(v, enc.s)
	if err != nil {
		return err
	}
	_, err = enc.w.Write(data)
	return err
}

// ============================================================
// Encode Session
// ============================================================

type encodeState struct {
	buf    []byte
	header Header
	omit   bool

	refl  Reflector
	cache *TypeCache
	errs  *ErrorHandler
	log   *slog.Logger

	// Bounds of the latest run of exit bytes, for OmitTrailingTerminators.
	closeStart, closeEnd int
}

func newEncodeState(s Settings) (*encodeState, error) {
	e := &encodeState{
		header: Header{
			Style:      s.Style,
			Typed:      s.Typed,
			HasVersion: s.HasVersion,
			Version:    s.Version,
		},
		omit:  s.OmitTrailingTerminators,
		refl:  s.reflector(),
		cache: NewTypeCache(s.CacheTypes && s.Typed),
		errs:  s.errors(),
		log:   s.logger(),
	}
	if s.Style == StyleInfer {
		if err := e.errs.Handle(KindInferredTypeNotAllowed, -1, "encoding needs an explicit style"); err != nil {
			return nil, err
		}
		e.header.Style = StyleUnnamed
	}
	if s.HasVersion && s.Version < 0 {
		return nil, fmt.Errorf("absave: negative header version %d", s.Version)
	}
	return e, nil
}

func (e *encodeState) document(rv reflect.Value) error {
	e.log.Debug("encode start",
		slog.String("style", e.header.Style.String()),
		slog.Bool("typed", e.header.Typed),
		slog.Bool("cache", e.cache.Enabled()))

	e.buf = AppendHeader(e.buf, e.header)
	if err := e.root(rv); err != nil {
		return err
	}
	if e.omit && e.closeEnd == len(e.buf) {
		e.buf = e.buf[:e.closeStart]
	}

	e.log.Debug("encode done", slog.Int("bytes", len(e.buf)), slog.Int("cached_types", e.cache.Len()))
	return nil
}

func (e *encodeState) root(rv reflect.Value) error {
	if !rv.IsValid() {
		e.null(false)
		return nil
	}
	declared := rv.Type()
	if declared.Kind() == reflect.Pointer && declared.Elem().Kind() == reflect.Interface {
		if rv.IsNil() {
			e.null(false)
			return nil
		}
		rv, declared = rv.Elem(), declared.Elem()
	}

	if info := classifyType(declared); !info.dynamic && info.cat == CategoryObject {
		obj := indirect(rv)
		if !obj.IsValid() {
			e.null(false)
			return nil
		}
		// The header's separator opens the root object.
		return e.members(obj)
	}
	_, err := e.value(rv, declared, false)
	return err
}

// ============================================================
// Values
// ============================================================

// value writes one sibling and reports whether it opened a nested
// structure, in which case the next sibling omits its separator.
func (e *encodeState) value(v reflect.Value, declared reflect.Type, sep bool) (bool, error) {
	info := classifyType(declared)
	if info.dynamic {
		return e.dynamic(v, sep)
	}

	if info.cat == CategoryTypeRef {
		t, _ := interfaceOf(v).(reflect.Type)
		if t == nil {
			e.null(sep)
			return false, nil
		}
		e.sep(sep)
		e.literalBytes(AppendTypeRef(nil, e.refl.Describe(t)))
		return false, nil
	}

	if v = indirect(v); isNil(v) {
		e.null(sep)
		return false, nil
	}

	switch info.cat {
	case CategoryNull:
		e.null(sep)
	case CategoryString:
		s := v.String()
		if info.converted {
			text, err := marshalText(v)
			if err != nil {
				return false, fmt.Errorf("absave: %s: %w", v.Type(), err)
			}
			s = string(text)
		}
		e.sep(sep)
		e.literal(s)
	case CategoryNumber:
		e.sep(sep)
		return false, e.number(v, info.num)
	case CategoryBoolean:
		e.sep(sep)
		if v.Bool() {
			e.buf = append(e.buf, 'T')
		} else {
			e.buf = append(e.buf, 'F')
		}
	case CategoryDateTime:
		e.sep(sep)
		e.buf = AppendInt(e.buf, Ticks(v.Interface().(time.Time)), 8)
	case CategoryArray:
		e.sep(sep)
		return true, e.array(v)
	case CategoryDictionary:
		e.sep(sep)
		return true, e.dictionary(v)
	case CategoryObject:
		e.sep(sep)
		return true, e.object(v)
	}
	return false, nil
}

func (e *encodeState) sep(sep bool) {
	if sep {
		e.buf = append(e.buf, NextItem)
	}
}

func (e *encodeState) null(sep bool) {
	e.sep(sep)
	e.buf = append(e.buf, Null)
}

func (e *encodeState) literal(s string) {
	e.buf = AppendEscaped(e.buf, s)
}

func (e *encodeState) literalBytes(b []byte) {
	for _, c := range b {
		if needsEscape(c) {
			e.buf = append(e.buf, escapeByte)
		}
		e.buf = append(e.buf, c)
	}
}

func (e *encodeState) close() {
	if len(e.buf) != e.closeEnd {
		e.closeStart = len(e.buf)
	}
	e.buf = append(e.buf, ExitLevel)
	e.closeEnd = len(e.buf)
}

func (e *encodeState) number(v reflect.Value, k NumberKind) error {
	switch k {
	case NumberInt8, NumberInt16, NumberInt32, NumberInt64:
		e.buf = AppendInt(e.buf, v.Int(), k.Size())
	case NumberUint8, NumberUint16, NumberUint32, NumberUint64:
		e.buf = AppendUint(e.buf, v.Uint(), k.Size())
	case NumberFloat32:
		e.buf = AppendFloat32(e.buf, float32(v.Float()))
	case NumberFloat64:
		e.buf = AppendFloat64(e.buf, v.Float())
	case NumberDecimal:
		d := v.Interface().(apd.Decimal)
		var err error
		if e.buf, err = AppendDecimal(e.buf, &d); err != nil {
			return fmt.Errorf("absave: %w", err)
		}
	}
	return nil
}

func (e *encodeState) array(v reflect.Value) error {
	e.buf = append(e.buf, StartArray)
	elem := v.Type().Elem()
	prevNested := false
	for i := 0; i < v.Len(); i++ {
		nested, err := e.value(v.Index(i), elem, i > 0 && !prevNested)
		if err != nil {
			return err
		}
		prevNested = nested
	}
	e.close()
	return nil
}

type dictEntry struct {
	key string
	val reflect.Value
}

func (e *encodeState) dictionary(v reflect.Value) error {
	entries := make([]dictEntry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, err := keyText(iter.Key())
		if err != nil {
			return err
		}
		entries = append(entries, dictEntry{key: k, val: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key < entries[j].key
	})

	e.buf = append(e.buf, StartDictionary)
	elem := v.Type().Elem()
	for i, ent := range entries {
		e.sep(i > 0)
		e.literal(ent.key)
		if _, err := e.value(ent.val, elem, true); err != nil {
			return err
		}
	}
	e.close()
	return nil
}

// keyText renders a dictionary key.
func keyText(k reflect.Value) (string, error) {
	if k = dynamicValue(k); !k.IsValid() {
		return "", &UnsupportedTypeError{Type: anyType, Reason: "nil map key"}
	}
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	if isConvertible(k.Type()) {
		text, err := marshalText(k)
		if err != nil {
			return "", fmt.Errorf("absave: map key %s: %w", k.Type(), err)
		}
		return string(text), nil
	}
	return "", &UnsupportedTypeError{Type: k.Type(), Reason: "map key"}
}

// object writes a nested object: type prefix, members, exit byte.
func (e *encodeState) object(v reflect.Value) error {
	if e.header.Typed {
		e.typeRef(v.Type())
	}
	e.buf = append(e.buf, StartObject)
	if err := e.members(v); err != nil {
		return err
	}
	e.close()
	return nil
}

// typeRef writes the type prefix of an object or box: the full TypeRef
// with a fresh cache key, or only the key for a type already cached.
func (e *encodeState) typeRef(t reflect.Type) {
	t = derefType(t)
	var key [cacheKeyLen]byte
	if k, ok := e.cache.Lookup(t); ok {
		e.literalBytes(appendCacheKey(key[:0], k))
		return
	}

	text := AppendTypeRef(nil, e.refl.Describe(t))
	if k, ok := e.cache.Allocate(t, string(text)); ok {
		e.log.Debug("type cached", slog.Int("key", int(k)), slog.String("type", t.String()))
		if !e.cache.Enabled() {
			e.log.Warn("type cache exhausted", slog.Int("keys", e.cache.Len()))
		}
		text = appendCacheKey(text, k)
	}
	e.literalBytes(text)
}

func (e *encodeState) members(v reflect.Value) error {
	ms, err := e.refl.Members(v.Type())
	if err != nil {
		return fmt.Errorf("absave: %w", err)
	}
	named := e.header.Style == StyleNamed
	prevNested := false
	for i, m := range ms {
		if m.Index == nil {
			return &UnsupportedTypeError{Type: v.Type(), Reason: "member " + m.Name + " has no field"}
		}
		fv := v.FieldByIndex(m.Index)
		sep := i > 0 && !prevNested
		if named {
			e.sep(sep)
			e.literal(m.Name)
			sep = true
		}
		nested, err := e.value(fv, m.Type, sep)
		if err != nil {
			return err
		}
		prevNested = nested
	}
	return nil
}

// dynamic writes the value held by an interface slot. Typed documents
// prefix objects with their type and box every other value as
// TypeRef + start-object + value + exit. Untyped documents can only carry
// values the decoder can rebuild without a type.
func (e *encodeState) dynamic(v reflect.Value, sep bool) (bool, error) {
	for v.Kind() == reflect.Pointer && v.Type().Elem().Kind() == reflect.Interface {
		if v.IsNil() {
			e.null(sep)
			return false, nil
		}
		v = v.Elem()
	}
	dv := dynamicValue(v)
	if isNil(dv) {
		e.null(sep)
		return false, nil
	}
	dt := dv.Type()
	info := classifyType(dt)

	if !e.header.Typed {
		if !untypedSafe(dt) {
			return false, &UnsupportedTypeError{Type: dt, Reason: "interface value needs a typed document"}
		}
		return e.value(dv, dt, sep)
	}

	switch {
	case info.cat == CategoryObject:
		e.sep(sep)
		return true, e.object(indirect(dv))
	case info.cat == CategoryTypeRef || info.cat == CategoryNull || info.dynamic:
		return false, &UnsupportedTypeError{Type: dt, Reason: "cannot box in an interface slot"}
	}

	e.sep(sep)
	e.typeRef(dt)
	e.buf = append(e.buf, StartObject)
	if _, err := e.value(dv, dt, false); err != nil {
		return false, err
	}
	e.close()
	return true, nil
}

// untypedSafe reports whether an untyped document can carry t in an
// interface slot: strings, and arrays or string-keyed dictionaries of
// such values.
func untypedSafe(t reflect.Type) bool {
	t = derefType(t)
	switch t.Kind() {
	case reflect.String, reflect.Interface:
		return true
	case reflect.Slice:
		return untypedSafe(t.Elem())
	case reflect.Map:
		return t.Key().Kind() == reflect.String && untypedSafe(t.Elem())
	}
	return false
}

// interfaceOf returns v's value as an interface, or nil if v is absent.
func interfaceOf(v reflect.Value) any {
	for v.IsValid() && v.Kind() == reflect.Pointer && v.Type().Elem().Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if isNil(v) || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

func marshalText(v reflect.Value) ([]byte, error) {
	if m, ok := v.Interface().(encoding.TextMarshaler); ok {
		return m.MarshalText()
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p.Interface().(encoding.TextMarshaler).MarshalText()
}
