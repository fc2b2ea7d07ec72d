package absave

import (
	"encoding"
	"reflect"
	"time"

	"github.com/cockroachdb/apd/v3"
)

var (
	timeType            = reflect.TypeFor[time.Time]()
	decimalType         = reflect.TypeFor[apd.Decimal]()
	typeRefType         = reflect.TypeFor[reflect.Type]()
	textMarshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
	anyType             = reflect.TypeFor[any]()
	anySliceType        = reflect.TypeFor[[]any]()
	anyMapType          = reflect.TypeFor[map[string]any]()
)

// typeInfo is the classification of a declared type.
type typeInfo struct {
	cat       Category
	num       NumberKind
	converted bool // String via TextMarshaler/TextUnmarshaler
	dynamic   bool // Interface slot: classify the dynamic value instead
}

// derefType strips pointer levels.
func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// classifyType classifies a declared type. The order of checks is part of
// the format: a type that fits several categories takes the first.
func classifyType(t reflect.Type) typeInfo {
	if t == typeRefType || t.Implements(typeRefType) {
		return typeInfo{cat: CategoryTypeRef}
	}
	t = derefType(t)

	switch t.Kind() {
	case reflect.Interface:
		return typeInfo{dynamic: true}
	case reflect.String:
		return typeInfo{cat: CategoryString}
	}

	if k := numberKind(t); k != NumberNone {
		return typeInfo{cat: CategoryNumber, num: k}
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return typeInfo{cat: CategoryArray}
	case reflect.Map:
		return typeInfo{cat: CategoryDictionary}
	case reflect.Bool:
		return typeInfo{cat: CategoryBoolean}
	}

	if t == timeType {
		return typeInfo{cat: CategoryDateTime}
	}
	if isConvertible(t) {
		return typeInfo{cat: CategoryString, converted: true}
	}
	if t.Kind() == reflect.Struct {
		return typeInfo{cat: CategoryObject}
	}

	// Chans, funcs, unsafe pointers, uintptrs and complex numbers are
	// opaque.
	return typeInfo{cat: CategoryNull}
}

func numberKind(t reflect.Type) NumberKind {
	switch t.Kind() {
	case reflect.Int8:
		return NumberInt8
	case reflect.Int16:
		return NumberInt16
	case reflect.Int32:
		return NumberInt32
	case reflect.Int64, reflect.Int:
		return NumberInt64
	case reflect.Uint8:
		return NumberUint8
	case reflect.Uint16:
		return NumberUint16
	case reflect.Uint32:
		return NumberUint32
	case reflect.Uint64, reflect.Uint:
		return NumberUint64
	case reflect.Float32:
		return NumberFloat32
	case reflect.Float64:
		return NumberFloat64
	}
	if t == decimalType {
		return NumberDecimal
	}
	return NumberNone
}

// isConvertible reports whether t round-trips through text.
func isConvertible(t reflect.Type) bool {
	pt := reflect.PointerTo(t)
	marshals := t.Implements(textMarshalerType) || pt.Implements(textMarshalerType)
	return marshals && pt.Implements(textUnmarshalerType)
}

// isNil reports whether v is absent.
func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return v.IsNil()
	}
	return false
}

// indirect follows pointers and interfaces down to a concrete value. The
// result is invalid if a nil is found on the way.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// dynamicValue unwraps interface values.
func dynamicValue(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// Classify returns the category of v as declared by declared. A nil
// declared type uses v's own type. Interface-typed slots classify their
// dynamic value.
func Classify(v reflect.Value, declared reflect.Type) Category {
	if isNil(v) {
		return CategoryNull
	}
	if declared == nil {
		declared = v.Type()
	}
	info := classifyType(declared)
	if info.dynamic {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return CategoryNull
			}
			v = v.Elem()
		}
		v = dynamicValue(v)
		if isNil(v) {
			return CategoryNull
		}
		return classifyType(v.Type()).cat
	}
	if v = indirect(v); !v.IsValid() {
		return CategoryNull
	}
	return info.cat
}

// ClassifyValue classifies a Go value by its dynamic type.
func ClassifyValue(x any) Category {
	return Classify(reflect.ValueOf(x), nil)
}
