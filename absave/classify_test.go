package absave

import (
	"math/big"
	"net/netip"
	"reflect"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type color string

type point struct {
	X, Y int32
}

func TestClassifyValue(t *testing.T) {
	var nilPtr *point
	str := "x"

	tests := []struct {
		name  string
		input any
		want  Category
	}{
		{"nil", nil, CategoryNull},
		{"nil_pointer", nilPtr, CategoryNull},
		{"string", "hello", CategoryString},
		{"named_string", color("red"), CategoryString},
		{"string_pointer", &str, CategoryString},
		{"int", 42, CategoryNumber},
		{"uint8", uint8(1), CategoryNumber},
		{"float32", float32(1.5), CategoryNumber},
		{"decimal", *apd.New(1, -2), CategoryNumber},
		{"bool", true, CategoryBoolean},
		{"time", time.Now(), CategoryDateTime},
		{"type", reflect.TypeFor[point](), CategoryTypeRef},
		{"slice", []string{"a"}, CategoryArray},
		{"bytes", []byte("ab"), CategoryArray},
		{"uuid", uuid.New(), CategoryArray},
		{"array", [2]int{1, 2}, CategoryArray},
		{"map", map[string]int{}, CategoryDictionary},
		{"nil_map", map[string]int(nil), CategoryNull},
		{"struct", point{1, 2}, CategoryObject},
		{"struct_pointer", &point{}, CategoryObject},
		{"text_marshaler", netip.MustParseAddr("10.0.0.1"), CategoryString},
		{"big_int", big.NewInt(7), CategoryString},
		{"chan", make(chan int), CategoryNull},
		{"func", func() {}, CategoryNull},
		{"complex", complex(1, 2), CategoryNull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyValue(tt.input))
		})
	}
}

func TestClassify_InterfaceSlot(t *testing.T) {
	holder := struct {
		V any
		P *any
	}{V: int16(3)}

	v := reflect.ValueOf(holder)
	assert.Equal(t, CategoryNumber, Classify(v.Field(0), anyType))
	assert.Equal(t, CategoryNull, Classify(v.Field(1), reflect.TypeFor[*any]()))

	var inner any = point{}
	holder.P = &inner
	v = reflect.ValueOf(holder)
	assert.Equal(t, CategoryObject, Classify(v.Field(1), reflect.TypeFor[*any]()))
}

func TestNumberKind(t *testing.T) {
	tests := []struct {
		typ  reflect.Type
		want NumberKind
		size int
	}{
		{reflect.TypeFor[int](), NumberInt64, 8},
		{reflect.TypeFor[int8](), NumberInt8, 1},
		{reflect.TypeFor[uint](), NumberUint64, 8},
		{reflect.TypeFor[uint16](), NumberUint16, 2},
		{reflect.TypeFor[float32](), NumberFloat32, 4},
		{reflect.TypeFor[float64](), NumberFloat64, 8},
		{reflect.TypeFor[apd.Decimal](), NumberDecimal, 4},
		{reflect.TypeFor[string](), NumberNone, 0},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			k := numberKind(tt.typ)
			assert.Equal(t, tt.want, k)
			assert.Equal(t, tt.size, k.Size())
		})
	}
}

func TestCategory_Nested(t *testing.T) {
	assert.True(t, CategoryArray.Nested())
	assert.True(t, CategoryDictionary.Nested())
	assert.True(t, CategoryObject.Nested())
	assert.False(t, CategoryString.Nested())
	assert.False(t, CategoryNull.Nested())
}
