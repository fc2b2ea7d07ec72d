package absave

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshal_Scenario(t *testing.T) {
	next := typePrefix(reflect.TypeFor[NextClass](), 0)

	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "as_encoded",
			data: cat("U", NextItem, "Oh, Hello!", NextItem, "\x07\x6d\x01", NextItem,
				next, StartObject, "F", ExitLevel,
				StartArray, "FirstStr", NextItem, "SecondStr", ExitLevel),
		},
		{
			name: "no_separator_before_type",
			data: cat("U", NextItem, "Oh, Hello!", NextItem, "\x07\x6d\x01",
				next, StartObject, "F", ExitLevel,
				StartArray, "FirstStr", NextItem, "SecondStr", ExitLevel),
		},
		{
			name: "trailing_terminator_omitted",
			data: cat("U", NextItem, "Oh, Hello!", NextItem, "\x07\x6d\x01", NextItem,
				next, StartObject, "F", ExitLevel,
				StartArray, "FirstStr", NextItem, "SecondStr"),
		},
		{
			name: "root_terminator_present",
			data: cat("U", NextItem, "Oh, Hello!", NextItem, "\x07\x6d\x01", NextItem,
				next, StartObject, "F", ExitLevel,
				StartArray, "FirstStr", NextItem, "SecondStr", ExitLevel, ExitLevel),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got TestClass
			require.NoError(t, Unmarshal(tt.data, &got, DefaultSettings()))
			assert.Equal(t, *sampleTestClass(), got)
		})
	}
}

func TestUnmarshal_Values(t *testing.T) {
	t.Run("dictionary", func(t *testing.T) {
		var got map[string]string
		data := []byte("V\x01\x06FirstKey\x01FirstValue\x01SecondKey\x01SecondValue\x05")
		require.NoError(t, Unmarshal(data, &got, untyped(StyleUnnamed)))
		assert.Equal(t, map[string]string{"FirstKey": "FirstValue", "SecondKey": "SecondValue"}, got)
	})

	t.Run("empty_dictionary", func(t *testing.T) {
		var got map[string]int
		require.NoError(t, Unmarshal([]byte("V\x01\x06\x05"), &got, untyped(StyleUnnamed)))
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("int_keys", func(t *testing.T) {
		var got map[int16]bool
		require.NoError(t, Unmarshal([]byte("V\x01\x06-3\x01T\x0110\x01F\x05"), &got, untyped(StyleUnnamed)))
		assert.Equal(t, map[int16]bool{-3: true, 10: false}, got)
	})

	t.Run("numbers", func(t *testing.T) {
		type numbers struct {
			A int16
			B int
			C uint8
			D float32
			E *int32
		}
		var got numbers
		data := []byte("V\x01\x01\xf3\x01\x00\x01\x01\x07\x01\x00\x01\x02")
		require.NoError(t, Unmarshal(data, &got, untyped(StyleUnnamed)))
		assert.Equal(t, numbers{A: 243, C: 7}, got)
	})

	t.Run("number_array", func(t *testing.T) {
		var got []int32
		data := []byte("V\x01\x04\x01\x05\x01\x00\x01\x07\xff\xff\x01\x02\x05")
		require.NoError(t, Unmarshal(data, &got, untyped(StyleUnnamed)))
		assert.Equal(t, []int32{5, 0, 65535, 0}, got)
	})

	t.Run("empty_strings", func(t *testing.T) {
		type two struct{ A, B string }
		got := two{A: "x", B: "y"}
		require.NoError(t, Unmarshal([]byte("V\x01\x01"), &got, untyped(StyleUnnamed)))
		assert.Equal(t, two{}, got)
	})

	t.Run("empty_string_after_object", func(t *testing.T) {
		type tail struct {
			N NextClass
			S string
		}
		got := tail{S: "stale"}
		require.NoError(t, Unmarshal([]byte("V\x01\x03T\x05\x05"), &got, untyped(StyleUnnamed)))
		assert.Equal(t, tail{N: NextClass{true}}, got)
	})

	t.Run("pointer_root", func(t *testing.T) {
		var got *NextClass
		require.NoError(t, Unmarshal([]byte("V\x01T"), &got, untyped(StyleUnnamed)))
		require.NotNil(t, got)
		assert.True(t, got.Yoy)
	})

	t.Run("null_root", func(t *testing.T) {
		got := &NextClass{}
		require.NoError(t, Unmarshal([]byte("V\x01\x02"), &got, untyped(StyleUnnamed)))
		assert.Nil(t, got)
	})

	t.Run("fixed_array", func(t *testing.T) {
		var got [3]string
		require.NoError(t, Unmarshal([]byte("V\x01\x04a\x01b\x05"), &got, untyped(StyleUnnamed)))
		assert.Equal(t, [3]string{"a", "b", ""}, got)
	})

	t.Run("escaped_text", func(t *testing.T) {
		var got string
		require.NoError(t, Unmarshal([]byte("V\x01a\\\x05b\\\\"), &got, untyped(StyleUnnamed)))
		assert.Equal(t, "a\x05b\\", got)
	})
}

// A lone empty string in an array is written as start-array, exit. Read
// back, those bytes are an empty array.
func TestUnmarshal_EmptyStringArrayIsEmpty(t *testing.T) {
	data, err := Marshal([]string{""}, untyped(StyleUnnamed))
	require.NoError(t, err)
	assert.Equal(t, []byte("V\x01\x04\x05"), data)

	var got []string
	require.NoError(t, Unmarshal(data, &got, untyped(StyleUnnamed)))
	assert.Empty(t, got)

	data, err = Marshal([]string{"", ""}, untyped(StyleUnnamed))
	require.NoError(t, err)
	require.NoError(t, Unmarshal(data, &got, untyped(StyleUnnamed)))
	assert.Equal(t, []string{"", ""}, got)
}

func TestUnmarshal_Header(t *testing.T) {
	named, err := Marshal(sampleTestClass(), Settings{Style: StyleNamed, Typed: true, CacheTypes: true})
	require.NoError(t, err)

	t.Run("style_mismatch", func(t *testing.T) {
		var got TestClass
		err := Unmarshal(named, &got, DefaultSettings())
		assert.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("inferred", func(t *testing.T) {
		var got TestClass
		dec := NewDecoder(bytes.NewReader(named), Settings{Style: StyleInfer, CacheTypes: true})
		require.NoError(t, dec.Decode(&got))
		assert.Equal(t, *sampleTestClass(), got)
		assert.Equal(t, Header{Style: StyleNamed, Typed: true}, dec.Header())
	})

	t.Run("lowercase_marker", func(t *testing.T) {
		var got string
		require.NoError(t, Unmarshal([]byte("v12\x01x"), &got, untyped(StyleUnnamed)))
		assert.Equal(t, "x", got)
	})

	for _, data := range []string{"X\x01", "U", "", "U1x\x01"} {
		t.Run("invalid_"+data, func(t *testing.T) {
			var got TestClass
			err := Unmarshal([]byte(data), &got, DefaultSettings())
			assert.ErrorIs(t, err, ErrInvalidHeader)
		})
	}

	t.Run("not_a_pointer", func(t *testing.T) {
		var got TestClass
		assert.Error(t, Unmarshal([]byte("U\x01"), got, DefaultSettings()))
	})
}

func TestUnmarshal_Errors(t *testing.T) {
	type two struct{ A, B string }
	type flag struct{ B bool }
	type small struct{ N int8 }
	type holder struct{ N NextClass }

	// A skipped structure still registers the types it introduces and
	// reads its numbers by their declared width.
	type leaf struct{ N int32 }
	type wrapper struct {
		In leaf
		K  int32
	}
	type source struct {
		W wrapper
		I leaf
	}
	type flat struct {
		W string
		I leaf
	}
	type byName struct {
		I leaf
		X string
	}
	shared := DefaultSettings()
	shared.Reflector = NewRegistry()
	sharedNamed := shared
	sharedNamed.Style = StyleNamed
	encodeSource := func(s Settings) string {
		data, err := Marshal(&source{W: wrapper{In: leaf{N: 5}, K: 7}, I: leaf{N: 9}}, s)
		require.NoError(t, err)
		return string(data)
	}

	tests := []struct {
		name     string
		data     string
		settings Settings
		into     func() any
		kind     ErrorKind
		want     any // Value after decoding with the kind suppressed
	}{
		{
			name:     "invalid_boolean",
			data:     "V\x01X",
			settings: untyped(StyleUnnamed),
			into:     func() any { return &flag{B: true} },
			kind:     KindInvalidValue,
			want:     &flag{},
		},
		{
			name:     "number_overflow",
			data:     "V\x01\x07\x01\x02",
			settings: untyped(StyleUnnamed),
			into:     func() any { return &small{N: 9} },
			kind:     KindInvalidValue,
			want:     &small{},
		},
		{
			name:     "too_many_items",
			data:     "V\x01a\x01b\x01c",
			settings: untyped(StyleUnnamed),
			into:     func() any { return &two{} },
			kind:     KindTooManyItems,
			want:     &two{A: "a", B: "b"},
		},
		{
			name:     "fixed_array_overflow",
			data:     "V\x01\x04\x01\x01\x01\x01\x02\x01\x01\x03\x05",
			settings: untyped(StyleUnnamed),
			into:     func() any { return &[2]int8{} },
			kind:     KindTooManyItems,
			want:     &[2]int8{1, 2},
		},
		{
			name:     "fixed_array_overflow_text",
			data:     "V\x01\x04a\x01b\x05",
			settings: untyped(StyleUnnamed),
			into:     func() any { return &[1]string{} },
			kind:     KindTooManyItems,
			want:     &[1]string{"a"},
		},
		{
			name:     "unknown_member",
			data:     "M\x01Zzz\x01v\x01B\x01w",
			settings: untyped(StyleNamed),
			into:     func() any { return &two{} },
			kind:     KindMissingName,
			want:     &two{B: "w"},
		},
		{
			name:     "empty_member_name",
			data:     "M\x01\x01v",
			settings: untyped(StyleNamed),
			into:     func() any { return &two{} },
			kind:     KindMissingName,
			want:     &two{},
		},
		{
			name:     "object_for_name",
			data:     "M\x01\x03x\x01y\x05",
			settings: untyped(StyleNamed),
			into:     func() any { return &two{} },
			kind:     KindUnexpectedToken,
			want:     &two{},
		},
		{
			name:     "array_for_string",
			data:     "V\x01\x04a\x05b",
			settings: untyped(StyleUnnamed),
			into:     func() any { return &two{} },
			kind:     KindUnexpectedToken,
			want:     &two{B: "b"},
		},
		{
			name:     "unknown_type_key",
			data:     "U\x01\x07\x00\x03T\x05",
			settings: DefaultSettings(),
			into:     func() any { return &holder{} },
			kind:     KindUnknownTypeKey,
			want:     &holder{N: NextClass{true}},
		},
		{
			name:     "skipped_object_keeps_cache",
			data:     encodeSource(shared),
			settings: shared,
			into:     func() any { return &flat{} },
			kind:     KindUnexpectedToken,
			want:     &flat{I: leaf{N: 9}},
		},
		{
			name:     "skipped_member_keeps_cache",
			data:     encodeSource(sharedNamed),
			settings: sharedNamed,
			into:     func() any { return &byName{} },
			kind:     KindMissingName,
			want:     &byName{I: leaf{N: 9}},
		},
		{
			name:     "trailing_data",
			data:     "V\x01x\x05junk",
			settings: untyped(StyleUnnamed),
			into:     func() any { s := ""; return &s },
			kind:     KindUnexpectedToken,
			want:     func() any { s := "x"; return &s }(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Unmarshal([]byte(tt.data), tt.into(), tt.settings)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind.sentinel())

			var seen []ErrorKind
			s := tt.settings
			s.Errors = &ErrorHandler{
				Suppressed: tt.kind,
				OnError:    func(r ErrorRecord) { seen = append(seen, r.Kind) },
			}
			got := tt.into()
			require.NoError(t, Unmarshal([]byte(tt.data), got, s))
			assert.Equal(t, tt.want, got)
			assert.Contains(t, seen, tt.kind)
		})
	}
}

func TestUnmarshal_TypeMismatch(t *testing.T) {
	type otherClass struct{ Yoy bool }
	type others struct{ A, B otherClass }

	data, err := Marshal(&pair{A: NextClass{true}}, DefaultSettings())
	require.NoError(t, err)

	var got others
	err = Unmarshal(data, &got, DefaultSettings())
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestUnmarshal_KeyOutOfSequence(t *testing.T) {
	data := cat("U", NextItem, typePrefix(reflect.TypeFor[NextClass](), 3), StartObject, "T", ExitLevel)

	var got struct{ N NextClass }
	err := Unmarshal(data, &got, DefaultSettings())
	assert.ErrorIs(t, err, ErrUnknownTypeKey)
}

func TestUnmarshal_Constructors(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(account{},
		WithConstructor([]string{"id"}, newAccount("lower")),
		WithConstructor([]string{"Id"}, newAccount("title")),
	)
	s := untyped(StyleUnnamed)
	s.Reflector = reg

	var got account
	err := Unmarshal([]byte("V\x01a1"), &got, s)
	assert.ErrorIs(t, err, ErrTooManyAmbiguousConstructors)

	reg.MustRegister(account{}, WithConstructor([]string{"ID"}, newAccount("exact")))
	require.NoError(t, Unmarshal([]byte("V\x01a1\x01\x01\x07"), &got, s))
	assert.Equal(t, account{ID: "a1", Balance: 7, Origin: "exact"}, got)

	reg.MustRegister(account{}, WithConstructor([]string{"Email"}, newAccount("email")))
	err = Unmarshal([]byte("V\x01a1"), &got, s)
	assert.ErrorIs(t, err, ErrInvalidConstructor)
}

func TestUnmarshal_IgnoreAll(t *testing.T) {
	type two struct{ A, B string }
	called := false
	s := untyped(StyleNamed)
	s.Errors = &ErrorHandler{IgnoreAll: true, OnError: func(ErrorRecord) { called = true }}

	var got two
	require.NoError(t, Unmarshal([]byte("M\x01Q\x01q\x01\x03\x05A\x01a"), &got, s))
	assert.Equal(t, two{A: "a"}, got)
	assert.False(t, called)
}

func TestUnmarshal_UntypedSkipReportsLostData(t *testing.T) {
	type inner struct{ N int32 }
	type source struct {
		W inner
		I string
	}
	type target struct{ W, I string }

	// Without a type the skip cannot tell the packed 5 (01 05) from a
	// separator and an exit byte, so it ends early. What is lost after it
	// is still reported.
	data, err := Marshal(&source{W: inner{N: 5}, I: "keep"}, untyped(StyleUnnamed))
	require.NoError(t, err)
	require.Equal(t, cat("V", NextItem, StartObject, "\x01\x05", ExitLevel, "keep"), data)

	var records []ErrorRecord
	s := untyped(StyleUnnamed)
	s.Errors = &ErrorHandler{
		Suppressed: KindUnexpectedToken,
		OnError:    func(r ErrorRecord) { records = append(records, r) },
	}
	var got target
	require.NoError(t, Unmarshal(data, &got, s))
	require.Len(t, records, 2)
	assert.Equal(t, KindUnexpectedToken, records[1].Kind)
	assert.Contains(t, records[1].Message, "data after end of document")
}
