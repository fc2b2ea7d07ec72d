package absave

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type NextClass struct {
	Yoy bool
}

type TestClass struct {
	Str      string
	I        int32
	NextCl   NextClass
	LstOfStr []string
}

func sampleTestClass() *TestClass {
	return &TestClass{
		Str:      "Oh, Hello!",
		I:        365,
		NextCl:   NextClass{Yoy: false},
		LstOfStr: []string{"FirstStr", "SecondStr"},
	}
}

// typePrefix is the escaped type prefix written the first time t appears
// in a cached session.
func typePrefix(t reflect.Type, key uint16) []byte {
	text := AppendTypeRef(nil, NewRegistry().Describe(t))
	return AppendEscaped(nil, string(appendCacheKey(text, key)))
}

func cat(parts ...any) []byte {
	var out []byte
	for _, p := range parts {
		switch p := p.(type) {
		case string:
			out = append(out, p...)
		case []byte:
			out = append(out, p...)
		case byte:
			out = append(out, p)
		}
	}
	return out
}

func untyped(style Style) Settings {
	return Settings{Style: style}
}

func TestAppendValue_Scenarios(t *testing.T) {
	t.Run("boolean", func(t *testing.T) {
		got, err := AppendValue(nil, true, false, untyped(StyleUnnamed))
		require.NoError(t, err)
		assert.Equal(t, []byte("T"), got)
	})

	t.Run("string_with_separator", func(t *testing.T) {
		got, err := AppendValue(nil, "Hello world!", true, untyped(StyleUnnamed))
		require.NoError(t, err)
		assert.Equal(t, []byte("\x01Hello world!"), got)
	})

	t.Run("empty_dictionary", func(t *testing.T) {
		got, err := AppendValue(nil, map[string]string{}, false, untyped(StyleUnnamed))
		require.NoError(t, err)
		assert.Equal(t, []byte{StartDictionary, ExitLevel}, got)
	})

	t.Run("dictionary", func(t *testing.T) {
		m := map[string]string{"SecondKey": "SecondValue", "FirstKey": "FirstValue"}
		got, err := AppendValue(nil, m, false, untyped(StyleUnnamed))
		require.NoError(t, err)
		assert.Equal(t, []byte("\x06FirstKey\x01FirstValue\x01SecondKey\x01SecondValue\x05"), got)
	})

	t.Run("null", func(t *testing.T) {
		got, err := AppendValue([]byte("x"), nil, true, untyped(StyleUnnamed))
		require.NoError(t, err)
		assert.Equal(t, []byte("x\x01\x02"), got)
	})

	t.Run("escaped_literal", func(t *testing.T) {
		got, err := AppendValue(nil, "a\x05b\\", false, untyped(StyleUnnamed))
		require.NoError(t, err)
		assert.Equal(t, []byte("a\\\x05b\\\\"), got)
	})
}

func TestMarshal_TypedObject(t *testing.T) {
	got, err := Marshal(sampleTestClass(), DefaultSettings())
	require.NoError(t, err)

	want := cat(
		"U", NextItem,
		"Oh, Hello!", NextItem,
		"\x07\x6d\x01", NextItem,
		typePrefix(reflect.TypeFor[NextClass](), 0), StartObject, "F", ExitLevel,
		StartArray, "FirstStr", NextItem, "SecondStr", ExitLevel,
	)
	assert.Equal(t, want, got)

	// The reference layout has no separator between the packed 365 and the
	// NextClass prefix. A packed number has no terminator, so the encoder
	// writes one there; it is the only byte the two layouts differ by, and
	// decoding accepts both (TestUnmarshal_Scenario).
	reference := cat(
		"U", NextItem,
		"Oh, Hello!", NextItem,
		"\x07\x6d\x01",
		typePrefix(reflect.TypeFor[NextClass](), 0), StartObject, "F", ExitLevel,
		StartArray, "FirstStr", NextItem, "SecondStr", ExitLevel,
	)
	sepAt := len(cat("U", NextItem, "Oh, Hello!", NextItem, "\x07\x6d\x01"))
	require.Len(t, got, len(reference)+1)
	assert.Equal(t, NextItem, got[sepAt])
	assert.Equal(t, reference, append(got[:sepAt:sepAt], got[sepAt+1:]...))
}

func TestMarshal_UntypedNamed(t *testing.T) {
	got, err := Marshal(sampleTestClass(), untyped(StyleNamed))
	require.NoError(t, err)

	want := cat(
		"M", NextItem,
		"Str", NextItem, "Oh, Hello!", NextItem,
		"I", NextItem, "\x07\x6d\x01", NextItem,
		"NextCl", NextItem, StartObject, "Yoy", NextItem, "F", ExitLevel,
		"LstOfStr", NextItem, StartArray, "FirstStr", NextItem, "SecondStr", ExitLevel,
	)
	assert.Equal(t, want, got)
}

type pair struct {
	A NextClass
	B NextClass
}

func TestMarshal_CachedTypeIsShorter(t *testing.T) {
	got, err := Marshal(&pair{A: NextClass{true}}, DefaultSettings())
	require.NoError(t, err)

	first := typePrefix(reflect.TypeFor[NextClass](), 0)
	want := cat(
		"U", NextItem,
		first, StartObject, "T", ExitLevel,
		"\x00\x00", StartObject, "F", ExitLevel,
	)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, bytes.Count(got, []byte("absave.NextClass")))
	assert.Greater(t, len(first), cacheKeyLen)
}

func TestMarshal_CacheDisabled(t *testing.T) {
	s := DefaultSettings()
	s.CacheTypes = false
	got, err := Marshal(&pair{}, s)
	require.NoError(t, err)

	text := AppendTypeRef(nil, NewRegistry().Describe(reflect.TypeFor[NextClass]()))
	want := cat(
		"U", NextItem,
		text, StartObject, "F", ExitLevel,
		text, StartObject, "F", ExitLevel,
	)
	assert.Equal(t, want, got)
}

func TestMarshal_OmitTrailingTerminators(t *testing.T) {
	s := DefaultSettings()
	s.OmitTrailingTerminators = true

	got, err := Marshal(sampleTestClass(), s)
	require.NoError(t, err)
	full, err := Marshal(sampleTestClass(), DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, full[:len(full)-1], got)

	type inner struct{ Items []string }
	type outer struct{ In inner }
	v := outer{In: inner{Items: []string{}}}

	got, err = Marshal(v, untyped(StyleUnnamed))
	require.NoError(t, err)
	assert.Equal(t, []byte("V\x01\x03\x04\x05\x05"), got)

	s = untyped(StyleUnnamed)
	s.OmitTrailingTerminators = true
	got, err = Marshal(v, s)
	require.NoError(t, err)
	assert.Equal(t, []byte("V\x01\x03\x04"), got)
}

func TestMarshal_Header(t *testing.T) {
	s := untyped(StyleNamed)
	s.HasVersion, s.Version = true, 7
	got, err := Marshal("x", s)
	require.NoError(t, err)
	assert.Equal(t, []byte("M7\x01x"), got)

	s.Version = -1
	_, err = Marshal("x", s)
	assert.Error(t, err)
}

func TestMarshal_InferredStyle(t *testing.T) {
	_, err := Marshal(sampleTestClass(), Settings{Style: StyleInfer, Typed: true})
	assert.ErrorIs(t, err, ErrInferredTypeNotAllowed)

	s := Settings{Style: StyleInfer, Errors: &ErrorHandler{Suppressed: KindInferredTypeNotAllowed}}
	got, err := Marshal("x", s)
	require.NoError(t, err)
	assert.Equal(t, []byte("V\x01x"), got)
}

func TestMarshal_Numbers(t *testing.T) {
	type numbers struct {
		A int16
		B int
		C uint8
		D float32
		E *int32
	}
	got, err := Marshal(numbers{A: 243, B: 0, C: 7, D: 0}, untyped(StyleUnnamed))
	require.NoError(t, err)
	assert.Equal(t, []byte("V\x01\x01\xf3\x01\x00\x01\x01\x07\x01\x00\x01\x02"), got)
}

type envelope struct {
	Kind    string
	Payload any
}

func TestMarshal_Dynamic(t *testing.T) {
	t.Run("typed_box", func(t *testing.T) {
		got, err := Marshal(envelope{Kind: "n", Payload: int32(5)}, DefaultSettings())
		require.NoError(t, err)
		want := cat(
			"U", NextItem, "n", NextItem,
			typePrefix(reflect.TypeFor[int32](), 0), StartObject, "\x01\x05", ExitLevel,
		)
		assert.Equal(t, want, got)
	})

	t.Run("typed_object", func(t *testing.T) {
		got, err := Marshal(envelope{Payload: &NextClass{true}}, DefaultSettings())
		require.NoError(t, err)
		want := cat(
			"U", NextItem, NextItem,
			typePrefix(reflect.TypeFor[NextClass](), 0), StartObject, "T", ExitLevel,
		)
		assert.Equal(t, want, got)
	})

	t.Run("untyped_string", func(t *testing.T) {
		got, err := Marshal(envelope{Kind: "s", Payload: "hi"}, untyped(StyleUnnamed))
		require.NoError(t, err)
		assert.Equal(t, []byte("V\x01s\x01hi"), got)
	})

	t.Run("untyped_number_refused", func(t *testing.T) {
		_, err := Marshal(envelope{Payload: 5}, untyped(StyleUnnamed))
		var ute *UnsupportedTypeError
		require.True(t, errors.As(err, &ute))
		assert.Equal(t, reflect.TypeFor[int](), ute.Type)
	})

	t.Run("nil", func(t *testing.T) {
		got, err := Marshal(envelope{Kind: "z"}, DefaultSettings())
		require.NoError(t, err)
		assert.Equal(t, []byte("U\x01z\x01\x02"), got)
	})
}

func TestMarshal_TypeRefValue(t *testing.T) {
	type holder struct {
		T reflect.Type
	}
	got, err := Marshal(holder{T: reflect.TypeFor[NextClass]()}, untyped(StyleUnnamed))
	require.NoError(t, err)
	want := cat("V", NextItem, AppendTypeRef(nil, NewRegistry().Describe(reflect.TypeFor[NextClass]())))
	assert.Equal(t, want, got)
}

func TestEncoder_Stream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, untyped(StyleUnnamed))
	require.NoError(t, enc.Encode([]string{"a", "b"}))
	assert.Equal(t, "V\x01\x04a\x01b\x05", buf.String())
}
