package absave

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeCache_Allocate(t *testing.T) {
	c := NewTypeCache(true)
	strT, intT := reflect.TypeFor[string](), reflect.TypeFor[int]()

	k, ok := c.Allocate(strT, "string,")
	require.True(t, ok)
	assert.Equal(t, uint16(0), k)

	k, ok = c.Allocate(intT, "int,")
	require.True(t, ok)
	assert.Equal(t, uint16(1), k)

	k, ok = c.Lookup(strT)
	assert.True(t, ok)
	assert.Equal(t, uint16(0), k)

	ent, ok := c.Resolve(1)
	require.True(t, ok)
	assert.Equal(t, CacheEntry{Key: 1, Text: "int,", Type: intT}, ent)

	_, ok = c.Resolve(2)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestTypeCache_Disabled(t *testing.T) {
	c := NewTypeCache(false)
	_, ok := c.Allocate(reflect.TypeFor[string](), "string,")
	assert.False(t, ok)
	assert.False(t, c.Register(0, "string,", nil))
	assert.Equal(t, 0, c.Len())
}

func TestTypeCache_Register(t *testing.T) {
	c := NewTypeCache(true)
	assert.False(t, c.Register(1, "T,m", nil), "key out of sequence")
	assert.True(t, c.Register(0, "T,m", nil))
	assert.True(t, c.Register(1, "U,m", nil))

	ent, ok := c.Resolve(1)
	require.True(t, ok)
	assert.Equal(t, "U,m", ent.Text)
}

func TestTypeCache_Exhaustion(t *testing.T) {
	c := NewTypeCache(true)
	typ := reflect.TypeFor[string]()

	for i := 0; i < 0xFFFF; i++ {
		k, ok := c.Allocate(typ, "string,")
		require.True(t, ok, "allocation %d", i)
		require.Equal(t, uint16(i), k)
	}

	assert.False(t, c.Enabled())
	_, ok := c.Allocate(typ, "string,")
	assert.False(t, ok)
	_, ok = c.Lookup(typ)
	assert.False(t, ok, "an exhausted cache resolves nothing")
	_, ok = c.Resolve(0)
	assert.False(t, ok)
}
