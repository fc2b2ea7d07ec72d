package absave

import (
	"math"
	"reflect"
)

// ============================================================
// Type Identity Cache
// ============================================================

// CacheEntry is one cached type identity.
type CacheEntry struct {
	Key  uint16
	Text string // Unescaped TypeRef text
	Type reflect.Type
}

// TypeCache assigns short keys to type identities within one session.
//
// Keys are allocated monotonically from 0. When the next key would be
// 0xFFFF the cache disables itself for the rest of the session. Encoders
// and decoders run the same allocation so both sides agree on every key.
type TypeCache struct {
	enabled bool
	next    uint16
	byType  map[reflect.Type]uint16
	entries []CacheEntry
}

// NewTypeCache creates a cache. A disabled cache never allocates.
func NewTypeCache(enabled bool) *TypeCache {
	return &TypeCache{
		enabled: enabled,
		byType:  make(map[reflect.Type]uint16),
	}
}

// Enabled reports whether new keys can still be allocated.
func (c *TypeCache) Enabled() bool {
	return c.enabled
}

// Len returns the number of allocated keys.
func (c *TypeCache) Len() int {
	return len(c.entries)
}

// Lookup returns the key previously allocated for t. A disabled cache
// resolves nothing.
func (c *TypeCache) Lookup(t reflect.Type) (uint16, bool) {
	if !c.enabled {
		return 0, false
	}
	k, ok := c.byType[t]
	return k, ok
}

// Allocate assigns the next key to t. It returns false when the cache is
// disabled or exhausted.
func (c *TypeCache) Allocate(t reflect.Type, text string) (uint16, bool) {
	if !c.enabled {
		return 0, false
	}
	key := c.next
	c.entries = append(c.entries, CacheEntry{Key: key, Text: text, Type: t})
	c.byType[t] = key
	c.next++
	if c.next == math.MaxUint16 {
		c.enabled = false
	}
	return key, true
}

// Register mirrors an encoder allocation on the decoding side. It returns
// false if the cache is disabled or key is not the next expected key.
func (c *TypeCache) Register(key uint16, text string, t reflect.Type) bool {
	if !c.enabled || key != c.next {
		return false
	}
	_, ok := c.Allocate(t, text)
	return ok
}

// Resolve returns the entry for a key.
func (c *TypeCache) Resolve(key uint16) (CacheEntry, bool) {
	if !c.enabled || int(key) >= len(c.entries) {
		return CacheEntry{}, false
	}
	return c.entries[key], true
}
