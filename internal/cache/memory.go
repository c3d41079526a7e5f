package cache

import lru "github.com/hashicorp/golang-lru/v2"

// MemoryCache is an in-process LRU of recently-deserialized root programs,
// keyed the same way as the on-disk Cache (a serialized root's content
// hash). Looking a root up here avoids re-running internal/serialize.
// Deserialize for a root that was just built or loaded, which matters for a
// CLI or server re-running the same handful of roots many times in one
// process. The teacher's internal/compilationcache had no equivalent layer
// since wazero's compiled-module cache lives on the module's own struct
// instead.
type MemoryCache[V any] struct {
	lru *lru.Cache[Key, V]
}

// NewMemoryCache creates a MemoryCache holding at most size entries,
// evicting least-recently-used when full.
func NewMemoryCache[V any](size int) *MemoryCache[V] {
	c, err := lru.New[Key, V](size)
	if err != nil {
		// Only returns an error for size <= 0, a programming-error-class bug.
		panic(err)
	}
	return &MemoryCache[V]{lru: c}
}

// Get returns the cached value for key, if present.
func (m *MemoryCache[V]) Get(key Key) (V, bool) {
	return m.lru.Get(key)
}

// Add stores value under key, evicting the least-recently-used entry if the
// cache is full.
func (m *MemoryCache[V]) Add(key Key, value V) {
	m.lru.Add(key, value)
}

// Remove evicts key, if present.
func (m *MemoryCache[V]) Remove(key Key) {
	m.lru.Remove(key)
}

// Len returns the number of entries currently cached.
func (m *MemoryCache[V]) Len() int {
	return m.lru.Len()
}
