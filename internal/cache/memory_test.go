package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryCacheAddAndGet(t *testing.T) {
	m := NewMemoryCache[string](2)
	key := Key{1}

	_, ok := m.Get(key)
	require.False(t, ok)

	m.Add(key, "hello")
	got, ok := m.Get(key)
	require.True(t, ok)
	require.Equal(t, "hello", got)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	m := NewMemoryCache[string](2)
	k1, k2, k3 := Key{1}, Key{2}, Key{3}

	m.Add(k1, "a")
	m.Add(k2, "b")
	require.Equal(t, 2, m.Len())

	m.Add(k3, "c") // evicts k1 (least recently used)
	require.Equal(t, 2, m.Len())

	_, ok := m.Get(k1)
	require.False(t, ok)

	_, ok = m.Get(k2)
	require.True(t, ok)
}

func TestMemoryCacheRemove(t *testing.T) {
	m := NewMemoryCache[int](4)
	key := Key{9}
	m.Add(key, 42)
	m.Remove(key)

	_, ok := m.Get(key)
	require.False(t, ok)
}
