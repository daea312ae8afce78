package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	c := New[string, int](4)
	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestGetMissing(t *testing.T) {
	c := New[string, int](4)
	_, ok := c.Get("missing")
	require.False(t, ok, "expected miss")
}

func TestFIFOEviction(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3) // evicts "a"

	_, ok := c.Get("a")
	require.False(t, ok, "expected \"a\" to be evicted")

	v, ok := c.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, v)

	v, ok = c.Get("c")
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestOverwriteDoesNotChangeEvictionOrder(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10) // overwrite, "a" stays oldest
	c.Put("c", 3)  // should evict "a", not "b"

	_, ok := c.Get("a")
	require.False(t, ok, "expected \"a\" to be evicted despite overwrite")

	v, ok := c.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestDelete(t *testing.T) {
	c := New[string, int](4)
	c.Put("a", 1)
	c.Delete("a")
	_, ok := c.Get("a")
	require.False(t, ok, "expected \"a\" to be deleted")
	require.Equal(t, 0, c.Len())
}

func TestUnboundedCapacity(t *testing.T) {
	c := New[int, int](0)
	for i := 0; i < 100; i++ {
		c.Put(i, i)
	}
	require.Equal(t, 100, c.Len())
}
