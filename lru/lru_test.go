package lru

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheEvictsOldestUnpinnedWhenOverBudget(t *testing.T) {
	pinned := map[string]bool{}
	c := New[string, int](3, nil, func(k string) bool { return pinned[k] })

	c.Insert("a", 1)
	c.Insert("b", 2)
	c.Insert("c", 3)
	c.Insert("d", 4) // over budget of 3 entries, "a" is oldest

	_, ok := c.Get("a")
	require.False(t, ok)
	_, ok = c.Get("d")
	require.True(t, ok)
	require.LessOrEqual(t, c.Len(), 3)
}

func TestCacheSkipsPinnedEntriesOnEviction(t *testing.T) {
	pinned := map[string]bool{"a": true}
	c := New[string, int](2, nil, func(k string) bool { return pinned[k] })

	c.Insert("a", 1)
	c.Insert("b", 2)
	c.Insert("c", 3) // "a" is pinned, so "b" should be evicted instead

	_, ok := c.Get("a")
	require.True(t, ok, "pinned entry must survive eviction")
	_, ok = c.Get("b")
	require.False(t, ok)
}

func TestCacheByteMeterBudget(t *testing.T) {
	meter := func(v []byte) int64 { return int64(len(v)) }
	c := New[string, []byte](10, meter, nil)

	c.Insert("a", make([]byte, 6))
	c.Insert("b", make([]byte, 6))
	require.LessOrEqual(t, c.Used(), int64(10))
}

func TestRefCountOverflowAndUnderflow(t *testing.T) {
	var r RefCount
	require.Error(t, r.Dec())

	require.NoError(t, r.Inc())
	require.Equal(t, uint32(1), r.Value())
	require.NoError(t, r.Dec())
	require.True(t, r.IsZero())

	r = RefCount(^uint32(0))
	require.Error(t, r.Inc())
}
