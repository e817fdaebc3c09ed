package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CacheKey(t *testing.T) {
	t.Parallel()

	k1 := CacheKey("u1", "urgent emails", "")
	k2 := CacheKey("u1", "urgent emails", "")
	k3 := CacheKey("u1", "urgent emails", "alice")
	k4 := CacheKey("u2", "urgent emails", "")

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
}

func Test_QueryCache_GetSet(t *testing.T) {
	t.Parallel()

	c := NewQueryCache(5 * time.Minute)
	key := CacheKey("u1", "q", "")

	_, ok := c.Get(key)
	require.False(t, ok)

	docs := []RetrievedDoc{{MessageID: 1, ChunkID: "1_0"}}
	c.Set(key, docs)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, docs, got)
	assert.Equal(t, 1, c.Len())
}

func Test_QueryCache_Expiry(t *testing.T) {
	t.Parallel()

	c := NewQueryCache(time.Minute)
	current := time.Now()
	c.now = func() time.Time { return current }

	key := CacheKey("u1", "q", "")
	c.Set(key, []RetrievedDoc{{MessageID: 1}})

	current = current.Add(30 * time.Second)
	_, ok := c.Get(key)
	assert.True(t, ok)

	current = current.Add(2 * time.Minute)
	_, ok = c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func Test_QueryCache_Clear(t *testing.T) {
	t.Parallel()

	c := NewQueryCache(time.Minute)
	c.Set(CacheKey("u1", "a", ""), []RetrievedDoc{{MessageID: 1}})
	c.Set(CacheKey("u1", "b", ""), []RetrievedDoc{{MessageID: 2}})
	require.Equal(t, 2, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
