package util

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCacheSetGet(t *testing.T) {
	cache := NewLRUCache(10, time.Minute)
	defer cache.Close()

	cache.Set("key1", "value1")

	value, found := cache.Get("key1")
	assert.True(t, found)
	assert.Equal(t, "value1", value)

	_, found = cache.Get("missing")
	assert.False(t, found)
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	cache := NewLRUCache(10, time.Minute)
	defer cache.Close()

	cache.SetWithTTL("short", "gone soon", 10*time.Millisecond)

	_, found := cache.Get("short")
	assert.True(t, found)

	time.Sleep(20 * time.Millisecond)

	_, found = cache.Get("short")
	assert.False(t, found)
}

func TestLRUCacheEviction(t *testing.T) {
	cache := NewLRUCache(3, time.Minute)
	defer cache.Close()

	for i := 0; i < 5; i++ {
		cache.Set(fmt.Sprintf("key%d", i), i)
	}

	assert.Equal(t, 3, cache.Size())

	// Oldest entries were evicted
	_, found := cache.Get("key0")
	assert.False(t, found)
	_, found = cache.Get("key4")
	assert.True(t, found)
}

func TestLRUCacheRecentlyUsedSurvivesEviction(t *testing.T) {
	cache := NewLRUCache(2, time.Minute)
	defer cache.Close()

	cache.Set("a", 1)
	cache.Set("b", 2)

	// Touch "a" so "b" becomes the eviction candidate
	_, _ = cache.Get("a")
	cache.Set("c", 3)

	_, found := cache.Get("a")
	assert.True(t, found)
	_, found = cache.Get("b")
	assert.False(t, found)
}

func TestLRUCacheDelete(t *testing.T) {
	cache := NewLRUCache(10, time.Minute)
	defer cache.Close()

	cache.Set("key", "value")
	cache.Delete("key")

	_, found := cache.Get("key")
	assert.False(t, found)
	assert.Equal(t, 0, cache.Size())
}
