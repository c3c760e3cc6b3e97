package yacache_test

import (
	"testing"

	"github.com/YaCodeDev/yahttpcache/yacache"
	"github.com/stretchr/testify/assert"
)

func TestTrackingCacheLookupBySpecificity(t *testing.T) {
	cache := yacache.NewTrackingCache(0, 0)

	general := yacache.CacheEntry{StatusCode: 200}
	specific := yacache.CacheEntry{StatusCode: 200, Vary: map[string]string{"accept-language": "en"}}

	cache.Put("req", map[string]string{}, general, nil)
	cache.Put("req", map[string]string{"accept-language": "en"}, specific, nil)

	got, _, found := cache.Lookup("req", map[string]string{"accept-language": "en"})
	assert.True(t, found)
	assert.Equal(t, "en", got.Vary["accept-language"])

	got, _, found = cache.Lookup("req", map[string]string{"accept-language": "fr"})
	assert.True(t, found, "the zero-Vary variant must still match any request")
	assert.Empty(t, got.Vary)
}

func TestTrackingCacheLookupMiss(t *testing.T) {
	cache := yacache.NewTrackingCache(0, 0)

	_, _, found := cache.Lookup("unknown", map[string]string{})
	assert.False(t, found)
}

func TestTrackingCachePutReplacesSameVariant(t *testing.T) {
	cache := yacache.NewTrackingCache(0, 0)

	vary := map[string]string{"accept-language": "en"}
	cache.Put("req", vary, yacache.CacheEntry{StatusCode: 200}, nil)
	cache.Put("req", vary, yacache.CacheEntry{StatusCode: 304}, nil)

	got, _, found := cache.Lookup("req", vary)
	assert.True(t, found)
	assert.Equal(t, 1, cache.Len(), "replacing the same normalized Vary must not grow the cache's request-key count")
	assert.Equal(t, 304, got.StatusCode)
}

func TestTrackingCacheEvict(t *testing.T) {
	cache := yacache.NewTrackingCache(0, 0)

	cache.Put("req", map[string]string{}, yacache.CacheEntry{}, nil)
	assert.Equal(t, 1, cache.Len())

	cache.Evict("req")
	assert.Equal(t, 0, cache.Len())

	_, _, found := cache.Lookup("req", map[string]string{})
	assert.False(t, found)
}

func TestTrackingCacheEvictsLeastRecentlyUsedByCount(t *testing.T) {
	cache := yacache.NewTrackingCache(0, 2)

	cache.Put("a", map[string]string{}, yacache.CacheEntry{}, nil)
	cache.Put("b", map[string]string{}, yacache.CacheEntry{}, nil)

	// Touch "a" so "b" becomes the least recently used entry.
	_, _, _ = cache.Lookup("a", map[string]string{})

	cache.Put("c", map[string]string{}, yacache.CacheEntry{}, nil)

	assert.Equal(t, 2, cache.Len())

	_, _, found := cache.Lookup("b", map[string]string{})
	assert.False(t, found, "the least recently used request key must be evicted once maxCount is exceeded")

	_, _, found = cache.Lookup("a", map[string]string{})
	assert.True(t, found)

	_, _, found = cache.Lookup("c", map[string]string{})
	assert.True(t, found)
}

func TestTrackingCacheEvictsBySize(t *testing.T) {
	cache := yacache.NewTrackingCache(10, 0)

	cache.Put("a", map[string]string{}, yacache.CacheEntry{}, yacache.Body{[]byte("0123456789")})
	cache.Put("b", map[string]string{}, yacache.CacheEntry{}, yacache.Body{[]byte("0123456789")})

	assert.Equal(t, 1, cache.Len(), "total tracked size must not exceed maxSize")

	_, _, found := cache.Lookup("a", map[string]string{})
	assert.False(t, found)

	_, _, found = cache.Lookup("b", map[string]string{})
	assert.True(t, found)
}
