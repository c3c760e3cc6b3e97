package yacache_test

import (
	"context"
	"testing"
	"time"

	"github.com/YaCodeDev/yahttpcache/yacache"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestEngine(t *testing.T, opts yacache.Options) (*yacache.Engine, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	newClient := func() *redis.Client {
		return redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}

	primary := newClient()

	engine, yerr := yacache.NewEngine(primary, newClient, newClient, opts)
	require.Nil(t, yerr)

	cleanup := func() {
		_ = engine.Close()
		mr.Close()
	}

	return engine, cleanup
}

func disabledTracking() *bool {
	disabled := false
	return &disabled
}

func TestEngineRoundTrip(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{Tracking: disabledTracking()})
	defer cleanup()

	ctx := context.Background()

	key := yacache.CacheKey{Origin: "http://o", Path: "/", Method: "GET"}
	entry := yacache.CacheEntry{
		StatusCode:    200,
		StatusMessage: "OK",
		Headers:       map[string][]string{"Content-Type": {"text/plain"}},
		Vary:          map[string]string{},
		CachedAt:      time.Now(),
		DeleteAt:      time.Now().Add(10 * time.Second),
	}

	stream, yerr := engine.CreateWriteStream(ctx, key, entry)
	require.Nil(t, yerr)
	require.Nil(t, stream.Write([]byte("asd")))
	require.Nil(t, stream.Final(ctx))

	got, found, yerr := engine.Get(ctx, key, true)
	require.Nil(t, yerr)
	require.True(t, found)

	assert.Equal(t, "asd", got.Body.String())
	assert.Empty(t, got.CacheTags)
	assert.Equal(t, "http://o", got.Origin)
	assert.Equal(t, "GET", got.Method)
	assert.Equal(t, "/", got.Path)
	assert.NotEmpty(t, got.Id)
}

func TestEngineVaryMissAndSpecificity(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{Tracking: disabledTracking()})
	defer cleanup()

	ctx := context.Background()
	key := yacache.CacheKey{Origin: "http://o", Path: "/", Method: "GET"}

	general := yacache.CacheEntry{
		StatusCode: 200,
		DeleteAt:   time.Now().Add(10 * time.Second),
		Vary:       map[string]string{},
	}

	specific := yacache.CacheEntry{
		StatusCode: 200,
		DeleteAt:   time.Now().Add(10 * time.Second),
		Vary:       map[string]string{"Accept-Language": "en"},
	}

	for _, entry := range []yacache.CacheEntry{general, specific} {
		stream, yerr := engine.CreateWriteStream(ctx, key, entry)
		require.Nil(t, yerr)
		require.Nil(t, stream.Write([]byte("x")))
		require.Nil(t, stream.Final(ctx))
	}

	missed := yacache.CacheKey{
		Origin: "http://o", Path: "/", Method: "GET",
		Headers: map[string][]string{"Accept-Language": {"fr"}},
	}

	fallback, found, yerr := engine.Get(ctx, missed, false)
	require.Nil(t, yerr)
	require.True(t, found, "the zero-Vary variant must still match a request the specific variant misses")
	assert.Empty(t, fallback.Vary, "a variant requiring Accept-Language: en must not match fr")

	matched := yacache.CacheKey{
		Origin: "http://o", Path: "/", Method: "GET",
		Headers: map[string][]string{"Accept-Language": {"en"}},
	}

	got, found, yerr := engine.Get(ctx, matched, false)
	require.Nil(t, yerr)
	require.True(t, found)
	assert.Equal(t, "en", got.Vary["accept-language"], "the more specific variant must win")
}

func TestEngineDeduplication(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{Tracking: disabledTracking()})
	defer cleanup()

	ctx := context.Background()
	key := yacache.CacheKey{Origin: "http://o", Path: "/dup", Method: "GET"}
	entry := yacache.CacheEntry{DeleteAt: time.Now().Add(10 * time.Second), Vary: map[string]string{}}

	writeOnce := func() yacache.CacheEntry {
		stream, yerr := engine.CreateWriteStream(ctx, key, entry)
		require.Nil(t, yerr)
		require.Nil(t, stream.Write([]byte("v1")))
		require.Nil(t, stream.Final(ctx))

		got, found, yerr := engine.Get(ctx, key, false)
		require.Nil(t, yerr)
		require.True(t, found)

		return got
	}

	first := writeOnce()
	second := writeOnce()

	assert.Equal(t, first.Id, second.Id, "an identical normalized Vary write must be a no-op, not a new id")
}

func TestEngineExpiryAndLazyCleanup(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{Tracking: disabledTracking()})
	defer cleanup()

	ctx := context.Background()
	key := yacache.CacheKey{Origin: "http://o", Path: "/gone", Method: "GET"}
	entry := yacache.CacheEntry{DeleteAt: time.Now().Add(time.Second), Vary: map[string]string{}}

	stream, yerr := engine.CreateWriteStream(ctx, key, entry)
	require.Nil(t, yerr)
	require.Nil(t, stream.Write([]byte("soon-gone")))
	require.Nil(t, stream.Final(ctx))

	events, unsubscribe := engine.Events()
	defer unsubscribe()

	time.Sleep(1500 * time.Millisecond)

	_, found, yerr := engine.Get(ctx, key, false)
	require.Nil(t, yerr)
	assert.False(t, found, "an entry past its deleteAt must not be observable")

	select {
	case ev := <-events:
		assert.Equal(t, yacache.EventCleanupTask, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a cleanup:task event for the expired identifier")
	}
}

func TestEngineTagConjunctionDelete(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{
		Tracking:        disabledTracking(),
		CacheTagsHeader: "X-Cache-Tags",
	})
	defer cleanup()

	ctx := context.Background()

	write := func(path string, tags string) {
		key := yacache.CacheKey{Origin: "http://o", Path: path, Method: "GET"}
		entry := yacache.CacheEntry{
			DeleteAt: time.Now().Add(10 * time.Second),
			Vary:     map[string]string{},
			Headers:  map[string][]string{"X-Cache-Tags": {tags}},
		}

		stream, yerr := engine.CreateWriteStream(ctx, key, entry)
		require.Nil(t, yerr)
		require.Nil(t, stream.Write([]byte(path)))
		require.Nil(t, stream.Final(ctx))
	}

	write("/both", "a,b")
	write("/only-a", "a")
	write("/neither", "c")

	yerr := engine.DeleteTag(ctx, []string{"a", "b"})
	require.Nil(t, yerr)

	_, found, yerr := engine.Get(ctx, yacache.CacheKey{Origin: "http://o", Path: "/both", Method: "GET"}, false)
	require.Nil(t, yerr)
	assert.False(t, found, "an entry tagged with a superset of {a,b} must be removed")

	_, found, yerr = engine.Get(ctx, yacache.CacheKey{Origin: "http://o", Path: "/only-a", Method: "GET"}, false)
	require.Nil(t, yerr)
	assert.True(t, found, "an entry tagged with only {a} is not a superset of {a,b} and must survive")

	_, found, yerr = engine.Get(ctx, yacache.CacheKey{Origin: "http://o", Path: "/neither", Method: "GET"}, false)
	require.Nil(t, yerr)
	assert.True(t, found)
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{Tracking: disabledTracking()})
	defer cleanup()

	require.Nil(t, engine.Close())
	require.Nil(t, engine.Close())

	ctx := context.Background()
	key := yacache.CacheKey{Origin: "http://o", Path: "/", Method: "GET"}

	_, found, yerr := engine.Get(ctx, key, false)
	require.Nil(t, yerr)
	assert.False(t, found, "get on a closed cache fast-returns absent rather than erroring")

	yerr = engine.DeleteKeys(ctx, []yacache.CacheKey{key})
	assert.NotNil(t, yerr, "admin operations must throw once the cache is closed")

	yerr = engine.Delete(ctx, key)
	assert.Nil(t, yerr, "delete, like get, fast-returns no-op rather than erroring once the cache is closed")
}

func TestEngineDeleteByIdCleansUpRouteIndices(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{Tracking: disabledTracking()})
	defer cleanup()

	ctx := context.Background()
	key := yacache.CacheKey{Origin: "http://o", Path: "/only", Method: "GET"}
	entry := yacache.CacheEntry{DeleteAt: time.Now().Add(10 * time.Second), Vary: map[string]string{}}

	stream, yerr := engine.CreateWriteStream(ctx, key, entry)
	require.Nil(t, yerr)
	require.Nil(t, stream.Write([]byte("only-variant")))
	require.Nil(t, stream.Final(ctx))

	got, found, yerr := engine.Get(ctx, key, false)
	require.Nil(t, yerr)
	require.True(t, found)

	events, unsubscribe := engine.Events()
	defer unsubscribe()

	require.Nil(t, engine.DeleteIds(ctx, []string{got.Id}))

	_, found, yerr = engine.Get(ctx, key, false)
	require.Nil(t, yerr)
	assert.False(t, found, "the deleted id's variant must no longer be served")

	deadline := time.After(2 * time.Second)

	for {
		select {
		case ev := <-events:
			if ev.Kind == yacache.EventCleanupComplete {
				stats, yerr := engine.Stats(context.Background())
				require.Nil(t, yerr)
				assert.EqualValues(t, 0, stats.Routes, "deleting a route's only variant by id must clean up its route entry")

				return
			}
		case <-deadline:
			t.Fatal("expected cleanup:complete after deleting the route's only variant by id")
		}
	}
}

func TestEnginePrefixIsolation(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{Tracking: disabledTracking(), Prefix: "P"})
	defer cleanup()

	ctx := context.Background()
	key := yacache.CacheKey{Origin: "http://o", Path: "/iso", Method: "GET"}
	entry := yacache.CacheEntry{DeleteAt: time.Now().Add(10 * time.Second), Vary: map[string]string{}}

	stream, yerr := engine.CreateWriteStream(ctx, key, entry)
	require.Nil(t, yerr)
	require.Nil(t, stream.Write([]byte("p")))
	require.Nil(t, stream.Final(ctx))

	yerr = engine.Delete(ctx, key, "Q")
	require.Nil(t, yerr)

	got, found, yerr := engine.Get(ctx, key, true)
	require.Nil(t, yerr)
	require.True(t, found, "a delete scoped to a disjoint prefix must not touch prefix P's entry")
	assert.Equal(t, "p", got.Body.String())
}
