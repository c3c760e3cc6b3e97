package yacache_test

import (
	"context"
	"testing"
	"time"

	"github.com/YaCodeDev/yahttpcache/yacache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTagged(t *testing.T, engine *yacache.Engine, path, tags string) yacache.CacheEntry {
	t.Helper()

	ctx := context.Background()
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

	got, found, yerr := engine.Get(ctx, key, false)
	require.Nil(t, yerr)
	require.True(t, found)

	return got
}

func TestManagerGetTag(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{
		Tracking:        disabledTracking(),
		CacheTagsHeader: "X-Cache-Tags",
	})
	defer cleanup()

	writeTagged(t, engine, "/x", "shared")
	writeTagged(t, engine, "/y", "shared")
	writeTagged(t, engine, "/z", "other")

	entries, yerr := engine.GetTag(context.Background(), "shared")
	require.Nil(t, yerr)
	assert.Len(t, entries, 2)
}

func TestManagerGetDependentEntries(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{
		Tracking:        disabledTracking(),
		CacheTagsHeader: "X-Cache-Tags",
	})
	defer cleanup()

	parent := writeTagged(t, engine, "/parent", "a")
	writeTagged(t, engine, "/child", "a,b")
	writeTagged(t, engine, "/unrelated", "b")

	dependents, yerr := engine.GetDependentEntries(context.Background(), parent.Id)
	require.Nil(t, yerr)
	require.Len(t, dependents, 1)
	assert.Equal(t, "/child", dependents[0].Path)
}

func TestManagerStats(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{
		Tracking:        disabledTracking(),
		CacheTagsHeader: "X-Cache-Tags",
	})
	defer cleanup()

	writeTagged(t, engine, "/a", "t1")
	writeTagged(t, engine, "/b", "t2")

	stats, yerr := engine.Stats(context.Background())
	require.Nil(t, yerr)
	assert.EqualValues(t, 2, stats.Routes)
	assert.EqualValues(t, 2, stats.Tags)
}

func TestManagerExportImportSnapshot(t *testing.T) {
	engine, cleanup := setupTestEngine(t, yacache.Options{Tracking: disabledTracking()})
	defer cleanup()

	ctx := context.Background()
	key := yacache.CacheKey{Origin: "http://o", Path: "/snap", Method: "GET"}
	entry := yacache.CacheEntry{DeleteAt: time.Now().Add(10 * time.Second), Vary: map[string]string{}}

	stream, yerr := engine.CreateWriteStream(ctx, key, entry)
	require.Nil(t, yerr)
	require.Nil(t, stream.Write([]byte("snapshot-body")))
	require.Nil(t, stream.Final(ctx))

	got, found, yerr := engine.Get(ctx, key, false)
	require.Nil(t, yerr)
	require.True(t, found)

	snapshot, yerr := engine.ExportEntry(ctx, got.Id)
	require.Nil(t, yerr)
	assert.NotEmpty(t, snapshot)

	require.Nil(t, engine.DeleteKeys(ctx, []yacache.CacheKey{key}))

	_, found, yerr = engine.Get(ctx, key, false)
	require.Nil(t, yerr)
	require.False(t, found, "the original entry must be gone before re-importing")

	require.Nil(t, engine.ImportSnapshot(ctx, "", snapshot))

	restored, found, yerr := engine.Get(ctx, key, true)
	require.Nil(t, yerr)
	require.True(t, found)
	assert.Equal(t, "snapshot-body", restored.Body.String())
}
