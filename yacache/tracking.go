package yacache

import (
	"container/list"
	"sync"
)

// trackingVariant is the shadow copy of one cached variant held by the
// TrackingCache: enough to answer a Vary-aware lookup without a Redis round
// trip.
type trackingVariant struct {
	vary  map[string]string
	entry CacheEntry
	body  Body
	size  int64
}

type trackingEntryList struct {
	requestKey string
	variants   []trackingVariant
}

// TrackingCache is the local LRU kept coherent with Redis via client-side
// invalidation messages: populated on read-path misses, evicted by the
// tracking subscription. It is non-authoritative - a shadow, never the
// source of truth - per the data model's ownership section.
type TrackingCache struct {
	mu       sync.Mutex
	order    *list.List
	index    map[string]*list.Element
	maxSize  int64
	maxCount int
	size     int64
}

// NewTrackingCache returns an empty TrackingCache. maxSize/maxCount of zero
// mean unbounded, matching Options' documented defaults.
func NewTrackingCache(maxSize int64, maxCount int) *TrackingCache {
	return &TrackingCache{
		order:    list.New(),
		index:    make(map[string]*list.Element),
		maxSize:  maxSize,
		maxCount: maxCount,
	}
}

// Lookup searches the request key's known variants for one whose Vary
// requirements match requestHeaders, returning the most specific match.
// Ties are broken by the order variants were inserted, mirroring the
// request sorted set's score-first ordering.
func (t *TrackingCache) Lookup(requestKey string, requestHeaders map[string]string) (CacheEntry, Body, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.index[requestKey]
	if !ok {
		return CacheEntry{}, nil, false
	}

	entryList := elem.Value.(*trackingEntryList)

	var (
		best      *trackingVariant
		bestScore = -1
	)

	for i := range entryList.variants {
		v := &entryList.variants[i]
		if !MatchesVary(v.vary, requestHeaders) {
			continue
		}

		if len(v.vary) > bestScore {
			bestScore = len(v.vary)
			best = v
		}
	}

	if best == nil {
		return CacheEntry{}, nil, false
	}

	t.order.MoveToFront(elem)

	return best.entry, best.body, true
}

// Put records or replaces the variant for requestKey identified by its
// normalized Vary map, evicting the least recently used request key(s) if
// the configured size/count caps are exceeded.
func (t *TrackingCache) Put(requestKey string, vary map[string]string, entry CacheEntry, body Body) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := estimateSize(entry, body)

	if elem, ok := t.index[requestKey]; ok {
		entryList := elem.Value.(*trackingEntryList)

		for i, v := range entryList.variants {
			if hashEqual(v.vary, vary) {
				t.size += size - v.size
				entryList.variants[i] = trackingVariant{vary: vary, entry: entry, body: body, size: size}
				t.order.MoveToFront(elem)

				return
			}
		}

		entryList.variants = append(entryList.variants, trackingVariant{vary: vary, entry: entry, body: body, size: size})
		t.size += size
		t.order.MoveToFront(elem)
		t.evictIfNeeded()

		return
	}

	entryList := &trackingEntryList{
		requestKey: requestKey,
		variants:   []trackingVariant{{vary: vary, entry: entry, body: body, size: size}},
	}
	elem := t.order.PushFront(entryList)
	t.index[requestKey] = elem
	t.size += size

	t.evictIfNeeded()
}

// Evict removes every variant for requestKey, as called by the tracking
// subscription when Redis reports the underlying request key changed.
func (t *TrackingCache) Evict(requestKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.index[requestKey]
	if !ok {
		return
	}

	t.removeElement(elem)
}

// Len reports how many request keys currently have at least one cached
// variant.
func (t *TrackingCache) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.index)
}

func (t *TrackingCache) removeElement(elem *list.Element) {
	entryList := elem.Value.(*trackingEntryList)

	for _, v := range entryList.variants {
		t.size -= v.size
	}

	delete(t.index, entryList.requestKey)
	t.order.Remove(elem)
}

func (t *TrackingCache) evictIfNeeded() {
	for (t.maxCount > 0 && len(t.index) > t.maxCount) || (t.maxSize > 0 && t.size > t.maxSize) {
		back := t.order.Back()
		if back == nil {
			return
		}

		t.removeElement(back)
	}
}

func estimateSize(entry CacheEntry, body Body) int64 {
	var size int64

	for _, chunk := range body {
		size += int64(len(chunk))
	}

	for k, vs := range entry.Headers {
		size += int64(len(k))

		for _, v := range vs {
			size += int64(len(v))
		}
	}

	return size
}

func hashEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}

	for k, v := range a {
		if b[k] != v {
			return false
		}
	}

	return true
}
