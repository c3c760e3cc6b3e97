// Package yacache implements the v2 Redis/Valkey-backed HTTP response cache
// engine: key layout, Vary-aware read path, write path with expiry and tag
// indexing, invalidation by key/tag/id, lazy cleanup of index sets, a local
// tracking cache kept coherent via Redis client-side tracking, and the
// event/subscription plane consumed by cache managers.
package yacache

import "time"

// CacheKey is the request fingerprint supplied by the HTTP layer. Headers and
// Id are optional: Headers select a variant on read, Id refers to a
// pre-existing entry for operations that act on a known id.
type CacheKey struct {
	Origin  string
	Path    string
	Method  string
	Headers map[string][]string
	Id      string
}

// CacheEntry is the metadata produced by the HTTP layer on write and
// completed by the engine on read.
type CacheEntry struct {
	StatusCode             int
	StatusMessage          string
	Headers                map[string][]string
	Vary                   map[string]string
	CachedAt               time.Time
	StaleAt                time.Time
	DeleteAt               time.Time
	CacheControlDirectives []string

	// Populated by the engine, never set by callers on write.
	Id        string
	Prefix    string
	Origin    string
	Method    string
	Path      string
	CacheTags []string

	// Body is populated by Get when includeBody is true. Callers writing a
	// new entry leave this nil; the write path reads chunks through
	// WriteStream instead.
	Body Body `json:"-"`
}

// Body is an ordered, finite sequence of binary chunks.
type Body [][]byte

// String concatenates the body chunks as UTF-8 text.
func (b Body) String() string {
	var out []byte

	for _, chunk := range b {
		out = append(out, chunk...)
	}

	return string(out)
}

// Identifier is the per-variant descriptor kept in the request sorted set.
// Score is the zero-padded Specificity so that lexicographic ordering of the
// serialized blob ranks the most specific variant first.
type Identifier struct {
	Score       string            `json:"score"`
	Id          string            `json:"id"`
	Specificity int               `json:"specificity"`
	Vary        map[string]string `json:"vary"`
	Hash        string            `json:"hash"`
	Tags        []string          `json:"tags"`
	ExpireAt    int64             `json:"expireAt"`
}

// cleanupTaskKind enumerates the three shapes of deferred work the lazy
// cleanup queue drains.
type cleanupTaskKind uint8

const (
	cleanupTaskMap cleanupTaskKind = iota
	cleanupTaskTags
	cleanupTaskKey
)

// cleanupTask is one deferred mutation to purge empty or expired index
// members. Only the payload fields used by Kind are populated; Prefix is set
// for both cleanupTaskTags and cleanupTaskKey.
type cleanupTask struct {
	Kind cleanupTaskKind

	// cleanupTaskMap
	SetKey  string
	Members []string

	// cleanupTaskTags
	Tags []string

	// cleanupTaskKey
	Prefix string
	Origin string
	Path   string
	Method string
}
