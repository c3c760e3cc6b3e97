package yacache

import (
	"strings"
	"sync"

	"github.com/YaCodeDev/yahttpcache/threadsafemap"
)

// defaultKeyBuilderCacheCap bounds the number of distinct suffixes a
// KeyBuilder memoizes before it starts evicting the oldest entries,
// FIFO-by-insertion, so long-running engines seeing an unbounded number of
// distinct routes don't grow this cache without limit.
const defaultKeyBuilderCacheCap = 4096

// KeyBuilder deterministically computes every Redis key name this engine
// touches from {prefix, origin, path, method, id}. Serialized forms are
// memoized in a thread-safe map, mirroring the teacher's ThreadSafeMap used
// as a shared lookup cache elsewhere in the corpus, to avoid re-joining the
// same route's keys on every hot-path call. The memoization is capped and
// evicted FIFO-by-insertion via order/cap below, since ThreadSafeMap itself
// has no eviction policy.
type KeyBuilder struct {
	prefix string
	cache  *threadsafemap.ThreadSafeMap[string, string]

	mu    sync.Mutex
	order []string
	cap   int
}

// NewKeyBuilder returns a KeyBuilder namespaced under prefix ("" for no
// namespace).
func NewKeyBuilder(prefix string) *KeyBuilder {
	return &KeyBuilder{
		prefix: prefix,
		cache:  threadsafemap.NewThreadSafeMap[string, string](),
		cap:    defaultKeyBuilderCacheCap,
	}
}

func (k *KeyBuilder) withPrefix(suffix string) string {
	if cached, ok := k.cache.Get(suffix); ok {
		return cached
	}

	var built string
	if k.prefix == "" {
		built = suffix
	} else {
		built = k.prefix + "|" + suffix
	}

	k.cache.Set(suffix, built)
	k.trackInsert(suffix)

	return built
}

// trackInsert records suffix's insertion order and evicts the oldest
// memoized entry once the cache exceeds cap.
func (k *KeyBuilder) trackInsert(suffix string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.order = append(k.order, suffix)

	if len(k.order) <= k.cap {
		return
	}

	oldest := k.order[0]
	k.order = k.order[1:]
	k.cache.Delete(oldest)
}

// Routes is `P|routes`, the sorted set of every `origin|path` cached under P.
func (k *KeyBuilder) Routes() string {
	return k.withPrefix("routes")
}

// Tags is `P|tags`, the sorted set of every distinct tag name under P.
func (k *KeyBuilder) Tags() string {
	return k.withPrefix("tags")
}

// TagIndex is `P|tags|τ`, the sorted set of entry ids tagged with tag.
func (k *KeyBuilder) TagIndex(tag string) string {
	return k.withPrefix("tags|" + tag)
}

// Requests is `P|requests|origin|path`, the sorted set of HTTP methods
// cached for that route.
func (k *KeyBuilder) Requests(origin, path string) string {
	return k.withPrefix("requests|" + origin + "|" + path)
}

// Request is `P|request|origin|path|method`, the sorted set of identifier
// blobs, one per variant.
func (k *KeyBuilder) Request(origin, path, method string) string {
	return k.withPrefix("request|" + origin + "|" + path + "|" + method)
}

// Variants is `P|variants|origin|path|method`, the dedup-only set of variant
// hashes.
func (k *KeyBuilder) Variants(origin, path, method string) string {
	return k.withPrefix("variants|" + origin + "|" + path + "|" + method)
}

// Metadata is `P|metadata|id`, the string key holding `{identifier, entry}`.
func (k *KeyBuilder) Metadata(id string) string {
	return k.withPrefix("metadata|" + id)
}

// Body is `P|body|id`, the string key holding the base64-chunk-joined body.
func (k *KeyBuilder) Body(id string) string {
	return k.withPrefix("body|" + id)
}

// RouteMember formats the `origin|path` member stored in Routes.
func RouteMember(origin, path string) string {
	return origin + "|" + path
}

// SplitRouteMember reverses RouteMember.
func SplitRouteMember(member string) (origin, path string, ok bool) {
	idx := strings.Index(member, "|")
	if idx < 0 {
		return "", "", false
	}

	return member[:idx], member[idx+1:], true
}
