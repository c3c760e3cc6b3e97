package yacache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/YaCodeDev/yahttpcache/yaerrors"
	"github.com/YaCodeDev/yahttpcache/yalogger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store is the get/put/delete facet used by the HTTP client side of the
// cache. It is implemented by *Engine.
type Store interface {
	Get(ctx context.Context, key CacheKey, includeBody bool, prefixes ...string) (CacheEntry, bool, yaerrors.Error)
	CreateWriteStream(ctx context.Context, key CacheKey, entry CacheEntry) (*WriteStream, yaerrors.Error)
	Delete(ctx context.Context, key CacheKey, prefixes ...string) yaerrors.Error
	DeleteKeys(ctx context.Context, keys []CacheKey, prefixes ...string) yaerrors.Error
	DeleteIds(ctx context.Context, ids []string, prefixes ...string) yaerrors.Error
	DeleteTag(ctx context.Context, tags []string, prefixes ...string) yaerrors.Error
	DeleteTags(ctx context.Context, tagLists [][]string, prefixes ...string) yaerrors.Error
	Ping(ctx context.Context) yaerrors.Error
	Close() yaerrors.Error
}

// Manager is the iterate/subscribe/introspect facet used by admin tooling.
// It is implemented by *Engine.
type Manager interface {
	StreamEntries(ctx context.Context, cb func(CacheEntry) error, prefixes ...string) yaerrors.Error
	GetTag(ctx context.Context, tag string, prefixes ...string) ([]CacheEntry, yaerrors.Error)
	GetDependentEntries(ctx context.Context, id string, prefixes ...string) ([]CacheEntry, yaerrors.Error)
	GetResponseById(ctx context.Context, id string, prefixes ...string) (string, bool, yaerrors.Error)
	Subscribe(ctx context.Context, prefixes ...string) yaerrors.Error
	Stats(ctx context.Context, prefixes ...string) (Stats, yaerrors.Error)
	ExportEntry(ctx context.Context, id string, prefixes ...string) (string, yaerrors.Error)
	ImportSnapshot(ctx context.Context, prefix string, snapshot string) yaerrors.Error
	Events() (<-chan Event, func())
	Ping(ctx context.Context) yaerrors.Error
	Close() yaerrors.Error
}

// Engine is the single cohesive core exposing the Store and Manager facets
// over one shared instance, per §2 of the system overview: one primary
// Redis connection, a lazily-created secondary connection for background
// cleanup, and a lazily-created subscription plane.
type Engine struct {
	opts Options

	primary        *redis.Client
	newSecondary   func() *redis.Client
	newSubConn     func() *redis.Client

	bodyCodec *BodyCodec
	idCodec   *IdentifierCodec
	bus       *EventBus
	tracking  *TrackingCache

	mu           sync.RWMutex
	keyBuilders  map[string]*KeyBuilder
	cleanupQueue *CleanupQueue
	secondary    *redis.Client
	subscription *Subscription
	closed       bool
}

// NewEngine validates opts and constructs an Engine against primary.
// newSecondary/newSubConn mint additional clients lazily, the first time
// cleanup or subscription work actually needs them; pass the same factory
// (e.g. one that redials the same address) in production, or one that
// points at the same miniredis instance in tests.
func NewEngine(
	primary *redis.Client,
	newSecondary func() *redis.Client,
	newSubConn func() *redis.Client,
	opts Options,
) (*Engine, yaerrors.Error) {
	resolved, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	var tracking *TrackingCache
	if resolved.Tracking != nil && *resolved.Tracking {
		tracking = NewTrackingCache(resolved.MaxTrackingSize, resolved.MaxTrackingCount)
	}

	return &Engine{
		opts:         resolved,
		primary:      primary,
		newSecondary: newSecondary,
		newSubConn:   newSubConn,
		bodyCodec:    NewBodyCodec(),
		idCodec:      NewIdentifierCodec(),
		bus:          NewEventBus(),
		tracking:     tracking,
		keyBuilders:  make(map[string]*KeyBuilder),
	}, nil
}

// Events exposes the engine's event bus to subscribers (admin dashboards,
// tests asserting on `cleanup:complete`, etc).
func (e *Engine) Events() (<-chan Event, func()) {
	return e.bus.Subscribe(64)
}

func (e *Engine) keyBuilder(prefix string) *KeyBuilder {
	e.mu.Lock()
	defer e.mu.Unlock()

	if kb, ok := e.keyBuilders[prefix]; ok {
		return kb
	}

	kb := NewKeyBuilder(prefix)
	e.keyBuilders[prefix] = kb

	return kb
}

func (e *Engine) resolvePrefixes(prefixes []string) []string {
	if len(prefixes) > 0 {
		return prefixes
	}

	return []string{e.opts.Prefix}
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.closed
}

func (e *Engine) guardOpen() yaerrors.Error {
	if e.isClosed() {
		return yaerrors.FromString(http.StatusConflict, ErrCacheClosed.Error())
	}

	return nil
}

func (e *Engine) cleanup() *CleanupQueue {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cleanupQueue == nil {
		e.cleanupQueue = NewCleanupQueue(e.secondaryClientLocked(), e.bus)
	}

	return e.cleanupQueue
}

// secondaryClientLocked assumes e.mu is already held.
func (e *Engine) secondaryClientLocked() *redis.Client {
	if e.secondary == nil {
		if e.newSecondary != nil {
			e.secondary = e.newSecondary()
		} else {
			e.secondary = e.primary
		}
	}

	return e.secondary
}

// newID generates a collision-resistant entry id.
func newID() string {
	return uuid.NewString()
}

// Ping verifies the primary connection and, if established, the secondary
// connection, returning the first failure. Subscription connections are not
// pinged.
func (e *Engine) Ping(ctx context.Context) yaerrors.Error {
	if err := e.primary.Ping(ctx).Err(); err != nil {
		return yaerrors.FromError(http.StatusInternalServerError, errors.Join(err, ErrFailedToPing), "[ENGINE] primary connection unhealthy")
	}

	e.mu.RLock()
	secondary := e.secondary
	e.mu.RUnlock()

	if secondary != nil && secondary != e.primary {
		if err := secondary.Ping(ctx).Err(); err != nil {
			return yaerrors.FromError(http.StatusInternalServerError, errors.Join(err, ErrFailedToPing), "[ENGINE] secondary connection unhealthy")
		}
	}

	return nil
}

// Close idempotently drains the cleanup queue and disconnects every
// connectable Redis client. Per §5, second and later calls are no-ops.
func (e *Engine) Close() yaerrors.Error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()

		return nil
	}

	e.closed = true
	queue := e.cleanupQueue
	secondary := e.secondary
	subscription := e.subscription
	e.mu.Unlock()

	if queue != nil {
		queue.Close()
		queue.Drain()
	}

	var firstErr yaerrors.Error

	if subscription != nil {
		if err := subscription.Close(); err != nil {
			firstErr = err
		}
	}

	if err := e.primary.Close(); err != nil && firstErr == nil {
		firstErr = yaerrors.FromError(http.StatusInternalServerError, err, "[ENGINE] failed to close primary connection")
	}

	if secondary != nil && secondary != e.primary {
		if err := secondary.Close(); err != nil && firstErr == nil {
			firstErr = yaerrors.FromError(http.StatusInternalServerError, err, "[ENGINE] failed to close secondary connection")
		}
	}

	return firstErr
}

func (e *Engine) log() yalogger.Logger {
	return e.opts.Logger
}

func splitHeaderValue(value string) []string {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	return parts
}
