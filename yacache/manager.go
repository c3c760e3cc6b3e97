package yacache

import (
	"context"
	"net/http"
	"time"

	"github.com/YaCodeDev/yahttpcache/yabase64"
	"github.com/YaCodeDev/yahttpcache/yaencoding"
	"github.com/YaCodeDev/yahttpcache/yaerrors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// StreamEntries implements §4.5: for each prefix, walk routes → requests →
// request and invoke cb for every non-expired identifier, up to
// Options.Concurrency variants in flight at once.
func (e *Engine) StreamEntries(ctx context.Context, cb func(CacheEntry) error, prefixes ...string) yaerrors.Error {
	if err := e.guardOpen(); err != nil {
		return err
	}

	for _, prefix := range e.resolvePrefixes(prefixes) {
		kb := e.keyBuilder(prefix)
		now := time.Now().Unix()

		var routes []string

		if err := scanLexReverse(ctx, e.primary, kb.Routes(), e.opts.MaxBatchSize, func(m string) bool {
			routes = append(routes, m)
			return true
		}); err != nil {
			return err
		}

		for _, route := range routes {
			origin, path, ok := SplitRouteMember(route)
			if !ok {
				continue
			}

			var methods []string

			if err := scanLexReverse(ctx, e.primary, kb.Requests(origin, path), e.opts.MaxBatchSize, func(m string) bool {
				methods = append(methods, m)
				return true
			}); err != nil {
				return err
			}

			for _, method := range methods {
				if err := e.streamRequest(ctx, kb, prefix, origin, path, method, now, cb); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (e *Engine) streamRequest(
	ctx context.Context,
	kb *KeyBuilder,
	prefix, origin, path, method string,
	now int64,
	cb func(CacheEntry) error,
) yaerrors.Error {
	requestKey := kb.Request(origin, path, method)

	var (
		live    []Identifier
		expired []string
	)

	if err := scanLexReverse(ctx, e.primary, requestKey, e.opts.MaxBatchSize, func(blob string) bool {
		identifier, derr := e.idCodec.Decode(blob)
		if derr != nil {
			return true
		}

		if identifier.ExpireAt < now {
			expired = append(expired, blob)
			return true
		}

		live = append(live, identifier)

		return true
	}); err != nil {
		return err
	}

	if len(expired) > 0 {
		e.cleanup().Enqueue(cleanupTask{Kind: cleanupTaskMap, SetKey: requestKey, Members: expired})
		e.cleanup().Enqueue(cleanupTask{Kind: cleanupTaskKey, Prefix: prefix, Origin: origin, Path: path, Method: method})
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Concurrency)

	for _, identifier := range live {
		identifier := identifier

		group.Go(func() error {
			entry, _, found, lerr := e.loadEntry(gctx, kb, prefix, identifier, origin, method, path, false)
			if lerr != nil {
				return lerr
			}

			if !found {
				return nil
			}

			return cb(entry)
		})
	}

	if err := group.Wait(); err != nil {
		if yerr, ok := err.(yaerrors.Error); ok {
			return yerr
		}

		return yaerrors.FromError(http.StatusInternalServerError, err, "[STREAM] failed streamEntries callback")
	}

	return nil
}

// GetTag implements §4.5's `getTag(tag, prefixes)`: iterates the tag's index
// in batches, MGETs metadata per batch, and returns deduplicated entries
// across prefixes.
func (e *Engine) GetTag(ctx context.Context, tag string, prefixes ...string) ([]CacheEntry, yaerrors.Error) {
	if err := e.guardOpen(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})

	var entries []CacheEntry

	for _, prefix := range e.resolvePrefixes(prefixes) {
		kb := e.keyBuilder(prefix)

		var ids []string

		if err := scanLexReverse(ctx, e.primary, kb.TagIndex(tag), e.opts.MaxBatchSize, func(id string) bool {
			ids = append(ids, id)
			return true
		}); err != nil {
			return nil, err
		}

		for _, batch := range batchStrings(ids, e.opts.MaxBatchSize) {
			keys := make([]string, len(batch))
			for i, id := range batch {
				keys[i] = kb.Metadata(id)
			}

			values, merr := e.primary.MGet(ctx, keys...).Result()
			if merr != nil {
				return nil, yaerrors.FromError(http.StatusInternalServerError, errWrap(merr, ErrFailedToMGet), "[GETTAG] failed MGET")
			}

			for i, v := range values {
				raw, ok := v.(string)
				if !ok {
					continue
				}

				env, derr := unmarshalMetadata(raw)
				if derr != nil {
					continue
				}

				if _, dup := seen[batch[i]]; dup {
					continue
				}

				seen[batch[i]] = struct{}{}

				entry := env.Entry
				entry.Id = batch[i]
				entry.Prefix = prefix
				entry.CacheTags = env.Identifier.Tags
				entries = append(entries, entry)
			}
		}
	}

	return entries, nil
}

// GetDependentEntries implements §4.5's `getDependentEntries(id)`: resolves
// id's tag set, gathers every entry sharing any of those tags via GetTag,
// and returns those whose tags are a superset of id's (so id's tags fully
// constrain membership, not just intersect it).
func (e *Engine) GetDependentEntries(ctx context.Context, id string, prefixes ...string) ([]CacheEntry, yaerrors.Error) {
	if err := e.guardOpen(); err != nil {
		return nil, err
	}

	var sourceTags []string

	for _, prefix := range e.resolvePrefixes(prefixes) {
		kb := e.keyBuilder(prefix)

		raw, err := e.primary.Get(ctx, kb.Metadata(id)).Result()
		if err != nil {
			continue
		}

		env, merr := unmarshalMetadata(raw)
		if merr != nil {
			continue
		}

		sourceTags = env.Identifier.Tags

		break
	}

	if len(sourceTags) == 0 {
		return nil, nil
	}

	required := make(map[string]struct{}, len(sourceTags))
	for _, t := range sourceTags {
		required[t] = struct{}{}
	}

	seen := make(map[string]struct{})

	var dependents []CacheEntry

	for _, tag := range sourceTags {
		candidates, err := e.GetTag(ctx, tag, prefixes...)
		if err != nil {
			return nil, err
		}

		for _, candidate := range candidates {
			if candidate.Id == id {
				continue
			}

			if _, dup := seen[candidate.Id]; dup {
				continue
			}

			if !containsAll(candidate.CacheTags, required) {
				continue
			}

			seen[candidate.Id] = struct{}{}
			dependents = append(dependents, candidate)
		}
	}

	return dependents, nil
}

// GetResponseById implements §4.5's `getResponseById(id)`: returns the
// decoded body as a UTF-8 string, or absent if expired/missing.
func (e *Engine) GetResponseById(ctx context.Context, id string, prefixes ...string) (string, bool, yaerrors.Error) {
	if err := e.guardOpen(); err != nil {
		return "", false, err
	}

	now := time.Now().Unix()

	for _, prefix := range e.resolvePrefixes(prefixes) {
		kb := e.keyBuilder(prefix)

		raw, err := e.primary.Get(ctx, kb.Metadata(id)).Result()
		if err != nil {
			continue
		}

		env, merr := unmarshalMetadata(raw)
		if merr != nil {
			continue
		}

		if env.Identifier.ExpireAt < now {
			continue
		}

		bodyRaw, err := e.primary.Get(ctx, kb.Body(id)).Result()
		if err != nil {
			continue
		}

		body, berr := e.bodyCodec.Decode(bodyRaw)
		if berr != nil {
			return "", false, berr
		}

		return body.String(), true, nil
	}

	return "", false, nil
}

// Subscribe implements §4.6: starts the manager keyspace-notification
// subscription and, when tracking is enabled, the tracking invalidation
// subscription.
func (e *Engine) Subscribe(ctx context.Context, prefixes ...string) yaerrors.Error {
	if err := e.guardOpen(); err != nil {
		return err
	}

	e.mu.Lock()

	if e.subscription == nil {
		e.subscription = NewSubscription(e.primary, e.bus, e.tracking, e.opts.Logger)
	}

	sub := e.subscription
	e.mu.Unlock()

	newConn := e.newSubConn
	if newConn == nil {
		newConn = func() *redis.Client { return e.primary }
	}

	if err := sub.SubscribeManager(ctx, newConn, e.opts.ClientConfigKeyspaceEventNotify, e.resolvePrefixes(prefixes)...); err != nil {
		return err
	}

	if e.opts.Tracking != nil && *e.opts.Tracking {
		if err := sub.SubscribeTracking(ctx, newConn); err != nil {
			return err
		}
	}

	return nil
}

// Stats is the introspection payload returned by Stats, per §C.2.
type Stats struct {
	Routes         int64
	Tags           int64
	PendingCleanup int
}

// Stats aggregates cardinalities of the routes/tags sets plus the current
// cleanup queue depth, for admin dashboards.
func (e *Engine) Stats(ctx context.Context, prefixes ...string) (Stats, yaerrors.Error) {
	var total Stats

	for _, prefix := range e.resolvePrefixes(prefixes) {
		kb := e.keyBuilder(prefix)

		routes, err := e.primary.ZCard(ctx, kb.Routes()).Result()
		if err != nil {
			return Stats{}, yaerrors.FromError(http.StatusInternalServerError, errWrap(err, ErrFailedToZCard), "[STATS] failed ZCARD routes")
		}

		tags, err := e.primary.ZCard(ctx, kb.Tags()).Result()
		if err != nil {
			return Stats{}, yaerrors.FromError(http.StatusInternalServerError, errWrap(err, ErrFailedToZCard), "[STATS] failed ZCARD tags")
		}

		total.Routes += routes
		total.Tags += tags
	}

	e.mu.RLock()
	if e.cleanupQueue != nil {
		total.PendingCleanup = len(e.cleanupQueue.tasks)
	}
	e.mu.RUnlock()

	return total, nil
}

// entrySnapshot is the payload ExportEntry/ImportSnapshot exchange.
type entrySnapshot struct {
	Identifier Identifier
	Entry      CacheEntry
	Body       []byte
}

// ExportEntry implements §C.3: returns a msgpack-encoded, base64-wrapped
// snapshot of {identifier, entry, body} for id.
func (e *Engine) ExportEntry(ctx context.Context, id string, prefixes ...string) (string, yaerrors.Error) {
	for _, prefix := range e.resolvePrefixes(prefixes) {
		kb := e.keyBuilder(prefix)

		raw, err := e.primary.Get(ctx, kb.Metadata(id)).Result()
		if err != nil {
			continue
		}

		env, merr := unmarshalMetadata(raw)
		if merr != nil {
			continue
		}

		bodyRaw, err := e.primary.Get(ctx, kb.Body(id)).Result()
		if err != nil {
			bodyRaw = ""
		}

		encoded, eerr := yaencoding.EncodeMessagePack(entrySnapshot{
			Identifier: env.Identifier,
			Entry:      env.Entry,
			Body:       []byte(bodyRaw),
		})
		if eerr != nil {
			return "", eerr
		}

		return yabase64.ToString(encoded), nil
	}

	return "", yaerrors.FromError(http.StatusNotFound, ErrEntryNotFound, "[EXPORT] entry not found")
}

// ImportSnapshot implements §C.3: replays a snapshot through the same write
// path CreateWriteStream uses, so dedup, tagging, and expiry indexing all
// apply identically.
func (e *Engine) ImportSnapshot(ctx context.Context, prefix string, snapshot string) yaerrors.Error {
	raw, berr := yabase64.ToBytes(snapshot)
	if berr != nil {
		return berr.Wrap("[IMPORT] invalid base64 snapshot")
	}

	decoded, derr := yaencoding.DecodeMessagePack[entrySnapshot](raw)
	if derr != nil {
		return derr.Wrap("[IMPORT] invalid message pack snapshot")
	}

	if decoded.Entry.Origin == "" || decoded.Entry.Method == "" {
		return yaerrors.FromError(http.StatusBadRequest, ErrInvalidSnapshot, "[IMPORT] snapshot missing route fields")
	}

	stream, err := e.createWriteStreamForPrefix(ctx, prefix, CacheKey{
		Origin: decoded.Entry.Origin,
		Path:   decoded.Entry.Path,
		Method: decoded.Entry.Method,
	}, decoded.Entry)
	if err != nil {
		return err
	}

	if len(decoded.Body) > 0 {
		body, berr := NewBodyCodec().Decode(string(decoded.Body))
		if berr != nil {
			return berr
		}

		for _, chunk := range body {
			if werr := stream.Write(chunk); werr != nil {
				return werr
			}
		}
	}

	return stream.Final(ctx)
}

func batchStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = DefaultMaxBatchSize
	}

	var batches [][]string

	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}

		batches = append(batches, items[i:end])
	}

	return batches
}
