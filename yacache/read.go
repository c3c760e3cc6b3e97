package yacache

import (
	"context"
	"net/http"
	"time"

	"github.com/YaCodeDev/yahttpcache/yaerrors"
	"github.com/redis/go-redis/v9"
)

// scanLexReverse iterates a sorted set in lex-reverse batches of pageSize,
// invoking visit for every member. visit returns false to stop iteration
// early (used by Get to stop at the first winner).
func scanLexReverse(
	ctx context.Context,
	client *redis.Client,
	key string,
	pageSize int,
	visit func(member string) (keepGoing bool),
) yaerrors.Error {
	offset := int64(0)

	for {
		members, err := client.ZRangeArgs(ctx, redis.ZRangeArgs{
			Key:     key,
			Start:   "+",
			Stop:    "-",
			ByScore: false,
			ByLex:   true,
			Rev:     true,
			Offset:  offset,
			Count:   int64(pageSize),
		}).Result()
		if err != nil {
			return yaerrors.FromError(http.StatusInternalServerError, errWrap(err, ErrFailedToZRange), "[SCAN] failed ZRANGE BYLEX REV")
		}

		if len(members) == 0 {
			return nil
		}

		for _, member := range members {
			if !visit(member) {
				return nil
			}
		}

		if len(members) < pageSize {
			return nil
		}

		offset += int64(pageSize)
	}
}

// Get implements the Vary-aware read path of §4.2: consult the tracking
// cache first, then iterate each prefix's request index most-specific-first,
// lazily scheduling cleanup of any expired identifier discovered along the
// way.
func (e *Engine) Get(ctx context.Context, key CacheKey, includeBody bool, prefixes ...string) (CacheEntry, bool, yaerrors.Error) {
	if e.isClosed() {
		return CacheEntry{}, false, nil
	}

	requestHeaders := NormalizeHeaders(key.Headers)

	if e.opts.Tracking != nil && *e.opts.Tracking && e.tracking != nil {
		for _, prefix := range e.resolvePrefixes(prefixes) {
			requestKey := trackingRequestKey(prefix, key.Origin, key.Path, key.Method)

			if entry, body, ok := e.tracking.Lookup(requestKey, requestHeaders); ok {
				if includeBody {
					entry.Body = body
				}

				return entry, true, nil
			}
		}
	}

	nowMs := time.Now().UnixMilli()

	for _, prefix := range e.resolvePrefixes(prefixes) {
		kb := e.keyBuilder(prefix)
		requestKey := kb.Request(key.Origin, key.Path, key.Method)

		var (
			winner     *Identifier
			expiredIDs []string
		)

		err := scanLexReverse(ctx, e.primary, requestKey, e.opts.MaxBatchSize, func(blob string) bool {
			identifier, derr := e.idCodec.Decode(blob)
			if derr != nil {
				e.log().Warnf("[GET] failed to decode identifier in %s: %v", requestKey, derr)

				return true
			}

			if identifier.ExpireAt*1000 < nowMs {
				expiredIDs = append(expiredIDs, blob)

				return true
			}

			if identifier.Specificity == 0 || MatchesVary(identifier.Vary, requestHeaders) {
				winner = &identifier

				return false
			}

			return true
		})
		if err != nil {
			return CacheEntry{}, false, err
		}

		if len(expiredIDs) > 0 {
			e.cleanup().Enqueue(cleanupTask{Kind: cleanupTaskMap, SetKey: requestKey, Members: expiredIDs})
			e.cleanup().Enqueue(cleanupTask{Kind: cleanupTaskKey, Prefix: prefix, Origin: key.Origin, Path: key.Path, Method: key.Method})
		}

		if winner == nil {
			continue
		}

		entry, body, found, gerr := e.loadEntry(ctx, kb, prefix, *winner, key.Origin, key.Method, key.Path, true)
		if gerr != nil {
			return CacheEntry{}, false, gerr
		}

		if !found {
			continue
		}

		if e.opts.Tracking != nil && *e.opts.Tracking && e.tracking != nil {
			requestKey := trackingRequestKey(prefix, key.Origin, key.Path, key.Method)
			e.tracking.Put(requestKey, winner.Vary, entry, body)
			e.bus.Publish(Event{Kind: EventTrackingAdd, Prefix: prefix, Origin: key.Origin, Path: key.Path, Method: key.Method, Headers: key.Headers})
		}

		if includeBody {
			entry.Body = body
		}

		return entry, true, nil
	}

	return CacheEntry{}, false, nil
}

// loadEntry fetches metadata (and body, when includeBody) for a winning
// identifier in one MGET, per §4.2 step 4.
func (e *Engine) loadEntry(
	ctx context.Context,
	kb *KeyBuilder,
	prefix string,
	identifier Identifier,
	origin, method, path string,
	includeBody bool,
) (CacheEntry, Body, bool, yaerrors.Error) {
	metadataKey := kb.Metadata(identifier.Id)

	keys := []string{metadataKey}

	bodyKey := kb.Body(identifier.Id)
	if includeBody {
		keys = append(keys, bodyKey)
	}

	values, err := e.primary.MGet(ctx, keys...).Result()
	if err != nil {
		return CacheEntry{}, nil, false, yaerrors.FromError(http.StatusInternalServerError, errWrap(err, ErrFailedToMGet), "[GET] failed MGET")
	}

	metadataRaw, ok := values[0].(string)
	if !ok {
		return CacheEntry{}, nil, false, nil
	}

	env, merr := unmarshalMetadata(metadataRaw)
	if merr != nil {
		return CacheEntry{}, nil, false, merr
	}

	entry := env.Entry
	entry.Id = identifier.Id
	entry.Prefix = prefix
	entry.Origin = origin
	entry.Method = method
	entry.Path = path
	entry.CacheTags = identifier.Tags

	var body Body

	if includeBody {
		bodyRaw, ok := values[1].(string)
		if !ok {
			return CacheEntry{}, nil, false, nil
		}

		decoded, derr := e.bodyCodec.Decode(bodyRaw)
		if derr != nil {
			return CacheEntry{}, nil, false, derr
		}

		body = decoded
	}

	return entry, body, true, nil
}
