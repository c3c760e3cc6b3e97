package yacache

import (
	"context"
	"net/http"
	"sort"

	"github.com/YaCodeDev/yahttpcache/yaerrors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Delete implements §4.4's `delete(key)`: for every method cached under the
// route, delegate to DeleteKeys.
func (e *Engine) Delete(ctx context.Context, key CacheKey, prefixes ...string) yaerrors.Error {
	if e.isClosed() {
		return nil
	}

	var keys []CacheKey

	for _, prefix := range e.resolvePrefixes(prefixes) {
		kb := e.keyBuilder(prefix)

		methods, err := e.primary.ZRangeArgs(ctx, redis.ZRangeArgs{
			Key: kb.Requests(key.Origin, key.Path), Start: "+", Stop: "-", ByLex: true, Rev: true,
		}).Result()
		if err != nil {
			return yaerrors.FromError(http.StatusInternalServerError, errWrap(err, ErrFailedToZRange), "[DELETE] failed to list methods")
		}

		for _, method := range methods {
			keys = append(keys, CacheKey{Origin: key.Origin, Path: key.Path, Method: method})
		}
	}

	return e.DeleteKeys(ctx, keys, prefixes...)
}

// DeleteKeys implements §4.4's `deleteKeys(keys)`: de-duplicates by
// (origin, path, method) and, per key, removes either the single identified
// variant or every variant in the route's request index, then cleans up
// empty tag/route indices.
func (e *Engine) DeleteKeys(ctx context.Context, keys []CacheKey, prefixes ...string) yaerrors.Error {
	if err := e.guardOpen(); err != nil {
		return err
	}

	type routeKey struct{ origin, path, method string }

	dedup := make(map[routeKey]CacheKey)

	for _, k := range keys {
		dedup[routeKey{k.Origin, k.Path, k.Method}] = k
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Concurrency)

	for _, k := range dedup {
		k := k

		group.Go(func() error {
			return e.deleteOneRoute(gctx, k, prefixes)
		})
	}

	if err := group.Wait(); err != nil {
		if yerr, ok := err.(yaerrors.Error); ok {
			return yerr
		}

		return yaerrors.FromError(http.StatusInternalServerError, err, "[DELETE] failed deleteKeys")
	}

	return nil
}

func (e *Engine) deleteOneRoute(ctx context.Context, key CacheKey, prefixes []string) yaerrors.Error {
	for _, prefix := range e.resolvePrefixes(prefixes) {
		kb := e.keyBuilder(prefix)

		if key.Id != "" {
			if err := e.deleteByID(ctx, kb, prefix, key.Id, key.Origin, key.Path, key.Method); err != nil {
				return err
			}
		} else {
			requestKey := kb.Request(key.Origin, key.Path, key.Method)

			affectedTags := make(map[string]struct{})

			type variant struct {
				identifier Identifier
				blob       string
			}

			var variants []variant

			err := scanLexReverse(ctx, e.primary, requestKey, e.opts.MaxBatchSize, func(blob string) bool {
				identifier, derr := e.idCodec.Decode(blob)
				if derr != nil {
					return true
				}

				for _, tag := range identifier.Tags {
					affectedTags[tag] = struct{}{}
				}

				variants = append(variants, variant{identifier: identifier, blob: blob})

				return true
			})
			if err != nil {
				return err
			}

			// Removal runs after the scan so that shrinking the set does not
			// shift later pages past members the offset-based scan has not
			// visited yet.
			for _, v := range variants {
				e.removeVariant(ctx, kb, prefix, v.identifier, v.blob, key.Origin, key.Path, key.Method)
			}

			tags := make([]string, 0, len(affectedTags))
			for tag := range affectedTags {
				tags = append(tags, tag)
			}

			sort.Strings(tags)

			if len(tags) > 0 {
				if err := e.deleteTagsIfEmpty(ctx, kb, prefix, tags); err != nil {
					return err
				}
			}
		}

		// Both branches may have emptied the request's method set and the
		// route itself, so the lazy-cleanup check applies regardless of
		// whether this delete targeted a single id or the whole variant set.
		e.cleanup().Enqueue(cleanupTask{Kind: cleanupTaskKey, Prefix: prefix, Origin: key.Origin, Path: key.Path, Method: key.Method})
	}

	return nil
}

// deleteByID removes exactly the variant identified by id, recovering its
// identifier blob from metadata first.
func (e *Engine) deleteByID(ctx context.Context, kb *KeyBuilder, prefix, id, origin, path, method string) yaerrors.Error {
	metadataRaw, err := e.primary.Get(ctx, kb.Metadata(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}

		return yaerrors.FromError(http.StatusInternalServerError, errWrap(err, ErrFailedToGet), "[DELETE] failed to fetch metadata")
	}

	env, merr := unmarshalMetadata(metadataRaw)
	if merr != nil {
		return merr
	}

	blob := e.idCodec.Encode(env.Identifier)

	e.removeVariant(ctx, kb, prefix, env.Identifier, blob, origin, path, method)

	if len(env.Identifier.Tags) > 0 {
		return e.deleteTagsIfEmpty(ctx, kb, prefix, env.Identifier.Tags)
	}

	return nil
}

// removeVariant issues the per-variant removal pipeline and emits
// entry:delete, per §4.4's deleteKeys bullet on explicit id deletes.
func (e *Engine) removeVariant(
	ctx context.Context,
	kb *KeyBuilder,
	prefix string,
	identifier Identifier,
	blob string,
	origin, path, method string,
) {
	pipe := e.primary.TxPipeline()
	pipe.Del(ctx, kb.Metadata(identifier.Id))
	pipe.Del(ctx, kb.Body(identifier.Id))
	pipe.ZRem(ctx, kb.Variants(origin, path, method), identifier.Hash)
	pipe.ZRem(ctx, kb.Request(origin, path, method), blob)

	for _, tag := range identifier.Tags {
		pipe.ZRem(ctx, kb.TagIndex(tag), identifier.Id)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		wrapped := yaerrors.FromError(http.StatusInternalServerError, errWrap(err, ErrFailedToDel), "[DELETE] failed variant removal pipeline")
		e.opts.ErrorCallback(wrapped)
		e.bus.Publish(Event{Kind: EventError, Err: wrapped})

		return
	}

	e.bus.Publish(Event{Kind: EventEntryDelete, Prefix: prefix, Id: identifier.Id})
}

// deleteTagsIfEmpty enqueues a tags cleanup task that drops each of tags from
// the tags set once its tag index is empty; no entries are deleted here.
func (e *Engine) deleteTagsIfEmpty(ctx context.Context, kb *KeyBuilder, prefix string, tags []string) yaerrors.Error {
	e.cleanup().Enqueue(cleanupTask{Kind: cleanupTaskTags, Prefix: prefix, Tags: tags})

	return nil
}

// DeleteIds implements §4.4's `deleteIds(ids)`: resolves each id's
// (origin, method, path) via metadata, then delegates to DeleteKeys.
func (e *Engine) DeleteIds(ctx context.Context, ids []string, prefixes ...string) yaerrors.Error {
	if err := e.guardOpen(); err != nil {
		return err
	}

	var keys []CacheKey

	for _, prefix := range e.resolvePrefixes(prefixes) {
		kb := e.keyBuilder(prefix)

		for _, id := range ids {
			raw, err := e.primary.Get(ctx, kb.Metadata(id)).Result()
			if err != nil {
				continue
			}

			env, merr := unmarshalMetadata(raw)
			if merr != nil {
				continue
			}

			keys = append(keys, CacheKey{Origin: env.Entry.Origin, Path: env.Entry.Path, Method: env.Entry.Method, Id: id})
		}
	}

	return e.DeleteKeys(ctx, keys, prefixes...)
}

// DeleteTag implements §4.4's `deleteTag(tags)` conjunction semantics:
// delete every entry whose tag set is a superset of the given tags, using
// the lexicographically-first tag's index as the candidate set per the
// documented performance heuristic (open question, §9).
func (e *Engine) DeleteTag(ctx context.Context, tags []string, prefixes ...string) yaerrors.Error {
	if err := e.guardOpen(); err != nil {
		return err
	}

	if len(tags) == 0 {
		return nil
	}

	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)

	required := make(map[string]struct{}, len(sorted))
	for _, t := range sorted {
		required[t] = struct{}{}
	}

	for _, prefix := range e.resolvePrefixes(prefixes) {
		kb := e.keyBuilder(prefix)

		var keys []CacheKey

		err := scanLexReverse(ctx, e.primary, kb.TagIndex(sorted[0]), e.opts.MaxBatchSize, func(id string) bool {
			raw, gerr := e.primary.Get(ctx, kb.Metadata(id)).Result()
			if gerr != nil {
				return true
			}

			env, merr := unmarshalMetadata(raw)
			if merr != nil {
				return true
			}

			if !containsAll(env.Identifier.Tags, required) {
				return true
			}

			keys = append(keys, CacheKey{Origin: env.Entry.Origin, Path: env.Entry.Path, Method: env.Entry.Method, Id: id})

			return true
		})
		if err != nil {
			return err
		}

		if derr := e.DeleteKeys(ctx, keys, prefix); derr != nil {
			return derr
		}

		for _, tag := range sorted {
			e.bus.Publish(Event{Kind: EventTagDelete, Prefix: prefix, Tag: tag})
		}
	}

	return nil
}

// DeleteTags implements §4.4's `deleteTags(tags)`: applies DeleteTag to each
// tag list with bounded concurrency.
func (e *Engine) DeleteTags(ctx context.Context, tagLists [][]string, prefixes ...string) yaerrors.Error {
	if err := e.guardOpen(); err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Concurrency)

	for _, tags := range tagLists {
		tags := tags

		group.Go(func() error {
			return e.DeleteTag(gctx, tags, prefixes...)
		})
	}

	if err := group.Wait(); err != nil {
		if yerr, ok := err.(yaerrors.Error); ok {
			return yerr
		}

		return yaerrors.FromError(http.StatusInternalServerError, err, "[DELETE] failed deleteTags")
	}

	return nil
}

func containsAll(have []string, required map[string]struct{}) bool {
	present := make(map[string]struct{}, len(have))
	for _, t := range have {
		present[t] = struct{}{}
	}

	for t := range required {
		if _, ok := present[t]; !ok {
			return false
		}
	}

	return true
}
