package yacache

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/YaCodeDev/yahttpcache/yaerrors"
	"github.com/redis/go-redis/v9"
)

// WriteStream is the sink handed to the HTTP layer: append binary chunks,
// then Final to commit. Per the design notes' re-architecture of the
// source's "write stream passed to the HTTP layer", overflow is a typed
// error the caller must treat as a non-fatal cache miss, not a panic.
type WriteStream struct {
	engine *Engine
	prefix string
	key    CacheKey
	entry  CacheEntry

	buf        strings.Builder
	encodedLen int
	aborted    bool
}

// CreateWriteStream returns a WriteStream for key/entry, targeting the
// engine's configured Options.Prefix. The caller appends body chunks via
// Write and commits with Final.
func (e *Engine) CreateWriteStream(ctx context.Context, key CacheKey, entry CacheEntry) (*WriteStream, yaerrors.Error) {
	return e.createWriteStream(ctx, e.opts.Prefix, key, entry)
}

// createWriteStreamForPrefix targets an explicit prefix rather than the
// engine's default, for ImportSnapshot's cross-prefix replay (§C.3).
func (e *Engine) createWriteStreamForPrefix(ctx context.Context, prefix string, key CacheKey, entry CacheEntry) (*WriteStream, yaerrors.Error) {
	return e.createWriteStream(ctx, prefix, key, entry)
}

func (e *Engine) createWriteStream(ctx context.Context, prefix string, key CacheKey, entry CacheEntry) (*WriteStream, yaerrors.Error) {
	if err := e.guardOpen(); err != nil {
		return nil, err
	}

	return &WriteStream{engine: e, prefix: prefix, key: key, entry: entry}, nil
}

// Write appends one body chunk, base64-encoding it into the accumulating
// buffer. Once the encoded length reaches Options.MaxEntrySize the stream
// aborts: every subsequent Write and the eventual Final return
// ErrMaxEntrySizeExceeded, and the partial write is discarded.
func (w *WriteStream) Write(chunk []byte) yaerrors.Error {
	if w.aborted {
		return w.overflow()
	}

	token := w.engine.bodyCodec.EncodeChunk(chunk)

	if w.encodedLen+len(token) >= w.engine.opts.MaxEntrySize {
		w.aborted = true

		return w.overflow()
	}

	w.buf.WriteString(token)
	w.encodedLen += len(token)

	return nil
}

func (w *WriteStream) overflow() yaerrors.Error {
	err := yaerrors.FromString(http.StatusRequestEntityTooLarge, ErrMaxEntrySizeExceeded.Error())
	w.engine.opts.ErrorCallback(err)
	w.engine.bus.Publish(Event{Kind: EventError, Err: err})

	return err
}

// Final commits the accumulated body under key/entry. See §4.3 for the full
// procedure: id generation, normalization, hashing, the atomic dedup guard,
// and the index-set writes.
func (w *WriteStream) Final(ctx context.Context) yaerrors.Error {
	if w.aborted {
		return w.overflow()
	}

	if err := w.engine.guardOpen(); err != nil {
		return err
	}

	id := w.key.Id
	if id == "" {
		id = newID()
	}

	expireAt := expireAtFromDeleteAt(w.entry.DeleteAt)
	vary := NormalizeVary(w.entry.Vary)
	hash := w.engine.idCodec.HashVary(vary)
	specificity := len(vary)
	tags := extractTags(w.entry.Headers, w.engine.opts.CacheTagsHeader)

	identifier := Identifier{
		Score:       Score(specificity),
		Id:          id,
		Specificity: specificity,
		Vary:        vary,
		Hash:        hash,
		Tags:        tags,
		ExpireAt:    expireAt,
	}

	kb := w.engine.keyBuilder(w.prefix)
	variantsKey := kb.Variants(w.key.Origin, w.key.Path, w.key.Method)

	added, err := w.engine.primary.ZAddNX(ctx, variantsKey, redis.Z{Score: 0, Member: hash}).Result()
	if err != nil {
		wrapped := yaerrors.FromError(http.StatusInternalServerError, errWrap(err, ErrFailedToZAdd), "[WRITE] failed dedup ZADD")
		w.engine.opts.ErrorCallback(wrapped)
		w.engine.bus.Publish(Event{Kind: EventError, Err: wrapped})

		return wrapped
	}

	if added == 0 {
		// A variant with this normalized Vary already exists; the existing
		// entry is authoritative and this write is a silent no-op.
		return nil
	}

	w.entry.Id = id
	w.entry.Vary = vary
	w.entry.Prefix = w.prefix
	w.entry.Origin = w.key.Origin
	w.entry.Method = w.key.Method
	w.entry.Path = w.key.Path
	w.entry.CacheTags = tags

	if err := w.commit(ctx, kb, identifier); err != nil {
		w.engine.opts.ErrorCallback(err)
		w.engine.bus.Publish(Event{Kind: EventError, Err: err})

		return err
	}

	w.engine.bus.Publish(Event{Kind: EventEntryWrite, Prefix: w.prefix, Id: id, Entry: &w.entry})

	return nil
}

func (w *WriteStream) commit(ctx context.Context, kb *KeyBuilder, identifier Identifier) yaerrors.Error {
	metadataJSON, jerr := marshalMetadata(identifier, w.entry)
	if jerr != nil {
		return jerr
	}

	blob := w.engine.idCodec.Encode(identifier)
	body := w.buf.String()
	expireAtTime := time.Unix(identifier.ExpireAt, 0)

	routesKey := kb.Routes()
	requestsKey := kb.Requests(w.key.Origin, w.key.Path)
	requestKey := kb.Request(w.key.Origin, w.key.Path, w.key.Method)
	variantsKey := kb.Variants(w.key.Origin, w.key.Path, w.key.Method)
	metadataKey := kb.Metadata(identifier.Id)
	bodyKey := kb.Body(identifier.Id)

	pipe := w.engine.primary.TxPipeline()

	pipe.ZAdd(ctx, routesKey, redis.Z{Score: 0, Member: RouteMember(w.key.Origin, w.key.Path)})
	pipe.ZAdd(ctx, requestsKey, redis.Z{Score: 0, Member: w.key.Method})
	pipe.ZAdd(ctx, requestKey, redis.Z{Score: 0, Member: blob})
	pipe.Set(ctx, metadataKey, metadataJSON, 0)
	pipe.ExpireAt(ctx, metadataKey, expireAtTime)
	pipe.Set(ctx, bodyKey, body, 0)
	pipe.ExpireAt(ctx, bodyKey, expireAtTime)

	for _, tag := range identifier.Tags {
		pipe.ZAdd(ctx, kb.Tags(), redis.Z{Score: 0, Member: tag})
		pipe.ZAdd(ctx, kb.TagIndex(tag), redis.Z{Score: 0, Member: identifier.Id})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return yaerrors.FromError(http.StatusInternalServerError, errWrap(err, ErrFailedToSet), "[WRITE] failed write pipeline")
	}

	sharedSets := []string{routesKey, requestsKey, requestKey, variantsKey, kb.Tags()}
	for _, tag := range identifier.Tags {
		sharedSets = append(sharedSets, kb.TagIndex(tag))
	}

	applyExpireAtNXGT(ctx, w.engine.primary, sharedSets, identifier.ExpireAt)

	return nil
}

// applyExpireAtNXGT extends (never shortens) the TTL of each shared index
// set: EXPIREAT ... NX sets a TTL on a set that had none, EXPIREAT ... GT
// extends one that already had a shorter TTL, per §4.1's "set-if-absent then
// set-if-greater" pattern. go-redis v9 has no typed helper for EXPIREAT with
// flags, so this issues the raw command via client.Do.
func applyExpireAtNXGT(ctx context.Context, client *redis.Client, keys []string, at int64) {
	for _, key := range keys {
		client.Do(ctx, "EXPIREAT", key, at, "NX")
		client.Do(ctx, "EXPIREAT", key, at, "GT")
	}
}

// extractTags reads the configured cache-tags header from the response
// headers, accepting comma- or array-valued headers, and returns the sorted,
// deduplicated tag list.
func extractTags(headers map[string][]string, headerName string) []string {
	if headerName == "" {
		return nil
	}

	lowerName := strings.ToLower(headerName)

	var raw []string

	for name, values := range headers {
		if strings.ToLower(name) != lowerName {
			continue
		}

		for _, v := range values {
			raw = append(raw, splitHeaderValue(v)...)
		}
	}

	seen := make(map[string]struct{}, len(raw))

	tags := make([]string, 0, len(raw))

	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}

		if _, ok := seen[tag]; ok {
			continue
		}

		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	return tags
}
