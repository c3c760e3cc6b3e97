package yacache

import (
	"net/http"
	"time"

	"github.com/YaCodeDev/yahttpcache/yaerrors"
	"github.com/YaCodeDev/yahttpcache/yalogger"
)

const (
	DefaultMaxEntrySize = 10 << 20 // 10 MiB
	DefaultMaxBatchSize = 100
	DefaultConcurrency  = 10
)

// Options configures a new Engine. Every field is optional; NewEngine fills
// in the defaults documented here and rejects out-of-range values with an
// InvalidOptionError-kind yaerrors.Error. This is a plain struct rather than
// a file/env/CLI loader: callers construct it themselves, the way the
// teacher's NewRedis/NewMemory take an already-built client instead of
// parsing configuration.
type Options struct {
	// Prefix namespaces every Redis key this instance touches. Empty means
	// no separator is inserted.
	Prefix string

	// MaxEntrySize caps the cumulative base64-encoded body length a write
	// stream accepts before aborting with ErrMaxEntrySizeExceeded.
	MaxEntrySize int

	// MaxBatchSize bounds the page size of every BYLEX scan.
	MaxBatchSize int

	// Concurrency bounds fan-out across ids/tags/prefixes.
	Concurrency int

	// Tracking enables the local invalidation-aware TrackingCache. Defaults
	// to true; pass a pointer to false to disable it explicitly, since a
	// plain bool cannot distinguish "unset" from "disabled".
	Tracking *bool

	// MaxTrackingSize and MaxTrackingCount cap the TrackingCache's total
	// estimated byte size (raw body bytes plus header names and values) and
	// request-key count; zero means unbounded.
	MaxTrackingSize  int64
	MaxTrackingCount int

	// CacheTagsHeader, if set, names the (case-insensitive) response header
	// carrying comma- or array-valued cache tags to index on write.
	CacheTagsHeader string

	// ClientConfigKeyspaceEventNotify issues `CONFIG SET
	// notify-keyspace-events AKE` when the manager subscription starts.
	// Leave false against managed Redis deployments that reject CONFIG SET.
	ClientConfigKeyspaceEventNotify bool

	// ErrorCallback receives write-path failures and failed variant-removal
	// pipelines. Errors from cleanup-queue commands are not reported to it.
	ErrorCallback func(yaerrors.Error)

	// Logger receives warnings for undecodable identifiers met on the read
	// path and for subscription reconnects; routine Redis round trips are not
	// logged. Defaults to a debug-level logrus base logger.
	Logger yalogger.Logger
}

// withDefaults returns a copy of o with zero-valued fields replaced by their
// documented defaults, validating the rest.
func (o Options) withDefaults() (Options, yaerrors.Error) {
	if o.MaxEntrySize < 0 {
		return o, yaerrors.FromError(http.StatusBadRequest, ErrInvalidOption, "yacache: maxEntrySize must be >= 0")
	}

	if o.MaxEntrySize == 0 {
		o.MaxEntrySize = DefaultMaxEntrySize
	}

	if o.MaxBatchSize < 0 {
		return o, yaerrors.FromError(http.StatusBadRequest, ErrInvalidOption, "yacache: maxBatchSize must be >= 0")
	}

	if o.MaxBatchSize == 0 {
		o.MaxBatchSize = DefaultMaxBatchSize
	}

	if o.Concurrency < 0 {
		return o, yaerrors.FromError(http.StatusBadRequest, ErrInvalidOption, "yacache: concurrency must be >= 0")
	}

	if o.Concurrency == 0 {
		o.Concurrency = DefaultConcurrency
	}

	if o.MaxTrackingSize < 0 {
		return o, yaerrors.FromError(http.StatusBadRequest, ErrInvalidOption, "yacache: maxTrackingSize must be >= 0")
	}

	if o.MaxTrackingCount < 0 {
		return o, yaerrors.FromError(http.StatusBadRequest, ErrInvalidOption, "yacache: maxTrackingCount must be >= 0")
	}

	if o.Tracking == nil {
		enabled := true
		o.Tracking = &enabled
	}

	if o.Logger == nil {
		o.Logger = yalogger.NewBaseLogger(nil).NewLogger()
	}

	if o.ErrorCallback == nil {
		o.ErrorCallback = func(yaerrors.Error) {}
	}

	return o, nil
}

// keyPrefix returns the Redis key prefix with its separator, or the empty
// string when no prefix was configured.
func (o Options) keyPrefix() string {
	if o.Prefix == "" {
		return ""
	}

	return o.Prefix + "|"
}

// expireAtFromDeleteAt converts a DeleteAt timestamp to the epoch-second
// value EXPIREAT/EXAT expect.
func expireAtFromDeleteAt(deleteAt time.Time) int64 {
	return deleteAt.UnixMilli() / 1000
}
