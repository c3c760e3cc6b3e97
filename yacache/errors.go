package yacache

import "errors"

// Sentinel causes wrapped into yaerrors.Error at the Redis I/O boundary, the
// same pattern the teacher's Redis backend uses for every driver call.
var (
	ErrFailedToZAdd      = errors.New("yacache: failed ZADD")
	ErrFailedToZRange    = errors.New("yacache: failed ZRANGE")
	ErrFailedToZRem      = errors.New("yacache: failed ZREM")
	ErrFailedToZCard     = errors.New("yacache: failed ZCARD")
	ErrFailedToGet       = errors.New("yacache: failed GET")
	ErrFailedToMGet      = errors.New("yacache: failed MGET")
	ErrFailedToSet       = errors.New("yacache: failed SET")
	ErrFailedToDel       = errors.New("yacache: failed DEL")
	ErrFailedToExpireAt  = errors.New("yacache: failed EXPIREAT")
	ErrFailedToPing      = errors.New("yacache: failed PING")
	ErrFailedToClose     = errors.New("yacache: failed CLOSE")
	ErrFailedToSubscribe = errors.New("yacache: failed to subscribe")
	ErrFailedToConfigSet = errors.New("yacache: failed CONFIG SET")
	ErrFailedToTrack     = errors.New("yacache: failed CLIENT TRACKING")
	ErrEntryNotFound     = errors.New("yacache: entry not found")
	ErrInvalidSnapshot   = errors.New("yacache: invalid snapshot")

	// ErrCacheClosed is the UserError raised by operations attempted after
	// Close, per the error handling design's UserError kind.
	ErrCacheClosed = errors.New("yacache: cache is closed")

	// ErrMaxEntrySizeExceeded aborts a write stream once the cumulative
	// base64-encoded body length reaches Options.MaxEntrySize.
	ErrMaxEntrySizeExceeded = errors.New("yacache: max entry size exceeded")

	// ErrInvalidOption is wrapped by NewEngine when an Options field fails
	// validation (InvalidOptionError kind).
	ErrInvalidOption = errors.New("yacache: invalid option")
)
