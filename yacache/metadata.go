package yacache

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/YaCodeDev/yahttpcache/yaerrors"
)

// metadataEnvelope is the JSON shape stored under `P|metadata|id`:
// `{identifier, entry}`, per §4.1.
type metadataEnvelope struct {
	Identifier Identifier `json:"identifier"`
	Entry      CacheEntry `json:"entry"`
}

func marshalMetadata(identifier Identifier, entry CacheEntry) (string, yaerrors.Error) {
	out, err := json.Marshal(metadataEnvelope{Identifier: identifier, Entry: entry})
	if err != nil {
		return "", yaerrors.FromError(http.StatusInternalServerError, err, "[METADATA] failed to marshal envelope")
	}

	return string(out), nil
}

func unmarshalMetadata(raw string) (metadataEnvelope, yaerrors.Error) {
	var env metadataEnvelope

	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return metadataEnvelope{}, yaerrors.FromError(http.StatusInternalServerError, err, "[METADATA] failed to unmarshal envelope")
	}

	return env, nil
}

// errWrap joins a driver error with a sentinel, mirroring the teacher's
// errors.Join(err, ErrFailedToXxx) pattern at every Redis I/O boundary.
func errWrap(err error, sentinel error) error {
	return errors.Join(err, sentinel)
}
