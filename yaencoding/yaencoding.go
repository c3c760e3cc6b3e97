// Package yaencoding provides helpers for encoding and decoding data
// using Gob or MessagePack formats. The Encode*/Decode* helpers work on raw
// binary []byte and do not base64-encode or decode; ToString/ToBytes convert
// between those bytes and a Base64 string for text mediums (e.g., JSON, HTTP).
//
// Each encode/decode returns yaerrors.Error to unify structured error handling
// in backend systems that use GoYaCodeDevUtils.
//
// Supported formats:
//   - Gob (native Go binary serialization)
//   - MessagePack (efficient binary encoding similar to Protobuf)
//
// Example usage:
//
//	type User struct {
//	    ID   int
//	    Name string
//	}
//
//	// GOB Example
//	user := User{ID: 1, Name: "Alice"}
//
//	encoded, err := yaencoding.EncodeGob(user)
//	if err != nil {
//	    log.Fatalf("encode failed: %v", err)
//	}
//
//	decoded, err := yaencoding.DecodeGob[User](encoded)
//	if err != nil {
//	    log.Fatalf("decode failed: %v", err)
//	}
//
//	fmt.Println(decoded.Name) // Output: Alice
//
//	// MessagePack Example
//	msgpackStr, err := yaencoding.EncodeMessagePack(user)
//	if err != nil {
//	    log.Fatalf("encode failed: %v", err)
//	}
//
//	mpDecoded, err := yaencoding.DecodeMessagePack[User](msgpackStr)
//	if err != nil {
//	    log.Fatalf("decode failed: %v", err)
//	}
//
//	fmt.Println(mpDecoded.ID) // Output: 1
package yaencoding

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"net/http"

	"github.com/YaCodeDev/yahttpcache/yaerrors"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeGob serializes the given value `v` using the Gob encoder.
//
// Returns the raw Gob bytes (not base64-encoded) or a wrapped yaerrors.Error
// on failure.
//
// Example:
//
//	s := MyStruct{ID: 5, Name: "Ya Code"}
//	data, err := yaencoding.EncodeGob(s)
func EncodeGob(v any) ([]byte, yaerrors.Error) {
	var buf bytes.Buffer

	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, yaerrors.FromError(
			http.StatusInternalServerError,
			err,
			fmt.Sprintf("[ENCODING] failed to encode `%T` using gob", v),
		)
	}

	return buf.Bytes(), nil
}

// DecodeGob decodes raw Gob-encoded bytes (not a base64 string) back into a
// Go structure of type T.
//
// Example:
//
//	out, err := yaencoding.DecodeGob[MyStruct](encoded)
func DecodeGob[T any](data []byte) (*T, yaerrors.Error) {
	var v T

	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&v); err != nil {
		return nil, yaerrors.FromError(
			http.StatusInternalServerError,
			err,
			fmt.Sprintf("[ENCODING] failed to decode gob to `%T`", v),
		)
	}

	return &v, nil
}

// EncodeMessagePack serializes `value` using the MessagePack format and
// returns the raw bytes; it does not base64-encode them.
//
// Example:
//
//	data, err := yaencoding.EncodeMessagePack(myStruct)
func EncodeMessagePack(value any) ([]byte, yaerrors.Error) {
	bytes, err := msgpack.Marshal(value)
	if err != nil {
		return nil, yaerrors.FromError(
			http.StatusInternalServerError,
			err,
			fmt.Sprintf("[ENCODING] failed to marshal %T using message pack format", value),
		)
	}

	return bytes, nil
}

// DecodeMessagePack decodes raw MessagePack bytes (not a Base64 string)
// into a Go structure of type T.
//
// Example:
//
//	val, err := yaencoding.DecodeMessagePack[User](encoded)
func DecodeMessagePack[T any](bytes []byte) (*T, yaerrors.Error) {
	var res T

	if err := msgpack.Unmarshal(bytes, &res); err != nil {
		return nil, yaerrors.FromError(
			http.StatusInternalServerError,
			err,
			fmt.Sprintf("[ENCODING] failed to marshal %T as message pack format", bytes),
		)
	}

	return &res, nil
}

// ToString converts a byte slice into a base64 string.
// Useful for manual conversions.
func ToString(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// ToBytes decodes a base64 string into bytes.
func ToBytes(data string) ([]byte, yaerrors.Error) {
	bytes, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, yaerrors.FromError(
			http.StatusInternalServerError,
			err,
			"[ENCODING] failed to decode string to bytes",
		)
	}

	return bytes, nil
}
