package yacache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/YaCodeDev/yahttpcache/yaerrors"
	"github.com/cespare/xxhash/v2"
)

// IdentifierCodec encodes and decodes the per-variant identifier blob stored
// as a member of the `P|request|origin|path|method` sorted set. The encoded
// form is hand-built rather than produced by encoding/json.Marshal on the
// struct: `score` must be the first JSON key so that lexicographic ordering
// of the raw blob ranks the most specific variant first, and Go's
// encoding/json does not guarantee key order is preserved from a map -
// only from a struct's field order, which is not enough once the `vary` map
// itself needs its keys sorted for a stable hash.
type IdentifierCodec struct{}

// NewIdentifierCodec returns a ready-to-use IdentifierCodec. It carries no
// state; the type exists so call sites read like the rest of the component
// table in the design (KeyBuilder, BodyCodec, ...).
func NewIdentifierCodec() *IdentifierCodec {
	return &IdentifierCodec{}
}

// HashVary returns a stable 64-bit xxhash of the JSON serialization of the
// normalized, key-sorted Vary map, per the design notes' requirement of a
// well-mixed non-cryptographic hash with a low realistic collision rate.
func (c *IdentifierCodec) HashVary(vary map[string]string) string {
	var b strings.Builder

	b.WriteByte('{')

	for i, key := range SortedVaryKeys(vary) {
		if i > 0 {
			b.WriteByte(',')
		}

		b.Write(mustMarshal(key))
		b.WriteByte(':')
		b.Write(mustMarshal(vary[key]))
	}

	b.WriteByte('}')

	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

// Score zero-pads specificity to width 4 so the identifier blob sorts most
// specific variant first under lex-reverse iteration.
func Score(specificity int) string {
	return fmt.Sprintf("%04d", specificity)
}

// Encode builds the identifier JSON blob with `score` as the first field and
// `vary`/`tags` rendered with sorted keys/members, per the wire shape in the
// external interfaces section.
func (c *IdentifierCodec) Encode(id Identifier) string {
	var b strings.Builder

	b.WriteString(`{"score":`)
	b.Write(mustMarshal(id.Score))
	b.WriteString(`,"id":`)
	b.Write(mustMarshal(id.Id))
	b.WriteString(`,"specificity":`)
	b.WriteString(strconv.Itoa(id.Specificity))
	b.WriteString(`,"vary":{`)

	keys := SortedVaryKeys(id.Vary)
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}

		b.Write(mustMarshal(key))
		b.WriteByte(':')
		b.Write(mustMarshal(id.Vary[key]))
	}

	b.WriteString(`},"hash":`)
	b.Write(mustMarshal(id.Hash))
	b.WriteString(`,"tags":[`)

	tags := append([]string(nil), id.Tags...)
	sort.Strings(tags)

	for i, tag := range tags {
		if i > 0 {
			b.WriteByte(',')
		}

		b.Write(mustMarshal(tag))
	}

	b.WriteString(`],"expireAt":`)
	b.WriteString(strconv.FormatInt(id.ExpireAt, 10))
	b.WriteByte('}')

	return b.String()
}

// Decode parses a blob previously produced by Encode (or by an older
// implementation sharing the same wire shape) back into an Identifier.
func (c *IdentifierCodec) Decode(blob string) (Identifier, yaerrors.Error) {
	var id Identifier

	if err := json.Unmarshal([]byte(blob), &id); err != nil {
		return Identifier{}, yaerrors.FromError(
			http.StatusInternalServerError,
			err,
			"[IDENTIFIER] failed to decode identifier blob",
		)
	}

	return id, nil
}

func mustMarshal(v string) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		// json.Marshal on a plain string never fails.
		return []byte(`""`)
	}

	return out
}
