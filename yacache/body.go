package yacache

import (
	"strings"

	"github.com/YaCodeDev/yahttpcache/yabase64"
	"github.com/YaCodeDev/yahttpcache/yaerrors"
)

// BodyCodec encodes a Body as base64 tokens joined by single ASCII spaces
// (no framing) and decodes that form back into binary chunks, per the
// on-wire body encoding in the external interfaces section.
type BodyCodec struct{}

// NewBodyCodec returns a ready-to-use BodyCodec.
func NewBodyCodec() *BodyCodec {
	return &BodyCodec{}
}

// EncodeChunk returns the base64 token for a single chunk plus its trailing
// space, ready to append to an accumulating write-stream buffer.
func (c *BodyCodec) EncodeChunk(chunk []byte) string {
	return yabase64.ToString(chunk) + " "
}

// Encode joins every chunk's base64 token with a single space. An empty body
// encodes to the empty string.
func (c *BodyCodec) Encode(body Body) string {
	tokens := make([]string, len(body))
	for i, chunk := range body {
		tokens[i] = yabase64.ToString(chunk)
	}

	return strings.Join(tokens, " ")
}

// Decode splits on whitespace and base64-decodes each token. Trailing
// whitespace (as left behind by the streaming EncodeChunk accumulator) is
// tolerated. An empty string decodes to an empty Body.
func (c *BodyCodec) Decode(encoded string) (Body, yaerrors.Error) {
	fields := strings.Fields(encoded)
	if len(fields) == 0 {
		return Body{}, nil
	}

	body := make(Body, 0, len(fields))

	for _, token := range fields {
		chunk, err := yabase64.ToBytes(token)
		if err != nil {
			return nil, err.Wrap("[BODY] failed to decode chunk")
		}

		body = append(body, chunk)
	}

	return body, nil
}
