package codec

import (
	"encoding/json"
)

// JSONCodec encodes the envelope with encoding/json. The payload is already
// textual notation, so it ends up base64 inside the JSON document.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
