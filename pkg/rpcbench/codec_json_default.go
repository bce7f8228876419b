package rpcbench

import (
	"encoding/json"
)

// JSONCodec implements Codec using the standard library encoder. It is the
// baseline the faster JSON encoders are measured against.
type JSONCodec struct{}

func (c *JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Name() string {
	return string(CodecJSON)
}
