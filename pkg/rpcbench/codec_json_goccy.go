package rpcbench

import (
	"github.com/goccy/go-json"
)

// GoccyJSONCodec implements Codec using goccy/go-json
type GoccyJSONCodec struct{}

func (c *GoccyJSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *GoccyJSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *GoccyJSONCodec) Name() string {
	return string(CodecJSONGoccy)
}
