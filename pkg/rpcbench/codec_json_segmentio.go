package rpcbench

import (
	"github.com/segmentio/encoding/json"
)

// SegmentioJSONCodec implements Codec using segmentio/encoding/json
type SegmentioJSONCodec struct{}

func (c *SegmentioJSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *SegmentioJSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *SegmentioJSONCodec) Name() string {
	return string(CodecJSONSegmentio)
}
