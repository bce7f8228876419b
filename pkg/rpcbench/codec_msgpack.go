package rpcbench

import (
	"github.com/vmihailenco/msgpack/v5"
)

// MessagePackCodec implements Codec using MessagePack encoding. Field names
// come from the msgpack struct tags.
type MessagePackCodec struct{}

func (c *MessagePackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (c *MessagePackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (c *MessagePackCodec) Name() string {
	return string(CodecMessagePack)
}
