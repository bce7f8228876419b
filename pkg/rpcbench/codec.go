package rpcbench

import (
	"fmt"
)

// Codec encodes and decodes message bodies. Its method set matches
// google.golang.org/grpc/encoding.Codec, so any Codec can also serve gRPC.
type Codec interface {
	// Marshal serializes a value to bytes
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into v, which must be a pointer
	Unmarshal(data []byte, v any) error

	// Name returns the name of the codec
	Name() string
}

// CodecType selects a Codec implementation.
type CodecType string

const (
	CodecJSON          CodecType = "json"
	CodecJSONGoccy     CodecType = "json-goccy"
	CodecJSONSegmentio CodecType = "json-segmentio"
	CodecMessagePack   CodecType = "msgpack"
	CodecProtobuf      CodecType = "protobuf"
)

// CodecTypes lists every supported codec in a stable order.
func CodecTypes() []CodecType {
	return []CodecType{CodecJSON, CodecJSONGoccy, CodecJSONSegmentio, CodecMessagePack, CodecProtobuf}
}

// NewCodec creates a codec of the given type.
func NewCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecJSON, "":
		return &JSONCodec{}, nil
	case CodecJSONGoccy:
		return &GoccyJSONCodec{}, nil
	case CodecJSONSegmentio:
		return &SegmentioJSONCodec{}, nil
	case CodecMessagePack:
		return &MessagePackCodec{}, nil
	case CodecProtobuf:
		return &ProtobufCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec type: %s", codecType)
	}
}
