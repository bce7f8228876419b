package rpcbench

import (
	"fmt"
)

type protoMarshaler interface {
	appendProto(b []byte) []byte
}

type protoUnmarshaler interface {
	unmarshalProto(b []byte) error
}

// ProtobufCodec implements Codec with protobuf wire encoding for the
// message types of this package. Other types are rejected.
type ProtobufCodec struct{}

func (c *ProtobufCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(protoMarshaler)
	if !ok {
		return nil, fmt.Errorf("protobuf codec: cannot marshal %T", v)
	}
	return m.appendProto(nil), nil
}

func (c *ProtobufCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(protoUnmarshaler)
	if !ok {
		return fmt.Errorf("protobuf codec: cannot unmarshal into %T", v)
	}
	if err := m.unmarshalProto(data); err != nil {
		return fmt.Errorf("protobuf codec: %w", err)
	}
	return nil
}

// Name returns "proto", the content subtype gRPC expects for protobuf.
func (c *ProtobufCodec) Name() string {
	return "proto"
}
