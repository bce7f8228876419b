package rpcbench

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf wire encoding of the message set. Field numbers follow
// api/v1/benchmark.proto; zero values are omitted as proto3 does.

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarintField(b, num, 1)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// protoReader walks the fields of one encoded message. The first error
// sticks and stops iteration.
type protoReader struct {
	b   []byte
	err error
}

func (r *protoReader) next() (protowire.Number, protowire.Type, bool) {
	if r.err != nil || len(r.b) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0, 0, false
	}
	r.b = r.b[n:]
	return num, typ, true
}

func (r *protoReader) expect(num protowire.Number, got, want protowire.Type) bool {
	if got != want {
		r.err = fmt.Errorf("field %d: wire type %d, want %d", num, got, want)
		return false
	}
	return true
}

func (r *protoReader) varint(num protowire.Number, typ protowire.Type) uint64 {
	if !r.expect(num, typ, protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

// bytes returns a copy; the input buffer may be reused by the transport.
func (r *protoReader) bytes(num protowire.Number, typ protowire.Type) []byte {
	if !r.expect(num, typ, protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return nil
	}
	r.b = r.b[n:]
	return append([]byte(nil), v...)
}

func (r *protoReader) str(num protowire.Number, typ protowire.Type) string {
	return string(r.bytes(num, typ))
}

func (r *protoReader) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return
	}
	r.b = r.b[n:]
}

func (m EchoRequest) appendProto(b []byte) []byte {
	b = appendStringField(b, 1, m.Message)
	b = appendVarintField(b, 2, uint64(m.Timestamp))
	return appendVarintField(b, 3, uint64(m.SequenceNumber))
}

func (m *EchoRequest) unmarshalProto(b []byte) error {
	*m = EchoRequest{}
	r := protoReader{b: b}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			m.Message = r.str(num, typ)
		case 2:
			m.Timestamp = int64(r.varint(num, typ))
		case 3:
			m.SequenceNumber = uint32(r.varint(num, typ))
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

func (m EchoResponse) appendProto(b []byte) []byte {
	b = appendStringField(b, 1, m.Message)
	b = appendVarintField(b, 2, uint64(m.ClientTimestamp))
	b = appendVarintField(b, 3, uint64(m.ServerTimestamp))
	return appendVarintField(b, 4, uint64(m.SequenceNumber))
}

func (m *EchoResponse) unmarshalProto(b []byte) error {
	*m = EchoResponse{}
	r := protoReader{b: b}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			m.Message = r.str(num, typ)
		case 2:
			m.ClientTimestamp = int64(r.varint(num, typ))
		case 3:
			m.ServerTimestamp = int64(r.varint(num, typ))
		case 4:
			m.SequenceNumber = uint32(r.varint(num, typ))
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

func (m StreamRequest) appendProto(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(m.ChunkSize))
	b = appendVarintField(b, 2, uint64(m.ChunkCount))
	return appendVarintField(b, 3, uint64(m.DelayMs))
}

func (m *StreamRequest) unmarshalProto(b []byte) error {
	*m = StreamRequest{}
	r := protoReader{b: b}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			m.ChunkSize = uint32(r.varint(num, typ))
		case 2:
			m.ChunkCount = uint32(r.varint(num, typ))
		case 3:
			m.DelayMs = uint32(r.varint(num, typ))
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

func (m DataChunk) appendProto(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(m.SequenceNumber))
	b = appendBytesField(b, 2, m.Data)
	b = appendVarintField(b, 3, uint64(m.Checksum))
	return appendVarintField(b, 4, uint64(m.Timestamp))
}

func (m *DataChunk) unmarshalProto(b []byte) error {
	*m = DataChunk{}
	r := protoReader{b: b}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			m.SequenceNumber = uint32(r.varint(num, typ))
		case 2:
			m.Data = r.bytes(num, typ)
		case 3:
			m.Checksum = uint32(r.varint(num, typ))
		case 4:
			m.Timestamp = int64(r.varint(num, typ))
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

func (m UploadResponse) appendProto(b []byte) []byte {
	b = appendVarintField(b, 1, m.TotalBytes)
	b = appendVarintField(b, 2, uint64(m.ChunkCount))
	b = appendVarintField(b, 3, uint64(m.DurationNs))
	return appendBoolField(b, 4, m.ChecksumValid)
}

func (m *UploadResponse) unmarshalProto(b []byte) error {
	*m = UploadResponse{}
	r := protoReader{b: b}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			m.TotalBytes = r.varint(num, typ)
		case 2:
			m.ChunkCount = uint32(r.varint(num, typ))
		case 3:
			m.DurationNs = int64(r.varint(num, typ))
		case 4:
			m.ChecksumValid = r.varint(num, typ) != 0
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

func (m BatchItem) appendProto(b []byte) []byte {
	b = appendStringField(b, 1, m.ID)
	b = appendStringField(b, 2, m.Operation)
	return appendBytesField(b, 3, m.Data)
}

func (m *BatchItem) unmarshalProto(b []byte) error {
	*m = BatchItem{}
	r := protoReader{b: b}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			m.ID = r.str(num, typ)
		case 2:
			m.Operation = r.str(num, typ)
		case 3:
			m.Data = r.bytes(num, typ)
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

func (m BatchResult) appendProto(b []byte) []byte {
	b = appendStringField(b, 1, m.ID)
	b = appendBoolField(b, 2, m.Success)
	b = appendStringField(b, 3, m.ErrorMessage)
	return appendBytesField(b, 4, m.ResultData)
}

func (m *BatchResult) unmarshalProto(b []byte) error {
	*m = BatchResult{}
	r := protoReader{b: b}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			m.ID = r.str(num, typ)
		case 2:
			m.Success = r.varint(num, typ) != 0
		case 3:
			m.ErrorMessage = r.str(num, typ)
		case 4:
			m.ResultData = r.bytes(num, typ)
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

func (m BatchRequest) appendProto(b []byte) []byte {
	var scratch []byte
	for _, item := range m.Items {
		scratch = item.appendProto(scratch[:0])
		b = appendMessageField(b, 1, scratch)
	}
	return appendBoolField(b, 2, m.FailOnError)
}

func (m *BatchRequest) unmarshalProto(b []byte) error {
	*m = BatchRequest{}
	r := protoReader{b: b}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			var item BatchItem
			if raw := r.bytes(num, typ); r.err == nil {
				if err := item.unmarshalProto(raw); err != nil {
					return fmt.Errorf("items[%d]: %w", len(m.Items), err)
				}
				m.Items = append(m.Items, item)
			}
		case 2:
			m.FailOnError = r.varint(num, typ) != 0
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

func (m BatchResponse) appendProto(b []byte) []byte {
	var scratch []byte
	for _, res := range m.Results {
		scratch = res.appendProto(scratch[:0])
		b = appendMessageField(b, 1, scratch)
	}
	b = appendVarintField(b, 2, uint64(m.TotalProcessed))
	return appendVarintField(b, 3, uint64(m.TotalFailed))
}

func (m *BatchResponse) unmarshalProto(b []byte) error {
	*m = BatchResponse{}
	r := protoReader{b: b}
	for num, typ, ok := r.next(); ok; num, typ, ok = r.next() {
		switch num {
		case 1:
			var res BatchResult
			if raw := r.bytes(num, typ); r.err == nil {
				if err := res.unmarshalProto(raw); err != nil {
					return fmt.Errorf("results[%d]: %w", len(m.Results), err)
				}
				m.Results = append(m.Results, res)
			}
		case 2:
			m.TotalProcessed = uint32(r.varint(num, typ))
		case 3:
			m.TotalFailed = uint32(r.varint(num, typ))
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}
