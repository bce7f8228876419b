// Package rpcbench defines the transport-neutral message set, the transport
// contract every RPC backend implements, and the backends themselves.
package rpcbench

import (
	"fmt"
)

// ErrorCode is the closed set of outcomes a backend may report.
type ErrorCode uint8

const (
	CodeOK ErrorCode = iota
	CodeInvalidArgument
	CodeDeadlineExceeded
	CodeNotFound
	CodeInternal
	CodeUnavailable
)

var codeNames = [...]string{
	CodeOK:               "OK",
	CodeInvalidArgument:  "INVALID_ARGUMENT",
	CodeDeadlineExceeded: "DEADLINE_EXCEEDED",
	CodeNotFound:         "NOT_FOUND",
	CodeInternal:         "INTERNAL",
	CodeUnavailable:      "UNAVAILABLE",
}

func (c ErrorCode) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("ErrorCode(%d)", uint8(c))
}

// ErrorCodeFrom converts a wire value to an ErrorCode. Values outside the
// known set become CodeInternal so they can never read as success.
func ErrorCodeFrom(v uint8) ErrorCode {
	if int(v) < len(codeNames) {
		return ErrorCode(v)
	}
	return CodeInternal
}

// Error is the error form of a failed Result.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Message
}

// Result carries either a value or an error code with a message. Exactly
// one side is meaningful: Value when OK reports true, Code and Message
// otherwise.
type Result[T any] struct {
	Value   T
	Code    ErrorCode
	Message string
}

// Success wraps v in an OK result.
func Success[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Failure returns a failed result. A zero code is promoted to CodeInternal.
func Failure[T any](code ErrorCode, msg string) Result[T] {
	if code == CodeOK {
		code = CodeInternal
	}
	return Result[T]{Code: code, Message: msg}
}

// OK reports whether the result carries a value.
func (r Result[T]) OK() bool { return r.Code == CodeOK }

// Err returns nil for OK results and an *Error otherwise.
func (r Result[T]) Err() error {
	if r.OK() {
		return nil
	}
	return &Error{Code: r.Code, Message: r.Message}
}

// EchoRequest carries a payload the server returns unchanged.
type EchoRequest struct {
	Message        string `json:"message" msgpack:"message"`
	Timestamp      int64  `json:"timestamp" msgpack:"timestamp"`
	SequenceNumber uint32 `json:"sequence_number" msgpack:"sequence_number"`
}

// EchoResponse returns the echoed message with the client and server
// timestamps.
type EchoResponse struct {
	Message         string `json:"message" msgpack:"message"`
	ClientTimestamp int64  `json:"client_timestamp" msgpack:"client_timestamp"`
	ServerTimestamp int64  `json:"server_timestamp" msgpack:"server_timestamp"`
	SequenceNumber  uint32 `json:"sequence_number" msgpack:"sequence_number"`
}

// StreamRequest asks the server to push ChunkCount chunks of ChunkSize
// bytes, pausing DelayMs between chunks.
type StreamRequest struct {
	ChunkSize  uint32 `json:"chunk_size" msgpack:"chunk_size"`
	ChunkCount uint32 `json:"chunk_count" msgpack:"chunk_count"`
	DelayMs    uint32 `json:"delay_ms" msgpack:"delay_ms"`
}

// DataChunk is one stream element. Checksum is the CRC32 of Data computed
// when the chunk was generated.
type DataChunk struct {
	SequenceNumber uint32 `json:"sequence_number" msgpack:"sequence_number"`
	Data           []byte `json:"data" msgpack:"data"`
	Checksum       uint32 `json:"checksum" msgpack:"checksum"`
	Timestamp      int64  `json:"timestamp" msgpack:"timestamp"`
}

// UploadResponse summarises a client-streamed upload.
type UploadResponse struct {
	TotalBytes    uint64 `json:"total_bytes" msgpack:"total_bytes"`
	ChunkCount    uint32 `json:"chunk_count" msgpack:"chunk_count"`
	DurationNs    int64  `json:"duration_ns" msgpack:"duration_ns"`
	ChecksumValid bool   `json:"checksum_valid" msgpack:"checksum_valid"`
}

// BatchItem is one operation ("echo", "reverse" or "fail") applied to Data.
type BatchItem struct {
	ID        string `json:"id" msgpack:"id"`
	Operation string `json:"operation" msgpack:"operation"`
	Data      []byte `json:"data" msgpack:"data"`
}

// BatchResult is the outcome of one BatchItem, matched by ID.
type BatchResult struct {
	ID           string `json:"id" msgpack:"id"`
	Success      bool   `json:"success" msgpack:"success"`
	ErrorMessage string `json:"error_message,omitempty" msgpack:"error_message,omitempty"`
	ResultData   []byte `json:"result_data,omitempty" msgpack:"result_data,omitempty"`
}

// BatchRequest applies each item's operation in order. With FailOnError
// processing stops after the first failed item.
type BatchRequest struct {
	Items       []BatchItem `json:"items" msgpack:"items"`
	FailOnError bool        `json:"fail_on_error" msgpack:"fail_on_error"`
}

// BatchResponse holds one result per processed item and the aggregate
// counts.
type BatchResponse struct {
	Results        []BatchResult `json:"results" msgpack:"results"`
	TotalProcessed uint32        `json:"total_processed" msgpack:"total_processed"`
	TotalFailed    uint32        `json:"total_failed" msgpack:"total_failed"`
}
