package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{name: "call", env: NewCall("Echo", []byte{1, 2, 3})},
		{name: "call without body", env: NewCall("UploadData", nil)},
		{name: "chunk", env: NewChunk(bytes.Repeat([]byte{0xEE}, 4096))},
		{name: "end", env: NewEnd()},
		{name: "ok reply", env: NewReply(0, "", []byte("done"))},
		{name: "error reply", env: NewReply(1, "Unknown operation: frobnicate", nil)},
		{name: "long method", env: NewCall(string(bytes.Repeat([]byte("m"), 300)), nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Envelope
			if err := got.Unmarshal(tt.env.Marshal()); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got.Kind != tt.env.Kind || got.Code != tt.env.Code {
				t.Errorf("kind/code = %v/%d, want %v/%d", got.Kind, got.Code, tt.env.Kind, tt.env.Code)
			}
			if got.Method != tt.env.Method {
				t.Errorf("Method = %q, want %q", got.Method, tt.env.Method)
			}
			if got.Message != tt.env.Message {
				t.Errorf("Message = %q, want %q", got.Message, tt.env.Message)
			}
			if !bytes.Equal(got.Body, tt.env.Body) {
				t.Errorf("Body length = %d, want %d", len(got.Body), len(tt.env.Body))
			}
		})
	}
}

func TestEnvelopeUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "one byte", data: []byte{byte(KindCall)}},
		{name: "unknown kind", data: []byte{0, 0, 0, 0}},
		{name: "kind out of range", data: []byte{byte(KindReply) + 1, 0, 0, 0}},
		{name: "missing method length", data: []byte{byte(KindCall), 0}},
		{name: "method overruns", data: []byte{byte(KindCall), 0, 10, 'a'}},
		{name: "message overruns", data: []byte{byte(KindReply), 1, 0, 5, 'x'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Envelope
			err := e.Unmarshal(tt.data)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Unmarshal() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if got := KindChunk.String(); got != "chunk" {
		t.Errorf("KindChunk.String() = %q", got)
	}
	if got := Kind(42).String(); got != "kind(42)" {
		t.Errorf("Kind(42).String() = %q", got)
	}
}
