// Package protocol defines the envelope carried inside every frame of the
// socket backend. The frame's request ID ties envelopes of one call or
// stream together; the envelope says what the payload is.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind tells the receiver how to treat an envelope.
type Kind uint8

const (
	// KindCall opens a unary call or a stream. Body holds the request, if any.
	KindCall Kind = iota + 1
	// KindChunk carries one stream element in either direction.
	KindChunk
	// KindEnd half-closes the client side of an upload or bidi stream.
	KindEnd
	// KindReply terminates a call: status code, message and optional body.
	KindReply
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindChunk:
		return "chunk"
	case KindEnd:
		return "end"
	case KindReply:
		return "reply"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var ErrMalformed = errors.New("protocol: malformed envelope")

// Envelope is one message of the socket protocol.
//
// Wire layout: kind (1) | code (1) | uvarint len + method | uvarint len +
// message | body (rest of payload).
type Envelope struct {
	Kind    Kind
	Code    uint8
	Method  string
	Message string
	Body    []byte
}

// NewCall creates a call envelope for method.
func NewCall(method string, body []byte) Envelope {
	return Envelope{Kind: KindCall, Method: method, Body: body}
}

// NewChunk creates a stream element envelope.
func NewChunk(body []byte) Envelope {
	return Envelope{Kind: KindChunk, Body: body}
}

// NewEnd creates a half-close envelope.
func NewEnd() Envelope {
	return Envelope{Kind: KindEnd}
}

// NewReply creates a terminal envelope with a status.
func NewReply(code uint8, message string, body []byte) Envelope {
	return Envelope{Kind: KindReply, Code: code, Message: message, Body: body}
}

// AppendBinary appends the encoded envelope to dst.
func (e Envelope) AppendBinary(dst []byte) []byte {
	dst = append(dst, byte(e.Kind), e.Code)
	dst = binary.AppendUvarint(dst, uint64(len(e.Method)))
	dst = append(dst, e.Method...)
	dst = binary.AppendUvarint(dst, uint64(len(e.Message)))
	dst = append(dst, e.Message...)
	return append(dst, e.Body...)
}

// Marshal encodes the envelope into a new slice.
func (e Envelope) Marshal() []byte {
	n := 2 + 2*binary.MaxVarintLen64 + len(e.Method) + len(e.Message) + len(e.Body)
	return e.AppendBinary(make([]byte, 0, n))
}

// Unmarshal decodes data into e. Body aliases data.
func (e *Envelope) Unmarshal(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	kind := Kind(data[0])
	if kind < KindCall || kind > KindReply {
		return fmt.Errorf("%w: unknown kind %d", ErrMalformed, data[0])
	}
	rest := data[2:]

	method, rest, err := readString(rest)
	if err != nil {
		return fmt.Errorf("method: %w", err)
	}
	message, rest, err := readString(rest)
	if err != nil {
		return fmt.Errorf("message: %w", err)
	}

	*e = Envelope{
		Kind:    kind,
		Code:    data[1],
		Method:  method,
		Message: message,
		Body:    rest,
	}
	return nil
}

func readString(b []byte) (string, []byte, error) {
	n, size := binary.Uvarint(b)
	if size <= 0 {
		return "", nil, fmt.Errorf("%w: bad length prefix", ErrMalformed)
	}
	b = b[size:]
	if n > uint64(len(b)) {
		return "", nil, fmt.Errorf("%w: length %d exceeds %d remaining bytes", ErrMalformed, n, len(b))
	}
	return string(b[:n]), b[n:], nil
}
