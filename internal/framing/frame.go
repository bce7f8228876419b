// Package framing implements the frame format spoken by the socket backend:
// a fixed header carrying magic bytes, total length, a request ID used for
// multiplexing, and a CRC32C checksum of the payload.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Frame header constants
const (
	// 2 (magic) + 4 (length) + 8 (request ID) + 4 (CRC32C)
	HeaderSize = 18

	MagicByte1 = 'R'
	MagicByte2 = 'B'
)

var (
	ErrBadMagic = errors.New("framing: invalid magic bytes")
	ErrChecksum = errors.New("framing: payload checksum mismatch")
	ErrTooLarge = errors.New("framing: frame exceeds max size")
)

// Header is the decoded fixed-size frame header.
type Header struct {
	Length    uint32 // total frame length, header included
	RequestID uint64
	CRC32C    uint32
}

// Frame is one request-scoped unit on the wire.
type Frame struct {
	RequestID uint64
	Payload   []byte
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32C of p.
func Checksum(p []byte) uint32 {
	return crc32.Checksum(p, crc32cTable)
}

// AppendTo appends the encoded frame to dst.
func (f Frame) AppendTo(dst []byte) []byte {
	var hdr [HeaderSize]byte
	putHeader(hdr[:], Header{
		Length:    uint32(HeaderSize + len(f.Payload)),
		RequestID: f.RequestID,
		CRC32C:    Checksum(f.Payload),
	})
	dst = append(dst, hdr[:]...)
	return append(dst, f.Payload...)
}

// Marshal encodes the frame into a new slice.
func (f Frame) Marshal() []byte {
	return f.AppendTo(make([]byte, 0, HeaderSize+len(f.Payload)))
}

// Decode parses a complete frame. The returned payload aliases data.
func Decode(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, fmt.Errorf("framing: frame too short: %d bytes", len(data))
	}
	hdr, err := parseHeader(data[:HeaderSize])
	if err != nil {
		return Frame{}, err
	}
	if int(hdr.Length) != len(data) {
		return Frame{}, fmt.Errorf("framing: length mismatch: header says %d, got %d", hdr.Length, len(data))
	}
	payload := data[HeaderSize:]
	if got := Checksum(payload); got != hdr.CRC32C {
		return Frame{}, fmt.Errorf("%w: expected %08x, got %08x", ErrChecksum, hdr.CRC32C, got)
	}
	return Frame{RequestID: hdr.RequestID, Payload: payload}, nil
}

func putHeader(b []byte, h Header) {
	b[0] = MagicByte1
	b[1] = MagicByte2
	binary.BigEndian.PutUint32(b[2:6], h.Length)
	binary.BigEndian.PutUint64(b[6:14], h.RequestID)
	binary.BigEndian.PutUint32(b[14:18], h.CRC32C)
}

func parseHeader(b []byte) (Header, error) {
	if b[0] != MagicByte1 || b[1] != MagicByte2 {
		return Header{}, fmt.Errorf("%w: %02x%02x", ErrBadMagic, b[0], b[1])
	}
	h := Header{
		Length:    binary.BigEndian.Uint32(b[2:6]),
		RequestID: binary.BigEndian.Uint64(b[6:14]),
		CRC32C:    binary.BigEndian.Uint32(b[14:18]),
	}
	if h.Length < HeaderSize {
		return Header{}, fmt.Errorf("framing: invalid length %d", h.Length)
	}
	return h, nil
}
