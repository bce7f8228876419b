package framing

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxPayload is the default maximum payload size (16MB)
const DefaultMaxPayload = 16 * 1024 * 1024

// Framer reads and writes frames over a byte stream.
//
// WriteFrame is safe for concurrent use; every frame is written and flushed
// atomically. ReadFrame must only be called from a single goroutine.
type Framer struct {
	r          *bufio.Reader
	maxPayload int

	mu  sync.Mutex
	w   *bufio.Writer
	buf []byte
}

// NewFramer creates a framer with the default max payload size.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxPayload)
}

// NewFramerWithMaxSize creates a framer that rejects payloads larger than
// maxPayload bytes in both directions.
func NewFramerWithMaxSize(rw io.ReadWriter, maxPayload int) *Framer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Framer{
		r:          bufio.NewReader(rw),
		w:          bufio.NewWriter(rw),
		maxPayload: maxPayload,
	}
}

// WriteFrame encodes and flushes one frame.
func (f *Framer) WriteFrame(requestID uint64, payload []byte) error {
	if len(payload) > f.maxPayload {
		return fmt.Errorf("%w: payload %d > %d", ErrTooLarge, len(payload), f.maxPayload)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf = Frame{RequestID: requestID, Payload: payload}.AppendTo(f.buf[:0])
	if _, err := f.w.Write(f.buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := f.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush frame: %w", err)
	}
	return nil
}

// ReadFrame reads and validates one frame. It returns io.EOF only when the
// stream ends cleanly on a frame boundary.
func (f *Framer) ReadFrame() (Frame, error) {
	var hdrBuf [HeaderSize]byte
	if _, err := io.ReadFull(f.r, hdrBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("failed to read frame header: %w", err)
	}

	hdr, err := parseHeader(hdrBuf[:])
	if err != nil {
		return Frame{}, err
	}
	size := int(hdr.Length) - HeaderSize
	if size > f.maxPayload {
		return Frame{}, fmt.Errorf("%w: payload %d > %d", ErrTooLarge, size, f.maxPayload)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return Frame{}, fmt.Errorf("failed to read frame payload: %w", err)
	}
	if got := Checksum(payload); got != hdr.CRC32C {
		return Frame{}, fmt.Errorf("%w: expected %08x, got %08x", ErrChecksum, hdr.CRC32C, got)
	}
	return Frame{RequestID: hdr.RequestID, Payload: payload}, nil
}
