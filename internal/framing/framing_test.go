package framing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
)

func TestFramerRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		id      uint64
		payload []byte
	}{
		{name: "small", id: 1, payload: []byte("hello")},
		{name: "empty", id: 2, payload: nil},
		{name: "binary", id: 3, payload: []byte{0x00, 'R', 'B', 0xff}},
		{name: "large", id: 1 << 40, payload: bytes.Repeat([]byte{0xAB}, 256*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			f := NewFramer(&buf)

			if err := f.WriteFrame(tt.id, tt.payload); err != nil {
				t.Fatalf("WriteFrame() error = %v", err)
			}
			got, err := f.ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame() error = %v", err)
			}
			if got.RequestID != tt.id {
				t.Errorf("RequestID = %d, want %d", got.RequestID, tt.id)
			}
			if !bytes.Equal(got.Payload, tt.payload) {
				t.Error("payload mismatch")
			}
		})
	}
}

func TestFramerSequence(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(&buf)

	for i := 0; i < 5; i++ {
		if err := f.WriteFrame(uint64(i), []byte(fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("WriteFrame(%d) error = %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		got, err := f.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame(%d) error = %v", i, err)
		}
		if want := fmt.Sprintf("msg-%d", i); string(got.Payload) != want {
			t.Errorf("frame %d = %q, want %q", i, got.Payload, want)
		}
	}

	if _, err := f.ReadFrame(); err != io.EOF {
		t.Errorf("ReadFrame() at end = %v, want io.EOF", err)
	}
}

func TestFramerMaxSize(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramerWithMaxSize(&buf, 8)

	err := f.WriteFrame(1, make([]byte, 9))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("WriteFrame() error = %v, want ErrTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Error("oversized frame was written")
	}

	// A peer with a bigger limit writes a frame this framer must refuse.
	big := NewFramer(&buf)
	if err := big.WriteFrame(1, make([]byte, 9)); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if _, err := f.ReadFrame(); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ReadFrame() error = %v, want ErrTooLarge", err)
	}
}

func TestFramerTruncatedStream(t *testing.T) {
	data := Frame{RequestID: 7, Payload: []byte("truncated payload")}.Marshal()

	tests := []struct {
		name string
		cut  int
	}{
		{name: "inside header", cut: 5},
		{name: "inside payload", cut: HeaderSize + 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(&readWriter{r: bytes.NewReader(data[:tt.cut])})
			_, err := f.ReadFrame()
			if err == nil || err == io.EOF {
				t.Fatalf("ReadFrame() error = %v, want unexpected EOF", err)
			}
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("ReadFrame() error = %v, want wrapping io.ErrUnexpectedEOF", err)
			}
		})
	}
}

func TestFramerCorruptPayload(t *testing.T) {
	data := Frame{RequestID: 7, Payload: []byte("payload")}.Marshal()
	data[len(data)-1] ^= 0xFF

	f := NewFramer(&readWriter{r: bytes.NewReader(data)})
	if _, err := f.ReadFrame(); !errors.Is(err, ErrChecksum) {
		t.Errorf("ReadFrame() error = %v, want ErrChecksum", err)
	}
}

func TestFramerConcurrentWriters(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	writer := NewFramer(client)
	reader := NewFramer(server)

	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				payload := []byte(fmt.Sprintf("w%d-%d", w, i))
				if err := writer.WriteFrame(uint64(w), payload); err != nil {
					t.Errorf("WriteFrame() error = %v", err)
					return
				}
			}
		}(w)
	}

	seen := make(map[uint64]int)
	for n := 0; n < writers*perWriter; n++ {
		got, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		want := fmt.Sprintf("w%d-%d", got.RequestID, seen[got.RequestID])
		if string(got.Payload) != want {
			t.Fatalf("frame from writer %d = %q, want %q", got.RequestID, got.Payload, want)
		}
		seen[got.RequestID]++
	}
	wg.Wait()
}

type readWriter struct {
	r io.Reader
}

func (rw *readWriter) Read(p []byte) (int, error)  { return rw.r.Read(p) }
func (rw *readWriter) Write(p []byte) (int, error) { return len(p), nil }
