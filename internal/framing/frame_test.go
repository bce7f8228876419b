package framing

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrame(t *testing.T) {
	t.Run("Marshal and Decode", func(t *testing.T) {
		payload := []byte("Test message with CRC32C")
		data := Frame{RequestID: 67890, Payload: payload}.Marshal()

		if len(data) != HeaderSize+len(payload) {
			t.Fatalf("encoded length = %d, want %d", len(data), HeaderSize+len(payload))
		}
		if data[0] != MagicByte1 || data[1] != MagicByte2 {
			t.Errorf("magic = %02x%02x, want %02x%02x", data[0], data[1], MagicByte1, MagicByte2)
		}

		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if got.RequestID != 67890 {
			t.Errorf("RequestID = %d, want 67890", got.RequestID)
		}
		if !bytes.Equal(got.Payload, payload) {
			t.Errorf("Payload = %q, want %q", got.Payload, payload)
		}
	})

	t.Run("AppendTo keeps prefix", func(t *testing.T) {
		prefix := []byte("abc")
		data := Frame{RequestID: 1, Payload: []byte("x")}.AppendTo(prefix)
		if !bytes.HasPrefix(data, prefix) {
			t.Fatal("prefix overwritten")
		}
		if _, err := Decode(data[len(prefix):]); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
	})

	t.Run("Empty Payload", func(t *testing.T) {
		got, err := Decode(Frame{RequestID: 999}.Marshal())
		if err != nil {
			t.Fatalf("Decode failed for empty payload: %v", err)
		}
		if len(got.Payload) != 0 {
			t.Errorf("expected empty payload, got %d bytes", len(got.Payload))
		}
	})
}

func TestDecodeErrors(t *testing.T) {
	valid := Frame{RequestID: 123, Payload: []byte("Test")}.Marshal()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		is     error
	}{
		{
			name:   "invalid magic",
			mutate: func(b []byte) []byte { b[0] = 0xFF; return b },
			is:     ErrBadMagic,
		},
		{
			name:   "corrupted checksum field",
			mutate: func(b []byte) []byte { b[14] ^= 0xFF; return b },
			is:     ErrChecksum,
		},
		{
			name:   "corrupted payload",
			mutate: func(b []byte) []byte { b[HeaderSize] ^= 0x01; return b },
			is:     ErrChecksum,
		},
		{
			name:   "truncated",
			mutate: func(b []byte) []byte { return b[:HeaderSize-1] },
		},
		{
			name:   "length mismatch",
			mutate: func(b []byte) []byte { return b[:len(b)-1] },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(bytes.Clone(valid))
			_, err := Decode(data)
			if err == nil {
				t.Fatal("Decode should fail")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("error = %v, want %v", err, tt.is)
			}
		})
	}
}

func BenchmarkFrame(b *testing.B) {
	payload := bytes.Repeat([]byte("x"), 1024)

	b.Run("Marshal", func(b *testing.B) {
		buf := make([]byte, 0, HeaderSize+len(payload))
		for i := 0; i < b.N; i++ {
			buf = Frame{RequestID: uint64(i), Payload: payload}.AppendTo(buf[:0])
		}
	})

	b.Run("Decode", func(b *testing.B) {
		data := Frame{RequestID: 1, Payload: payload}.Marshal()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = Decode(data)
		}
	})
}
