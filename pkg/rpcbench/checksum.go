package rpcbench

import (
	"encoding/binary"
	"hash/crc32"
	"math/rand/v2"
	"time"
)

// Checksum returns the CRC32 (IEEE) of data, the checksum carried by
// DataChunk.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// NewDataChunk builds a chunk with its checksum and timestamp filled in.
func NewDataChunk(seq uint32, data []byte) DataChunk {
	return DataChunk{
		SequenceNumber: seq,
		Data:           data,
		Checksum:       Checksum(data),
		Timestamp:      NowNanos(),
	}
}

// VerifyChunk reports whether the chunk's payload still matches its
// checksum.
func VerifyChunk(c DataChunk) bool {
	return Checksum(c.Data) == c.Checksum
}

// GenerateRandomData returns size pseudo-random bytes. The same non-zero
// seed always yields the same bytes; seed 0 draws a random seed.
func GenerateRandomData(size int, seed uint64) []byte {
	if size <= 0 {
		return []byte{}
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	out := make([]byte, size)
	var word [8]byte
	for i := 0; i < size; i += 8 {
		binary.LittleEndian.PutUint64(word[:], rng.Uint64())
		copy(out[i:], word[:])
	}
	return out
}

// NowNanos returns wall-clock Unix time in nanoseconds for message
// timestamps. Latency is measured with the monotonic clock, not with this.
func NowNanos() int64 {
	return time.Now().UnixNano()
}
