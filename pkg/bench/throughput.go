package bench

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YuminosukeSato/rpcbench/pkg/rpcbench"
)

// ThroughputScenario moves a fixed chunk set through the three streaming
// methods. Each iteration is one download, one upload and one
// bidirectional exchange, counted as three requests.
type ThroughputScenario struct {
	chunkCount int
	delayMs    int
	logger     *rpcbench.Logger

	chunkSize uint32
	chunks    []rpcbench.DataChunk
}

// NewThroughputScenario returns the "Streaming Throughput" scenario.
func NewThroughputScenario(opts Options) *ThroughputScenario {
	count := opts.Throughput.ChunkCount
	if count <= 0 {
		count = rpcbench.DefaultConfig().Throughput.ChunkCount
	}
	return &ThroughputScenario{
		chunkCount: count,
		delayMs:    opts.Throughput.DelayMs,
		logger:     opts.logger(),
	}
}

func (s *ThroughputScenario) Name() string { return "Streaming Throughput" }

func (s *ThroughputScenario) Run(ctx context.Context, client rpcbench.Client, cfg rpcbench.BenchmarkConfig) *Results {
	return drive(ctx, s.Name(), client, cfg, s.logger, s)
}

// prepare generates and checksums the chunk set once, outside the timed
// region.
func (s *ThroughputScenario) prepare(cfg rpcbench.BenchmarkConfig) {
	s.chunkSize = uint32(cfg.MessageSize)
	s.chunks = make([]rpcbench.DataChunk, s.chunkCount)
	for i := range s.chunks {
		data := rpcbench.GenerateRandomData(cfg.MessageSize, uint64(i)+1)
		s.chunks[i] = rpcbench.NewDataChunk(uint32(i), data)
	}
}

func (s *ThroughputScenario) warmup(ctx context.Context, svc rpcbench.Service) {
	s.download(ctx, svc)
	s.upload(ctx, svc)
	s.exchange(ctx, svc)
}

func (s *ThroughputScenario) iterate(ctx context.Context, svc rpcbench.Service, _ uint64, rec *recorder) {
	for _, stream := range []func(context.Context, rpcbench.Service) (uint64, error){
		s.download,
		s.upload,
		s.exchange,
	} {
		start := time.Now()
		bytes, err := stream(ctx, svc)
		latency := time.Since(start).Nanoseconds()

		if err != nil {
			s.logger.DebugContext(ctx, "stream failed", "error", err)
			rec.failure()
			continue
		}
		rec.success(latency, bytes)
	}
}

// source returns a closed channel holding the chunk set.
func (s *ThroughputScenario) source() <-chan rpcbench.DataChunk {
	ch := make(chan rpcbench.DataChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch
}

// chunkCollector gathers stream chunks from a callback that may run on
// another goroutine.
type chunkCollector struct {
	mu     sync.Mutex
	chunks []rpcbench.DataChunk
	done   chan streamEnd
}

type streamEnd struct {
	code rpcbench.ErrorCode
	msg  string
}

func newChunkCollector(capacity int) *chunkCollector {
	return &chunkCollector{
		chunks: make([]rpcbench.DataChunk, 0, capacity),
		done:   make(chan streamEnd, 1),
	}
}

func (c *chunkCollector) onChunk(chunk rpcbench.DataChunk) {
	c.mu.Lock()
	c.chunks = append(c.chunks, chunk)
	c.mu.Unlock()
}

func (c *chunkCollector) onComplete(code rpcbench.ErrorCode, msg string) {
	c.done <- streamEnd{code, msg}
}

// wait blocks until completion and validates what arrived: status, count,
// order and checksums. It returns the payload bytes received.
func (c *chunkCollector) wait(ctx context.Context, want int) (uint64, error) {
	end, ok := await(ctx, c.done)
	if !ok {
		return 0, ctx.Err()
	}
	if end.code != rpcbench.CodeOK {
		return 0, &rpcbench.Error{Code: end.code, Message: end.msg}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.chunks) != want {
		return 0, fmt.Errorf("received %d chunks, want %d", len(c.chunks), want)
	}
	var bytes uint64
	for i, chunk := range c.chunks {
		if chunk.SequenceNumber != uint32(i) {
			return 0, fmt.Errorf("sequence gap: chunk %d has sequence %d", i, chunk.SequenceNumber)
		}
		if !rpcbench.VerifyChunk(chunk) {
			return 0, fmt.Errorf("checksum mismatch on chunk %d", i)
		}
		bytes += uint64(len(chunk.Data))
	}
	return bytes, nil
}

// download runs StreamData and returns the bytes received.
func (s *ThroughputScenario) download(ctx context.Context, svc rpcbench.Service) (uint64, error) {
	c := newChunkCollector(s.chunkCount)
	svc.StreamData(ctx, rpcbench.StreamRequest{
		ChunkSize:  s.chunkSize,
		ChunkCount: uint32(s.chunkCount),
		DelayMs:    uint32(s.delayMs),
	}, c.onChunk, c.onComplete)
	return c.wait(ctx, s.chunkCount)
}

// upload runs UploadData and returns the bytes the server acknowledged.
func (s *ThroughputScenario) upload(ctx context.Context, svc rpcbench.Service) (uint64, error) {
	done := make(chan rpcbench.Result[rpcbench.UploadResponse], 1)
	svc.UploadData(ctx, s.source(), func(r rpcbench.Result[rpcbench.UploadResponse]) { done <- r })

	res, ok := await(ctx, done)
	switch {
	case !ok:
		return 0, ctx.Err()
	case !res.OK():
		return 0, res.Err()
	case !res.Value.ChecksumValid:
		return 0, fmt.Errorf("server reported checksum mismatch")
	case int(res.Value.ChunkCount) != len(s.chunks):
		return 0, fmt.Errorf("server received %d chunks, want %d", res.Value.ChunkCount, len(s.chunks))
	}
	return res.Value.TotalBytes, nil
}

// exchange runs BidirectionalStream and returns bytes sent plus received.
func (s *ThroughputScenario) exchange(ctx context.Context, svc rpcbench.Service) (uint64, error) {
	c := newChunkCollector(len(s.chunks))
	svc.BidirectionalStream(ctx, s.source(), c.onChunk, c.onComplete)

	received, err := c.wait(ctx, len(s.chunks))
	if err != nil {
		return 0, err
	}
	return received + uint64(len(s.chunks))*uint64(s.chunkSize), nil
}
