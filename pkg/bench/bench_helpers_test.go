package bench

import (
	"context"
	"errors"

	"github.com/YuminosukeSato/rpcbench/pkg/rpcbench"
)

// fakeClient hands out a fixed service.
type fakeClient struct {
	svc       rpcbench.Service
	refuse    bool
	connected bool

	connects    int
	disconnects int
}

func (c *fakeClient) Connect(string) bool {
	c.connects++
	if c.refuse {
		return false
	}
	c.connected = true
	return true
}

func (c *fakeClient) Disconnect() {
	c.disconnects++
	c.connected = false
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Service() rpcbench.Service { return c.svc }

// flakyService fails every failEvery-th Echo.
type flakyService struct {
	*rpcbench.ReferenceService
	failEvery int
	calls     int
}

func (s *flakyService) Echo(ctx context.Context, req rpcbench.EchoRequest) rpcbench.Result[rpcbench.EchoResponse] {
	s.calls++
	if s.failEvery > 0 && s.calls%s.failEvery == 0 {
		return rpcbench.Failure[rpcbench.EchoResponse](rpcbench.CodeUnavailable, "flaky")
	}
	return s.ReferenceService.Echo(ctx, req)
}

// corruptingService flips a byte in the second streamed chunk.
type corruptingService struct {
	*rpcbench.ReferenceService
}

func (s *corruptingService) StreamData(ctx context.Context, req rpcbench.StreamRequest, onChunk rpcbench.ChunkCallback, onComplete rpcbench.CompletionCallback) {
	n := 0
	s.ReferenceService.StreamData(ctx, req, func(c rpcbench.DataChunk) {
		if n == 1 && len(c.Data) > 0 {
			c.Data[0] ^= 0xFF
		}
		n++
		onChunk(c)
	}, onComplete)
}

// miscountingService reports one more processed item than it returns.
type miscountingService struct {
	*rpcbench.ReferenceService
}

func (s *miscountingService) BatchProcess(ctx context.Context, req rpcbench.BatchRequest) rpcbench.Result[rpcbench.BatchResponse] {
	res := s.ReferenceService.BatchProcess(ctx, req)
	res.Value.TotalProcessed++
	return res
}

func (s *miscountingService) BatchProcessAsync(ctx context.Context, req rpcbench.BatchRequest, cb rpcbench.ResponseCallback[rpcbench.BatchResponse]) {
	cb(s.BatchProcess(ctx, req))
}

// fakeFactory returns a preset client or error.
type fakeFactory struct {
	name      string
	client    rpcbench.Client
	clientErr error
	servers   int
}

func (f *fakeFactory) Name() string { return f.name }

func (f *fakeFactory) CreateClient() (rpcbench.Client, error) {
	if f.clientErr != nil {
		return nil, f.clientErr
	}
	return f.client, nil
}

func (f *fakeFactory) CreateServer(rpcbench.Service) (rpcbench.Server, error) {
	f.servers++
	return nil, errors.New("no server")
}

func iterationConfig(iterations int) rpcbench.BenchmarkConfig {
	cfg := rpcbench.DefaultConfig().Benchmark
	cfg.Iterations = iterations
	cfg.WarmupSeconds = 0
	cfg.SelfHost = false
	cfg.MessageSize = 16
	cfg.BatchSize = 5
	return cfg
}
