package bench

import (
	"context"
	"strings"
	"time"

	"github.com/YuminosukeSato/rpcbench/pkg/rpcbench"
)

// EchoScenario measures round-trip latency of Echo with a fixed payload.
type EchoScenario struct {
	async  bool
	logger *rpcbench.Logger

	message string
	seq     uint32
}

// NewEchoScenario returns the "Echo Latency" scenario.
func NewEchoScenario(opts Options) *EchoScenario {
	return &EchoScenario{async: opts.Echo.Async, logger: opts.logger()}
}

func (s *EchoScenario) Name() string { return "Echo Latency" }

func (s *EchoScenario) Run(ctx context.Context, client rpcbench.Client, cfg rpcbench.BenchmarkConfig) *Results {
	return drive(ctx, s.Name(), client, cfg, s.logger, s)
}

func (s *EchoScenario) prepare(cfg rpcbench.BenchmarkConfig) {
	s.message = strings.Repeat("x", cfg.MessageSize)
	s.seq = 0
}

func (s *EchoScenario) warmup(ctx context.Context, svc rpcbench.Service) {
	s.call(ctx, svc, rpcbench.EchoRequest{Message: "warmup", Timestamp: rpcbench.NowNanos()})
}

func (s *EchoScenario) iterate(ctx context.Context, svc rpcbench.Service, _ uint64, rec *recorder) {
	req := rpcbench.EchoRequest{
		Message:        s.message,
		Timestamp:      rpcbench.NowNanos(),
		SequenceNumber: s.seq,
	}
	s.seq++

	start := time.Now()
	res := s.call(ctx, svc, req)
	latency := time.Since(start).Nanoseconds()

	if !res.OK() {
		rec.failure()
		return
	}
	rec.success(latency, uint64(len(req.Message)+len(res.Value.Message)))
}

func (s *EchoScenario) call(ctx context.Context, svc rpcbench.Service, req rpcbench.EchoRequest) rpcbench.Result[rpcbench.EchoResponse] {
	if !s.async {
		return svc.Echo(ctx, req)
	}

	done := make(chan rpcbench.Result[rpcbench.EchoResponse], 1)
	svc.EchoAsync(ctx, req, func(r rpcbench.Result[rpcbench.EchoResponse]) { done <- r })
	res, ok := await(ctx, done)
	if !ok {
		return rpcbench.Failure[rpcbench.EchoResponse](rpcbench.CodeFromContext(ctx.Err()), ctx.Err().Error())
	}
	return res
}
