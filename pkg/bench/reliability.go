package bench

import (
	"bytes"
	"context"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"

	"github.com/YuminosukeSato/rpcbench/pkg/rpcbench"
)

// opUnknown is an operation no service implements.
const opUnknown = "transmogrify"

// ReliabilityScenario sends batches with injected failures and checks that
// every item comes back with the right outcome. Accounting is per item.
type ReliabilityScenario struct {
	cfg    rpcbench.ReliabilityConfig
	logger *rpcbench.Logger

	rng       *rand.Rand
	warm      rpcbench.BatchRequest
	batchSize int
	payload   []byte
	reversed  []byte
}

// NewReliabilityScenario returns the "Reliability & Error Handling"
// scenario.
func NewReliabilityScenario(opts Options) *ReliabilityScenario {
	return &ReliabilityScenario{cfg: opts.Reliability, logger: opts.logger()}
}

func (s *ReliabilityScenario) Name() string { return "Reliability & Error Handling" }

func (s *ReliabilityScenario) Run(ctx context.Context, client rpcbench.Client, cfg rpcbench.BenchmarkConfig) *Results {
	return drive(ctx, s.Name(), client, cfg, s.logger, s)
}

func (s *ReliabilityScenario) prepare(cfg rpcbench.BenchmarkConfig) {
	seed := s.cfg.Seed
	s.batchSize = max(cfg.BatchSize, 1)
	s.payload = rpcbench.GenerateRandomData(cfg.MessageSize, seed+1)
	s.reversed = slices.Clone(s.payload)
	slices.Reverse(s.reversed)

	// the warmup batch is fixed; measured batches depend only on the seed
	s.rng = rand.New(rand.NewPCG(seed, ^seed))
	s.warm = s.nextBatch(false)
	s.rng = rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
}

// nextBatch draws batchSize items from the scenario PRNG.
func (s *ReliabilityScenario) nextBatch(failOnError bool) rpcbench.BatchRequest {
	items := make([]rpcbench.BatchItem, s.batchSize)
	for i := range items {
		item := rpcbench.BatchItem{ID: strconv.Itoa(i), Data: s.payload}
		switch r := s.rng.Float64(); {
		case r < s.cfg.FailureRate:
			item.Operation = rpcbench.OpFail
		case r < s.cfg.FailureRate+s.cfg.UnknownRate:
			item.Operation = opUnknown
		case s.rng.IntN(2) == 0:
			item.Operation = rpcbench.OpEcho
		default:
			item.Operation = rpcbench.OpReverse
		}
		items[i] = item
	}
	return rpcbench.BatchRequest{Items: items, FailOnError: failOnError}
}

func (s *ReliabilityScenario) warmup(ctx context.Context, svc rpcbench.Service) {
	svc.BatchProcess(ctx, s.warm)
}

// iterate sends one batch. Odd iterations are fail-fast; sync and async
// calls alternate every two iterations so both meet both modes.
func (s *ReliabilityScenario) iterate(ctx context.Context, svc rpcbench.Service, iteration uint64, rec *recorder) {
	req := s.nextBatch(iteration%2 == 1)
	async := (iteration/2)%2 == 1

	start := time.Now()
	res := s.call(ctx, svc, req, async)
	latency := time.Since(start).Nanoseconds()

	if !res.OK() {
		s.logger.DebugContext(ctx, "batch call failed", "code", res.Code.String(), "message", res.Message)
		rec.count(0, uint64(len(req.Items)))
		return
	}
	if !consistent(req, res.Value) {
		s.logger.WarnContext(ctx, "inconsistent batch response",
			"items", len(req.Items),
			"results", len(res.Value.Results),
			"processed", res.Value.TotalProcessed,
			"failed", res.Value.TotalFailed,
		)
		rec.count(0, uint64(len(req.Items)))
		return
	}

	var ok, moved uint64
	for _, item := range req.Items {
		moved += uint64(len(item.Data))
	}
	for i, r := range res.Value.Results {
		moved += uint64(len(r.ResultData))
		if s.verify(req.Items[i], r) {
			ok++
		}
	}
	// items skipped by fail-fast count as failed
	rec.sample(latency, moved)
	rec.count(ok, uint64(len(req.Items))-ok)
}

func (s *ReliabilityScenario) call(ctx context.Context, svc rpcbench.Service, req rpcbench.BatchRequest, async bool) rpcbench.Result[rpcbench.BatchResponse] {
	if !async {
		return svc.BatchProcess(ctx, req)
	}
	done := make(chan rpcbench.Result[rpcbench.BatchResponse], 1)
	svc.BatchProcessAsync(ctx, req, func(r rpcbench.Result[rpcbench.BatchResponse]) { done <- r })
	res, ok := await(ctx, done)
	if !ok {
		return rpcbench.Failure[rpcbench.BatchResponse](rpcbench.CodeFromContext(ctx.Err()), ctx.Err().Error())
	}
	return res
}

// consistent checks the aggregate counters of a batch response against its
// results and the fail-fast contract.
func consistent(req rpcbench.BatchRequest, resp rpcbench.BatchResponse) bool {
	if int(resp.TotalProcessed) != len(resp.Results) || len(resp.Results) > len(req.Items) {
		return false
	}
	var failed uint32
	for i, r := range resp.Results {
		if r.ID != req.Items[i].ID {
			return false
		}
		if !r.Success {
			failed++
			if req.FailOnError && i != len(resp.Results)-1 {
				return false
			}
		}
	}
	if failed != resp.TotalFailed {
		return false
	}
	if !req.FailOnError || failed == 0 {
		return len(resp.Results) == len(req.Items)
	}
	return true
}

// verify reports whether a result is a success carrying the expected
// payload.
func (s *ReliabilityScenario) verify(item rpcbench.BatchItem, r rpcbench.BatchResult) bool {
	if !r.Success {
		return false
	}
	switch item.Operation {
	case rpcbench.OpEcho:
		return bytes.Equal(r.ResultData, item.Data)
	case rpcbench.OpReverse:
		return bytes.Equal(r.ResultData, s.reversed)
	default:
		return false
	}
}
