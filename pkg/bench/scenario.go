package bench

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YuminosukeSato/rpcbench/internal/stats"
	"github.com/YuminosukeSato/rpcbench/pkg/rpcbench"
)

// ErrUnknownScenario is returned for a scenario name NewScenarios does not
// know.
var ErrUnknownScenario = errors.New("unknown scenario")

// Scenario is one workload. Run never returns an error: a failed connect
// yields Results with zero counters and State == StateFailed.
type Scenario interface {
	Name() string
	Run(ctx context.Context, client rpcbench.Client, cfg rpcbench.BenchmarkConfig) *Results
}

// Options carries the scenario-specific configuration sections.
type Options struct {
	Echo        rpcbench.EchoConfig
	Throughput  rpcbench.ThroughputConfig
	Reliability rpcbench.ReliabilityConfig
	Logger      *rpcbench.Logger
}

// OptionsFromConfig picks the scenario sections out of cfg.
func OptionsFromConfig(cfg *rpcbench.Config, logger *rpcbench.Logger) Options {
	return Options{
		Echo:        cfg.Echo,
		Throughput:  cfg.Throughput,
		Reliability: cfg.Reliability,
		Logger:      logger,
	}
}

func (o Options) logger() *rpcbench.Logger {
	if o.Logger == nil {
		return rpcbench.NewDiscardLogger()
	}
	return o.Logger
}

// Scenario names accepted by NewScenarios.
const (
	ScenarioEcho        = "echo"
	ScenarioThroughput  = "throughput"
	ScenarioReliability = "reliability"
)

// ScenarioNames lists the selectable scenarios in the order "all" runs them.
func ScenarioNames() []string {
	return []string{ScenarioEcho, ScenarioThroughput, ScenarioReliability}
}

// NewScenarios resolves a selection: one name, a comma-separated list, or
// "all".
func NewScenarios(selection string, opts Options) ([]Scenario, error) {
	names := ScenarioNames()
	if sel := strings.TrimSpace(selection); !strings.EqualFold(sel, "all") {
		names = strings.Split(sel, ",")
	}

	var out []Scenario
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case ScenarioEcho:
			out = append(out, NewEchoScenario(opts))
		case ScenarioThroughput:
			out = append(out, NewThroughputScenario(opts))
		case ScenarioReliability:
			out = append(out, NewReliabilityScenario(opts))
		default:
			return nil, fmt.Errorf("%w: %q (known: %s, all)", ErrUnknownScenario, name, strings.Join(ScenarioNames(), ", "))
		}
	}
	return out, nil
}

// workload is the part of a scenario that differs between scenarios. The
// state machine around it is shared.
type workload interface {
	// prepare runs once after connecting, before warmup.
	prepare(cfg rpcbench.BenchmarkConfig)
	// warmup performs one unmeasured call.
	warmup(ctx context.Context, svc rpcbench.Service)
	// iterate performs one measured iteration.
	iterate(ctx context.Context, svc rpcbench.Service, iteration uint64, rec *recorder)
}

// recorder accumulates measurements into Results and feeds the optional
// interval reporter.
type recorder struct {
	res      *Results
	interval *stats.IntervalReporter
}

// success records one successful request.
func (r *recorder) success(latencyNs int64, bytes uint64) {
	r.sample(latencyNs, bytes)
	r.count(1, 0)
}

// failure records one failed request.
func (r *recorder) failure() {
	r.count(0, 1)
	r.interval.Observe(time.Now(), 0, false, 0)
}

// sample records a latency and the bytes it moved without touching the
// request counters.
func (r *recorder) sample(latencyNs int64, bytes uint64) {
	r.res.Latency.AddSample(latencyNs)
	r.res.TotalBytes += bytes
	r.interval.Observe(time.Now(), latencyNs, true, bytes)
}

// count adds requests to the counters.
func (r *recorder) count(ok, failed uint64) {
	r.res.SuccessfulRequests += ok
	r.res.FailedRequests += failed
	r.res.TotalRequests += ok + failed
}

// machine drives one scenario run through its states.
type machine struct {
	logger *rpcbench.Logger
	state  State
}

func (m *machine) enter(ctx context.Context, s State) {
	m.logger.DebugContext(ctx, "scenario state", "from", m.state.String(), "to", s.String())
	m.state = s
}

// drive runs w against client.
func drive(ctx context.Context, name string, client rpcbench.Client, cfg rpcbench.BenchmarkConfig, logger *rpcbench.Logger, w workload) *Results {
	logger = logger.WithScenario(name)

	res := NewResults(name)
	m := &machine{logger: logger}

	m.enter(ctx, StateConnecting)
	if !client.Connect(cfg.ServerAddress) {
		logger.WarnContext(ctx, "failed to connect to server", "address", cfg.ServerAddress)
		m.enter(ctx, StateFailed)
		res.State = m.state
		return res
	}
	svc := client.Service()
	if svc == nil {
		logger.ErrorContext(ctx, "client has no service", "address", cfg.ServerAddress)
		client.Disconnect()
		m.enter(ctx, StateFailed)
		res.State = m.state
		return res
	}

	w.prepare(cfg)

	m.enter(ctx, StateWarmup)
	if warm := cfg.Warmup(); warm > 0 {
		logger.InfoContext(ctx, "warming up", "duration", warm)
		end := time.Now().Add(warm)
		for time.Now().Before(end) && ctx.Err() == nil {
			w.warmup(ctx, svc)
		}
	}

	m.enter(ctx, StateMeasuring)
	rec := &recorder{res: res}
	if cfg.Verbose {
		rec.interval = stats.NewIntervalReporter(time.Now(), time.Second, func(s stats.IntervalSnapshot) {
			logger.InfoContext(ctx, "progress",
				"elapsed", s.Elapsed.Round(time.Millisecond),
				"good", s.Good,
				"bad", s.Bad,
				"p95_us", s.P95Us,
				"p99_us", s.P99Us,
			)
		})
	}

	start := time.Now()
	deadline := start.Add(cfg.Duration())
	for i := uint64(0); ; i++ {
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "measurement interrupted", "iterations", i)
			break
		}
		if cfg.Iterations > 0 {
			if i >= uint64(cfg.Iterations) {
				break
			}
		} else if !time.Now().Before(deadline) {
			break
		}
		w.iterate(ctx, svc, i, rec)
	}
	res.DurationNs = time.Since(start).Nanoseconds()
	rec.interval.Flush(time.Now())

	client.Disconnect()
	res.Finalize()
	m.enter(ctx, StateCompleted)
	res.State = m.state
	return res
}

// await waits for a callback result, giving up when ctx ends.
func await[T any](ctx context.Context, ch <-chan T) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}
