package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/rpcbench/internal/telemetry"
	"github.com/YuminosukeSato/rpcbench/pkg/rpcbench"
)

// ErrNoFrameworks is returned when a run has no framework to test.
var ErrNoFrameworks = errors.New("no frameworks available")

// ErrNoScenarios is returned when a run has no scenario to execute.
var ErrNoScenarios = errors.New("no valid scenarios specified")

// Sink receives every finished result.
type Sink interface {
	Record(ctx context.Context, r *Results) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r *Results) error

func (f SinkFunc) Record(ctx context.Context, r *Results) error { return f(ctx, r) }

// Runner executes every scenario against every framework.
type Runner struct {
	Factories []rpcbench.Factory
	Scenarios []Scenario
	Config    rpcbench.BenchmarkConfig
	Logger    *rpcbench.Logger

	// Out receives the per-result report; nil discards it.
	Out   io.Writer
	Sinks []Sink

	// SampleInterval is the resource sampling period when
	// Config.MeasureResources is set.
	SampleInterval time.Duration
}

// Run executes the cross product of factories and scenarios in order and
// returns the collected results. A context carrying no run ID gets a fresh
// one. Cancelling ctx ends the current scenario early and skips the rest.
func (r *Runner) Run(ctx context.Context) ([]*Results, error) {
	if len(r.Factories) == 0 {
		return nil, ErrNoFrameworks
	}
	if len(r.Scenarios) == 0 {
		return nil, ErrNoScenarios
	}
	logger := r.Logger
	if logger == nil {
		logger = rpcbench.NewDiscardLogger()
	}
	out := r.Out
	if out == nil {
		out = io.Discard
	}
	if _, ok := rpcbench.RunIDFrom(ctx); !ok {
		ctx = rpcbench.WithRunID(ctx, uuid.NewString())
	}

	var all []*Results
	for _, factory := range r.Factories {
		if ctx.Err() != nil {
			break
		}
		flog := logger.WithFramework(factory.Name())
		fmt.Fprintf(out, "Testing framework: %s\n", factory.Name())

		stop := r.selfHost(ctx, factory, flog)

		for _, sc := range r.Scenarios {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(out, "  Running scenario: %s\n", sc.Name())

			client, err := factory.CreateClient()
			if err != nil {
				flog.ErrorContext(ctx, "failed to create client", "scenario", sc.Name(), "error", err)
				continue
			}

			res := r.runOne(ctx, sc, client, flog)
			res.Framework = factory.Name()
			res.Print(out)
			all = append(all, res)

			for _, sink := range r.Sinks {
				if err := sink.Record(ctx, res); err != nil {
					flog.WarnContext(ctx, "failed to record result", "scenario", res.Scenario, "error", err)
				}
			}
		}

		stop()
	}
	return all, nil
}

func (r *Runner) runOne(ctx context.Context, sc Scenario, client rpcbench.Client, logger *rpcbench.Logger) *Results {
	if !r.Config.MeasureResources {
		return sc.Run(ctx, client, r.Config)
	}

	sampler, err := telemetry.StartSampler(r.SampleInterval)
	if err != nil {
		logger.WarnContext(ctx, "resource sampling unavailable", "error", err)
		return sc.Run(ctx, client, r.Config)
	}
	res := sc.Run(ctx, client, r.Config)
	usage := sampler.Stop()
	if res.State == StateCompleted {
		res.AvgCPUPercent = usage.AvgCPUPercent
		res.PeakMemoryBytes = usage.PeakMemoryBytes
	}
	return res
}

// selfHost starts a reference server for factory when configured and
// returns the function that stops it. A failed start only logs: the run
// proceeds against whatever listens at the address.
func (r *Runner) selfHost(ctx context.Context, factory rpcbench.Factory, logger *rpcbench.Logger) func() {
	if !r.Config.SelfHost {
		return func() {}
	}
	srv, err := factory.CreateServer(rpcbench.NewReferenceService())
	if err != nil {
		logger.ErrorContext(ctx, "failed to create server", "error", err)
		return func() {}
	}
	if !srv.Start(r.Config.ServerAddress) {
		logger.WarnContext(ctx, "failed to start self-hosted server", "address", r.Config.ServerAddress)
		return func() {}
	}
	logger.DebugContext(ctx, "self-hosted server started", "address", r.Config.ServerAddress)
	return srv.Stop
}
