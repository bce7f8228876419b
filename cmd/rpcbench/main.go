package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/rpcbench/internal/history"
	"github.com/YuminosukeSato/rpcbench/internal/telemetry"
	"github.com/YuminosukeSato/rpcbench/pkg/bench"
	"github.com/YuminosukeSato/rpcbench/pkg/rpcbench"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpcbench",
		Short: "rpcbench - RPC framework benchmark",
		Long: `rpcbench measures latency, streaming throughput and error handling of
interchangeable RPC backends against the same reference service.`,
		Version: "0.1.0",
		Args:    cobra.NoArgs,
		RunE:    runBenchmark,
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "Path to a yaml configuration file")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")
	pf.String("history", "", "Path of the run history database")

	f := cmd.Flags()
	f.String("framework", "all", "Framework to test ("+strings.Join(rpcbench.FrameworkNames(), ", ")+", all)")
	f.String("scenario", "echo", "Scenario to run ("+strings.Join(bench.ScenarioNames(), ", ")+", all)")
	f.Int("duration", 10, "Measuring duration in seconds")
	f.Int("iterations", 0, "Measure a fixed number of iterations instead of a duration")
	f.Int("warmup", 1, "Warmup duration in seconds")
	f.Int("message-size", 1024, "Message size in bytes")
	f.Int("batch-size", 100, "Items per batch in the reliability scenario")
	f.Int("chunk-count", 16, "Chunks per stream in the throughput scenario")
	f.String("address", "localhost:50051", "Server address (host:port or unix:///path)")
	f.String("output", "", "Write results as JSON to this file")
	f.Bool("verbose", false, "Log per-second progress while measuring")
	f.Bool("async", false, "Use the asynchronous echo call")
	f.Bool("self-host", true, "Start a reference server for each framework")
	f.Bool("measure-resources", false, "Sample process CPU and memory during each scenario")
	f.String("metrics-addr", "", "Serve Prometheus metrics of the results at this address")

	cmd.AddCommand(newServeCmd(), newHistoryCmd(), newFrameworksCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*rpcbench.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := rpcbench.LoadConfig(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
	}
	return cfg, nil
}

func runBenchmark(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := rpcbench.NewLogger(cfg.Logging)
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "rpcbench: RPC Framework Benchmark\n\n")

	scenarios, err := bench.NewScenarios(cfg.Benchmark.Scenario, bench.OptionsFromConfig(cfg, logger))
	if err != nil {
		return err
	}

	factories, err := rpcbench.NewFactories(cfg.Benchmark.Framework, rpcbench.FactoryDeps{
		Transport: cfg.Transport,
		Registry:  rpcbench.NewRegistry(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if len(factories) == 0 {
		return fmt.Errorf("%w: no implementation for %q (known: %s)",
			bench.ErrNoFrameworks, cfg.Benchmark.Framework, strings.Join(rpcbench.FrameworkNames(), ", "))
	}
	cmd.SilenceUsage = true

	printConfiguration(out, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &bench.Runner{
		Factories:      factories,
		Scenarios:      scenarios,
		Config:         cfg.Benchmark,
		Logger:         logger,
		Out:            out,
		SampleInterval: 100 * time.Millisecond,
	}

	if cfg.Metrics.Enabled {
		exporter := telemetry.NewExporter()
		addr, err := exporter.Serve(cfg.Metrics.Endpoint, cfg.Metrics.Path)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := exporter.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", "error", err)
			}
		}()
		logger.Info("serving metrics", "address", addr, "path", cfg.Metrics.Path)
		runner.Sinks = append(runner.Sinks, bench.SinkFunc(func(_ context.Context, r *bench.Results) error {
			exporter.Record(r.Summary())
			return nil
		}))
	}

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		runner.Sinks = append(runner.Sinks, store)
	}

	results, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, bench.ErrNoFrameworks) {
			return fmt.Errorf("%w: framework implementations are not available", err)
		}
		return err
	}

	if len(results) > 1 {
		fmt.Fprintln(out, bench.ComparisonTable(results))
		fmt.Fprintln(out)
	}

	if cfg.Benchmark.OutputFile != "" {
		if err := bench.WriteJSONFile(cfg.Benchmark.OutputFile, results); err != nil {
			return err
		}
		fmt.Fprintf(out, "Results written to %s\n", cfg.Benchmark.OutputFile)
	}

	if ctx.Err() != nil {
		fmt.Fprintln(out, "Benchmark interrupted.")
		return nil
	}
	fmt.Fprintln(out, "Benchmark complete!")
	return nil
}

func printConfiguration(w io.Writer, cfg *rpcbench.Config) {
	b := cfg.Benchmark
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Frameworks: %s\n", b.Framework)
	fmt.Fprintf(w, "  Scenarios: %s\n", b.Scenario)
	if b.Iterations > 0 {
		fmt.Fprintf(w, "  Iterations: %d\n", b.Iterations)
	} else {
		fmt.Fprintf(w, "  Duration: %d seconds\n", b.DurationSeconds)
	}
	fmt.Fprintf(w, "  Message size: %d bytes\n", b.MessageSize)
	fmt.Fprintf(w, "  Server address: %s\n", b.ServerAddress)
	fmt.Fprintln(w)
}
