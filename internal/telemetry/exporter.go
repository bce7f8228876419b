package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Summary is the slice of a finished benchmark result that gets exported.
type Summary struct {
	Framework string
	Scenario  string

	RequestsPerSecond float64
	ThroughputMBps    float64
	SuccessRate       float64

	TotalRequests uint64
	Successful    uint64
	Failed        uint64
	TotalBytes    uint64

	P50Ns int64
	P95Ns int64
	P99Ns int64

	AvgCPUPercent   float64
	PeakMemoryBytes uint64
}

// Exporter publishes finished results as Prometheus gauges on its own
// registry, so several exporters can coexist in one process.
type Exporter struct {
	registry *prometheus.Registry

	RequestsPerSecond *prometheus.GaugeVec
	ThroughputMBps    *prometheus.GaugeVec
	SuccessRate       *prometheus.GaugeVec
	Requests          *prometheus.GaugeVec
	Bytes             *prometheus.GaugeVec
	Latency           *prometheus.GaugeVec
	CPUPercent        *prometheus.GaugeVec
	PeakMemory        *prometheus.GaugeVec
	Runs              prometheus.Counter

	mu  sync.Mutex
	srv *http.Server
}

// NewExporter creates and registers all result metrics.
func NewExporter() *Exporter {
	labels := []string{"framework", "scenario"}
	e := &Exporter{registry: prometheus.NewRegistry()}

	e.RequestsPerSecond = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcbench_requests_per_second",
			Help: "Successful requests per second of the last run",
		},
		labels,
	)

	e.ThroughputMBps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcbench_throughput_mbps",
			Help: "Payload throughput of the last run in MiB/s",
		},
		labels,
	)

	e.SuccessRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcbench_success_rate",
			Help: "Fraction of successful requests in the last run",
		},
		labels,
	)

	e.Requests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcbench_requests",
			Help: "Requests issued in the last run by outcome",
		},
		append(labels, "outcome"),
	)

	e.Bytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcbench_bytes",
			Help: "Payload bytes moved in the last run",
		},
		labels,
	)

	e.Latency = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcbench_latency_seconds",
			Help: "Call latency percentiles of the last run",
		},
		append(labels, "quantile"),
	)

	e.CPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcbench_cpu_percent",
			Help: "Average process CPU usage during the last run",
		},
		labels,
	)

	e.PeakMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcbench_peak_memory_bytes",
			Help: "Peak resident memory during the last run",
		},
		labels,
	)

	e.Runs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpcbench_results_total",
			Help: "Number of scenario results recorded",
		},
	)

	e.registry.MustRegister(
		e.RequestsPerSecond,
		e.ThroughputMBps,
		e.SuccessRate,
		e.Requests,
		e.Bytes,
		e.Latency,
		e.CPUPercent,
		e.PeakMemory,
		e.Runs,
	)
	return e
}

// Record overwrites the gauges of s.Framework/s.Scenario with s.
func (e *Exporter) Record(s Summary) {
	fw, sc := s.Framework, s.Scenario

	e.RequestsPerSecond.WithLabelValues(fw, sc).Set(s.RequestsPerSecond)
	e.ThroughputMBps.WithLabelValues(fw, sc).Set(s.ThroughputMBps)
	e.SuccessRate.WithLabelValues(fw, sc).Set(s.SuccessRate)
	e.Requests.WithLabelValues(fw, sc, "total").Set(float64(s.TotalRequests))
	e.Requests.WithLabelValues(fw, sc, "success").Set(float64(s.Successful))
	e.Requests.WithLabelValues(fw, sc, "failure").Set(float64(s.Failed))
	e.Bytes.WithLabelValues(fw, sc).Set(float64(s.TotalBytes))
	e.Latency.WithLabelValues(fw, sc, "0.5").Set(time.Duration(s.P50Ns).Seconds())
	e.Latency.WithLabelValues(fw, sc, "0.95").Set(time.Duration(s.P95Ns).Seconds())
	e.Latency.WithLabelValues(fw, sc, "0.99").Set(time.Duration(s.P99Ns).Seconds())
	if s.AvgCPUPercent > 0 {
		e.CPUPercent.WithLabelValues(fw, sc).Set(s.AvgCPUPercent)
	}
	if s.PeakMemoryBytes > 0 {
		e.PeakMemory.WithLabelValues(fw, sc).Set(float64(s.PeakMemoryBytes))
	}
	e.Runs.Inc()
}

// Gatherer exposes the exporter's registry.
func (e *Exporter) Gatherer() prometheus.Gatherer { return e.registry }

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server for Handler at addr and path. It returns once
// the listener is bound; the returned address is the actual one.
func (e *Exporter) Serve(addr, path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.srv != nil {
		return "", errors.New("metrics server already running")
	}
	if path == "" {
		path = "/metrics"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, e.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	e.srv = srv

	go func() { _ = srv.Serve(ln) }()
	return ln.Addr().String(), nil
}

// Shutdown stops the HTTP server started by Serve.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	srv := e.srv
	e.srv = nil
	e.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
