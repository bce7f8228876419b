package bench

import (
	"math"

	"github.com/goccy/go-json"

	"github.com/YuminosukeSato/rpcbench/internal/stats"
	"github.com/YuminosukeSato/rpcbench/internal/telemetry"
)

// Results holds the outcome of one scenario against one framework.
// Latency only contains samples of successful calls.
type Results struct {
	Scenario  string
	Framework string
	State     State

	Latency *stats.LatencyStats

	TotalRequests uint64
	TotalBytes    uint64
	DurationNs    int64

	SuccessfulRequests uint64
	FailedRequests     uint64

	// Derived by Finalize.
	RequestsPerSecond float64
	ThroughputMBps    float64
	SuccessRate       float64

	// Zero unless resources were measured.
	AvgCPUPercent   float64
	PeakMemoryBytes uint64
}

// NewResults returns empty results for scenario.
func NewResults(scenario string) *Results {
	return &Results{
		Scenario:  scenario,
		Framework: "unknown",
		Latency:   stats.NewLatencyStats(),
	}
}

// Finalize computes the derived rates from the raw counters.
func (r *Results) Finalize() {
	r.RequestsPerSecond = stats.RequestsPerSecond(r.SuccessfulRequests, r.DurationNs)
	r.ThroughputMBps = stats.ThroughputMBps(r.TotalBytes, r.DurationNs)
	r.SuccessRate = stats.Ratio(r.SuccessfulRequests, r.TotalRequests)
}

// HasResources reports whether resource usage was recorded.
func (r *Results) HasResources() bool {
	return r.PeakMemoryBytes > 0 || r.AvgCPUPercent > 0
}

// Summary flattens the results for the metrics exporter.
func (r *Results) Summary() telemetry.Summary {
	return telemetry.Summary{
		Framework:         r.Framework,
		Scenario:          r.Scenario,
		RequestsPerSecond: r.RequestsPerSecond,
		ThroughputMBps:    r.ThroughputMBps,
		SuccessRate:       r.SuccessRate,
		TotalRequests:     r.TotalRequests,
		Successful:        r.SuccessfulRequests,
		Failed:            r.FailedRequests,
		TotalBytes:        r.TotalBytes,
		P50Ns:             r.Latency.P50(),
		P95Ns:             r.Latency.P95(),
		P99Ns:             r.Latency.P99(),
		AvgCPUPercent:     r.AvgCPUPercent,
		PeakMemoryBytes:   r.PeakMemoryBytes,
	}
}

type throughputJSON struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	ThroughputMBps    float64 `json:"throughput_mbps"`
	TotalRequests     uint64  `json:"total_requests"`
	TotalBytes        uint64  `json:"total_bytes"`
	DurationNs        int64   `json:"duration_ns"`
}

type latencyJSON struct {
	Count  uint64 `json:"count"`
	MeanNs int64  `json:"mean_ns"`
	MinNs  int64  `json:"min_ns"`
	MaxNs  int64  `json:"max_ns"`
	P50Ns  int64  `json:"p50_ns"`
	P95Ns  int64  `json:"p95_ns"`
	P99Ns  int64  `json:"p99_ns"`
}

type reliabilityJSON struct {
	SuccessfulRequests uint64  `json:"successful_requests"`
	FailedRequests     uint64  `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`
}

type resourcesJSON struct {
	PeakMemoryBytes uint64  `json:"peak_memory_bytes,omitempty"`
	AvgCPUPercent   float64 `json:"avg_cpu_percent,omitempty"`
}

type resultsJSON struct {
	Scenario    string          `json:"scenario"`
	Framework   string          `json:"framework"`
	Throughput  throughputJSON  `json:"throughput"`
	Latency     latencyJSON     `json:"latency"`
	Reliability reliabilityJSON `json:"reliability"`
	Resources   *resourcesJSON  `json:"resources,omitempty"`
}

// MarshalJSON renders the structured result form. min_ns is 0 when no
// sample was recorded.
func (r *Results) MarshalJSON() ([]byte, error) {
	lat := r.Latency
	if lat == nil {
		lat = stats.NewLatencyStats()
	}
	out := resultsJSON{
		Scenario:  r.Scenario,
		Framework: r.Framework,
		Throughput: throughputJSON{
			RequestsPerSecond: round2(r.RequestsPerSecond),
			ThroughputMBps:    round2(r.ThroughputMBps),
			TotalRequests:     r.TotalRequests,
			TotalBytes:        r.TotalBytes,
			DurationNs:        r.DurationNs,
		},
		Latency: latencyJSON{
			Count:  lat.Count(),
			MeanNs: int64(math.Round(lat.Mean())),
			MaxNs:  lat.Max(),
			P50Ns:  lat.P50(),
			P95Ns:  lat.P95(),
			P99Ns:  lat.P99(),
		},
		Reliability: reliabilityJSON{
			SuccessfulRequests: r.SuccessfulRequests,
			FailedRequests:     r.FailedRequests,
			SuccessRate:        round2(r.SuccessRate),
		},
	}
	if lat.Count() > 0 {
		out.Latency.MinNs = lat.Min()
	}
	if r.HasResources() {
		out.Resources = &resourcesJSON{
			PeakMemoryBytes: r.PeakMemoryBytes,
			AvgCPUPercent:   round2(r.AvgCPUPercent),
		}
	}
	return json.Marshal(out)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
