// Package stats collects per-call latency samples and renders the numbers
// the benchmark reports are built from.
package stats

import (
	"fmt"
	"math"
	"slices"
)

// LatencyStats accumulates nanosecond latency samples and derives
// descriptive statistics from them.
//
// Percentiles are order statistics: the sample at index floor(p*n) of the
// sorted sequence, clamped to n-1. They are never interpolated.
//
// LatencyStats is not safe for concurrent use. A scenario run owns its
// recorder exclusively.
type LatencyStats struct {
	samples []int64
	count   uint64
	sum     int64
	min     int64
	max     int64
	sorted  bool
}

// NewLatencyStats returns an empty recorder.
func NewLatencyStats() *LatencyStats {
	s := &LatencyStats{}
	s.Reset()
	return s
}

// AddSample records one latency in nanoseconds. Zero and negative values
// are kept as-is so clock anomalies stay visible in the results.
func (s *LatencyStats) AddSample(latencyNs int64) {
	if s.count == 0 {
		s.min, s.max = latencyNs, latencyNs
	} else {
		s.min = min(s.min, latencyNs)
		s.max = max(s.max, latencyNs)
	}
	s.samples = append(s.samples, latencyNs)
	s.count++
	s.sum += latencyNs
	s.sorted = false
}

// Reset clears all samples and counters.
func (s *LatencyStats) Reset() {
	s.samples = s.samples[:0]
	s.count = 0
	s.sum = 0
	s.min = math.MaxInt64
	s.max = 0
	s.sorted = false
}

// Count returns the number of recorded samples.
func (s *LatencyStats) Count() uint64 { return s.count }

// Mean returns the arithmetic mean, or 0 without samples.
func (s *LatencyStats) Mean() float64 {
	if s.count == 0 {
		return 0
	}
	return float64(s.sum) / float64(s.count)
}

// Min returns the smallest sample, or math.MaxInt64 without samples.
func (s *LatencyStats) Min() int64 {
	if s.count == 0 {
		return math.MaxInt64
	}
	return s.min
}

// Max returns the largest sample, or 0 without samples.
func (s *LatencyStats) Max() int64 {
	if s.count == 0 {
		return 0
	}
	return s.max
}

// Percentile returns the order statistic for p in [0, 1].
func (s *LatencyStats) Percentile(p float64) int64 {
	if len(s.samples) == 0 {
		return 0
	}
	s.ensureSorted()

	idx := int(p * float64(len(s.samples)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.samples) {
		idx = len(s.samples) - 1
	}
	return s.samples[idx]
}

func (s *LatencyStats) P50() int64 { return s.Percentile(0.50) }
func (s *LatencyStats) P95() int64 { return s.Percentile(0.95) }
func (s *LatencyStats) P99() int64 { return s.Percentile(0.99) }

// ensureSorted sorts the sample slice once per batch of new samples.
func (s *LatencyStats) ensureSorted() {
	if s.sorted || len(s.samples) == 0 {
		return
	}
	slices.Sort(s.samples)
	s.sorted = true
}

// String renders a one-line summary.
func (s *LatencyStats) String() string {
	if s.count == 0 {
		return "Count: 0 (no samples)"
	}
	return fmt.Sprintf("Count: %d, Mean: %s, Min: %s, Max: %s, P50: %s, P95: %s, P99: %s",
		s.count,
		FormatDuration(int64(s.Mean())),
		FormatDuration(s.Min()),
		FormatDuration(s.Max()),
		FormatDuration(s.P50()),
		FormatDuration(s.P95()),
		FormatDuration(s.P99()),
	)
}
