package stats

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyStatsKnownSamples(t *testing.T) {
	s := NewLatencyStats()
	for _, v := range []int64{50, 10, 40, 20, 30} {
		s.AddSample(v)
	}

	assert.Equal(t, uint64(5), s.Count())
	assert.Equal(t, int64(30), s.P50())
	assert.Equal(t, int64(10), s.Min())
	assert.Equal(t, int64(50), s.Max())
	assert.InDelta(t, 30.0, s.Mean(), 1e-9)
	assert.Equal(t, int64(50), s.P95())
	assert.Equal(t, int64(50), s.P99())
}

func TestLatencyStatsEmpty(t *testing.T) {
	s := NewLatencyStats()

	assert.Equal(t, uint64(0), s.Count())
	assert.Equal(t, 0.0, s.Mean())
	assert.Equal(t, int64(math.MaxInt64), s.Min())
	assert.Equal(t, int64(0), s.Max())
	assert.Equal(t, int64(0), s.P50())
	assert.Contains(t, s.String(), "no samples")
}

func TestLatencyStatsZeroValue(t *testing.T) {
	var s LatencyStats
	s.AddSample(7)

	assert.Equal(t, int64(7), s.Min())
	assert.Equal(t, int64(7), s.Max())
	assert.Equal(t, int64(7), s.P99())
}

func TestLatencyStatsSingleSample(t *testing.T) {
	s := NewLatencyStats()
	s.AddSample(123)

	assert.Equal(t, int64(123), s.Min())
	assert.Equal(t, int64(123), s.Max())
	assert.InDelta(t, 123.0, s.Mean(), 1e-9)
	assert.Equal(t, s.P50(), s.P99())
}

func TestLatencyStatsNegativeSamplesKept(t *testing.T) {
	s := NewLatencyStats()
	s.AddSample(-5)
	s.AddSample(0)
	s.AddSample(-1)

	assert.Equal(t, uint64(3), s.Count())
	assert.Equal(t, int64(-5), s.Min())
	assert.Equal(t, int64(0), s.Max())
	assert.Equal(t, int64(-1), s.P50())
}

func TestLatencyStatsOrderingProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for _, n := range []int{1, 2, 3, 10, 99, 100, 1000} {
		s := NewLatencyStats()
		seen := make(map[int64]bool, n)
		for i := 0; i < n; i++ {
			v := rng.Int64N(1_000_000)
			seen[v] = true
			s.AddSample(v)
		}

		assert.LessOrEqual(t, s.P50(), s.P95(), "n=%d", n)
		assert.LessOrEqual(t, s.P95(), s.P99(), "n=%d", n)
		assert.LessOrEqual(t, float64(s.Min()), s.Mean(), "n=%d", n)
		assert.LessOrEqual(t, s.Mean(), float64(s.Max()), "n=%d", n)

		for _, p := range []float64{0, 0.1, 0.5, 0.9, 0.95, 0.99, 1} {
			assert.True(t, seen[s.Percentile(p)], "percentile %v not a sample (n=%d)", p, n)
		}
	}
}

func TestLatencyStatsFloorIndex(t *testing.T) {
	s := NewLatencyStats()
	for i := int64(1); i <= 10; i++ {
		s.AddSample(i * 100)
	}

	// floor(0.95*10) = 9 -> tenth value, floor(0.5*10) = 5 -> sixth value
	assert.Equal(t, int64(1000), s.P95())
	assert.Equal(t, int64(600), s.P50())
	assert.Equal(t, int64(100), s.Percentile(0))
	assert.Equal(t, int64(1000), s.Percentile(1))
}

func TestLatencyStatsResortAfterNewSamples(t *testing.T) {
	s := NewLatencyStats()
	s.AddSample(30)
	s.AddSample(10)
	require.Equal(t, int64(30), s.P50())
	require.True(t, s.sorted)

	s.AddSample(5)
	assert.False(t, s.sorted)
	assert.Equal(t, int64(10), s.P50())
	assert.True(t, slices.IsSorted(s.samples))
}

func TestLatencyStatsNoResortWhenClean(t *testing.T) {
	s := NewLatencyStats()
	for _, v := range []int64{3, 1, 2} {
		s.AddSample(v)
	}
	_ = s.P50()

	// Scramble behind the recorder's back: a clean recorder must not sort again.
	s.samples[0], s.samples[2] = s.samples[2], s.samples[0]
	assert.Equal(t, int64(3), s.Percentile(0))
}

func TestLatencyStatsReset(t *testing.T) {
	s := NewLatencyStats()
	s.AddSample(1)
	s.AddSample(2)
	s.Reset()

	assert.Equal(t, uint64(0), s.Count())
	assert.Equal(t, int64(math.MaxInt64), s.Min())
	assert.Equal(t, int64(0), s.Max())

	s.AddSample(9)
	assert.Equal(t, int64(9), s.Min())
	assert.Equal(t, int64(9), s.P50())
}

func TestLatencyStatsString(t *testing.T) {
	s := NewLatencyStats()
	s.AddSample(1500)
	s.AddSample(2500)

	out := s.String()
	assert.Contains(t, out, "Count: 2")
	assert.Contains(t, out, "Mean: 2.00 μs")
	assert.Contains(t, out, "Min: 1.50 μs")
}
