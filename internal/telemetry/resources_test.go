package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampler(t *testing.T) {
	s, err := StartSampler(5 * time.Millisecond)
	require.NoError(t, err)

	// burn a little CPU and memory
	buf := make([][]byte, 0, 64)
	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		buf = append(buf[:0], make([]byte, 1<<16))
	}
	_ = buf

	u := s.Stop()
	assert.Greater(t, u.PeakMemoryBytes, uint64(0))
	assert.GreaterOrEqual(t, u.AvgCPUPercent, 0.0)

	assert.Equal(t, u, s.Stop(), "Stop is idempotent")
}
