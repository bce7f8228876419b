package stats

import "fmt"

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders a byte count with a 1024-based unit, e.g. "1.50 KB".
func FormatBytes(b uint64) string {
	size := float64(b)
	unit := 0
	for size >= 1024 && unit < len(byteUnits)-1 {
		size /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", size, byteUnits[unit])
}

// FormatDuration renders nanoseconds as ns, μs, ms or s.
func FormatDuration(ns int64) string {
	switch {
	case ns < 1_000:
		return fmt.Sprintf("%d ns", ns)
	case ns < 1_000_000:
		return fmt.Sprintf("%.2f μs", float64(ns)/1e3)
	case ns < 1_000_000_000:
		return fmt.Sprintf("%.2f ms", float64(ns)/1e6)
	default:
		return fmt.Sprintf("%.2f s", float64(ns)/1e9)
	}
}

// ThroughputMBps returns MB/s (1 MB = 1048576 bytes), or 0 for a zero
// duration.
func ThroughputMBps(bytes uint64, durationNs int64) float64 {
	if durationNs == 0 {
		return 0
	}
	seconds := float64(durationNs) / 1e9
	return float64(bytes) / (1024 * 1024) / seconds
}

// RequestsPerSecond returns count per second, or 0 for a zero duration.
func RequestsPerSecond(count uint64, durationNs int64) float64 {
	if durationNs == 0 {
		return 0
	}
	return float64(count) / (float64(durationNs) / 1e9)
}

// Ratio returns part/total, or 0 when total is 0.
func Ratio(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
