package stats

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	histMinUs = 1
	histMaxUs = int64(10 * time.Minute / time.Microsecond)
)

// IntervalSnapshot describes one reporting interval.
type IntervalSnapshot struct {
	At      time.Time
	Elapsed time.Duration
	Good    uint64
	Bad     uint64
	Bytes   uint64
	P50Us   int64
	P95Us   int64
	P99Us   int64
	MaxUs   int64
}

// IntervalReporter buckets call latencies into an HDR histogram and emits a
// snapshot every interval. It only drives progress output; the final
// statistics always come from LatencyStats.
//
// A nil *IntervalReporter is valid and records nothing.
type IntervalReporter struct {
	hist     *hdrhistogram.Histogram
	interval time.Duration
	start    time.Time
	next     time.Time
	good     uint64
	bad      uint64
	bytes    uint64
	emit     func(IntervalSnapshot)
}

// NewIntervalReporter returns a reporter that calls emit at most once per
// interval, starting from now.
func NewIntervalReporter(now time.Time, interval time.Duration, emit func(IntervalSnapshot)) *IntervalReporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &IntervalReporter{
		// 1us to 10min, 3 significant figures
		hist:     hdrhistogram.New(histMinUs, histMaxUs, 3),
		interval: interval,
		start:    now,
		next:     now.Add(interval),
		emit:     emit,
	}
}

// Observe records one call outcome and flushes if the interval elapsed.
func (r *IntervalReporter) Observe(now time.Time, latencyNs int64, ok bool, bytes uint64) {
	if r == nil {
		return
	}
	if ok {
		r.good++
		r.bytes += bytes
		us := latencyNs / int64(time.Microsecond)
		us = max(us, histMinUs)
		us = min(us, histMaxUs)
		_ = r.hist.RecordValue(us)
	} else {
		r.bad++
	}
	if !now.Before(r.next) {
		r.Flush(now)
	}
}

// Flush emits the current interval, if it saw any call, and starts a new one.
func (r *IntervalReporter) Flush(now time.Time) {
	if r == nil {
		return
	}
	if r.good+r.bad > 0 && r.emit != nil {
		r.emit(IntervalSnapshot{
			At:      now,
			Elapsed: now.Sub(r.start),
			Good:    r.good,
			Bad:     r.bad,
			Bytes:   r.bytes,
			P50Us:   r.hist.ValueAtQuantile(50),
			P95Us:   r.hist.ValueAtQuantile(95),
			P99Us:   r.hist.ValueAtQuantile(99),
			MaxUs:   r.hist.Max(),
		})
	}
	r.hist.Reset()
	r.good, r.bad, r.bytes = 0, 0, 0
	r.next = now.Add(r.interval)
}
