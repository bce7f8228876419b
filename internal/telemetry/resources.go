package telemetry

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Usage is the resource consumption of this process over a sampling window.
type Usage struct {
	AvgCPUPercent   float64
	PeakMemoryBytes uint64
}

// Sampler tracks CPU time and peak RSS of the current process. Average CPU
// is derived from CPU time consumed over wall time, so it can exceed 100
// on multiple cores.
type Sampler struct {
	proc     *process.Process
	interval time.Duration

	startCPU  float64
	startWall time.Time

	mu   sync.Mutex
	peak uint64

	stop chan struct{}
	done chan struct{}
	once sync.Once
	last Usage
}

// StartSampler begins sampling the current process every interval.
func StartSampler(interval time.Duration) (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open process: %w", err)
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	s := &Sampler{
		proc:      p,
		interval:  interval,
		startWall: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.startCPU, err = s.cpuSeconds()
	if err != nil {
		return nil, err
	}
	s.sampleMemory()

	go s.loop()
	return s, nil
}

func (s *Sampler) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sampleMemory()
		case <-s.stop:
			return
		}
	}
}

func (s *Sampler) cpuSeconds() (float64, error) {
	t, err := s.proc.Times()
	if err != nil {
		return 0, fmt.Errorf("failed to read cpu times: %w", err)
	}
	return t.User + t.System, nil
}

func (s *Sampler) sampleMemory() {
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.peak = max(s.peak, mem.RSS)
	s.mu.Unlock()
}

// Stop ends sampling and returns the usage since StartSampler. Calling it
// again returns the same value.
func (s *Sampler) Stop() Usage {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		s.sampleMemory()

		var u Usage
		if cpu, err := s.cpuSeconds(); err == nil {
			if wall := time.Since(s.startWall).Seconds(); wall > 0 {
				u.AvgCPUPercent = (cpu - s.startCPU) / wall * 100
			}
		}
		s.mu.Lock()
		u.PeakMemoryBytes = s.peak
		s.mu.Unlock()
		s.last = u
	})
	return s.last
}
