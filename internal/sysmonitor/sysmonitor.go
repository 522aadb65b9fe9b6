// Package sysmonitor periodically samples process memory and goroutine
// counts so operators can watch broker health without attaching a
// profiler, the way the teacher's server samples RSS via gopsutil for
// its /health endpoint.
package sysmonitor

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/usergrid/qakka/internal/metrics"
)

// Snapshot is one point-in-time measurement.
type Snapshot struct {
	MemoryRSSBytes uint64
	Goroutines     int
	Timestamp      time.Time
}

// Monitor samples process resource usage on an interval and exposes the
// last snapshot to concurrent readers.
type Monitor struct {
	logger zerolog.Logger
	proc   *process.Process

	mu   sync.RWMutex
	last Snapshot
}

// New builds a Monitor. If the current process cannot be inspected (rare,
// e.g. restricted sandboxes), RSS falls back to host-wide used memory.
func New(logger zerolog.Logger) *Monitor {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("sysmonitor: process introspection unavailable, falling back to host memory")
		proc = nil
	}
	return &Monitor{logger: logger, proc: proc}
}

// Run samples on interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sample()
	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) sample() {
	snap := Snapshot{Goroutines: runtime.NumGoroutine(), Timestamp: time.Now()}

	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil {
			snap.MemoryRSSBytes = info.RSS
		}
	}
	if snap.MemoryRSSBytes == 0 {
		if vm, err := mem.VirtualMemory(); err == nil {
			snap.MemoryRSSBytes = vm.Used
		}
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	metrics.ProcessRSSBytes.Set(float64(snap.MemoryRSSBytes))
	metrics.ProcessGoroutines.Set(float64(snap.Goroutines))
	m.logger.Debug().
		Uint64("rss_bytes", snap.MemoryRSSBytes).
		Int("goroutines", snap.Goroutines).
		Msg("sysmonitor sample")
}

// Last returns the most recent snapshot.
func (m *Monitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
