package resource

import (
	"context"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sampling cadence and bounded history length for trend reporting.
const (
	sampleInterval = time.Second
	historyLimit   = 100
)

// sample is one observation of system memory and CPU.
type sample struct {
	at          time.Time
	memUsedMB   float64
	memAvailMB  float64
	cpuPct      float64
}

// monitor records system resource samples at a fixed cadence.
type monitor struct {
	mu      sync.Mutex
	history []sample
}

// StartMonitor begins background sampling until ctx is cancelled.
// Calling it again replaces the history with a fresh monitor.
func (m *Manager) StartMonitor(ctx context.Context) {
	mon := &monitor{}
	m.mu.Lock()
	m.monitor = mon
	m.mu.Unlock()

	go mon.run(ctx)
}

// run samples once per interval, keeping a bounded history.
func (mon *monitor) run(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	mon.sampleOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mon.sampleOnce()
		}
	}
}

// sampleOnce records one observation, tolerating platforms where a
// reading is unavailable.
func (mon *monitor) sampleOnce() {
	s := sample{at: time.Now()}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.memUsedMB = float64(vm.Used) / 1024 / 1024
		s.memAvailMB = float64(vm.Available) / 1024 / 1024
	} else {
		log.Printf("[resource] memory sample failed: %v", err)
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.cpuPct = pct[0]
	}

	mon.mu.Lock()
	mon.history = append(mon.history, s)
	if len(mon.history) > historyLimit {
		mon.history = mon.history[len(mon.history)-historyLimit:]
	}
	mon.mu.Unlock()
}

// latest returns the most recent memory and CPU readings plus the
// history length.
func (mon *monitor) latest() (memUsedMB, cpuPct float64, n int) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	n = len(mon.history)
	if n == 0 {
		return 0, 0, 0
	}
	last := mon.history[n-1]
	return last.memUsedMB, last.cpuPct, n
}

// latestAvail returns the most recent available-memory reading in MB.
func (mon *monitor) latestAvail() float64 {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if len(mon.history) == 0 {
		return 0
	}
	return mon.history[len(mon.history)-1].memAvailMB
}

// defaultConcurrency is used before any sample has been taken.
const defaultConcurrency = 3

// OptimalConcurrency returns a worker count clamped by observed headroom:
// CPU cores (capped at 6) scaled down by current load and available
// memory, never exceeding the concurrent-agent limit and never below 1.
func (m *Manager) OptimalConcurrency() int {
	m.mu.Lock()
	mon := m.monitor
	limit := m.limits.Agents
	m.mu.Unlock()

	optimal := defaultConcurrency
	if mon != nil {
		if _, cpuPct, n := mon.latest(); n > 0 {
			cpuBased := runtime.NumCPU()
			if cpuBased > 6 {
				cpuBased = 6
			}
			loadFactor := 1.0 - cpuPct/100.0
			if loadFactor < 0 {
				loadFactor = 0
			}
			memFactor := mon.latestAvail() / 1024.0 // GB of headroom
			if memFactor > 1.0 {
				memFactor = 1.0
			}
			optimal = int(float64(cpuBased) * loadFactor * memFactor)
		}
	}

	if limit > 0 && optimal > limit {
		optimal = limit
	}
	if optimal < 1 {
		optimal = 1
	}
	return optimal
}
