// Package resource provides admission control for parallel execution.
// Four dimensions are tracked: estimated tokens per minute (sliding
// window), memory, CPU, and live agent count. A request is admitted only
// if granting it keeps every dimension within its configured limit.
package resource

import (
	"sync"
	"time"

	"github.com/jcushman97/MAOFinal/pkg/models"
)

// tokenWindow is the sliding-window span for the tokens dimension.
const tokenWindow = time.Minute

// tokenSample is one recorded token expenditure.
type tokenSample struct {
	at     time.Time
	tokens int64
}

// Metrics is a point-in-time view of the manager for monitoring.
type Metrics struct {
	// Live is the sum of outstanding grants plus windowed token usage.
	Live models.Allocation
	// Limits are the configured caps (zero = unlimited).
	Limits models.Allocation
	// SystemMemoryUsedMB is the sampler's latest memory reading.
	SystemMemoryUsedMB float64
	// SystemCPUPct is the sampler's latest CPU reading.
	SystemCPUPct float64
	// Samples is how many monitor samples are in the history.
	Samples int
}

// Manager tracks grants and admits or refuses new allocations.
// TryAcquire is non-blocking; waiting and cancellation belong to the
// caller. All state is guarded by one mutex, so concurrent acquirers are
// served first-come first-served with no priority inversion.
type Manager struct {
	limits models.Allocation

	// mu guards everything below.
	mu      sync.Mutex
	grants  map[string]models.Allocation
	window  []tokenSample
	monitor *monitor
}

// NewManager creates a Manager with the given limits. Zero-valued
// dimensions are unlimited.
func NewManager(limits models.Allocation) *Manager {
	return &Manager{
		limits: limits,
		grants: make(map[string]models.Allocation),
	}
}

// Limits returns the configured caps.
func (m *Manager) Limits() models.Allocation {
	return m.limits
}

// TryAcquire attempts to reserve an allocation under the given key.
// Returns false without side effects when any dimension would exceed its
// limit. Acquiring an already-held key replaces the previous grant.
func (m *Manager) TryAcquire(key string, alloc models.Allocation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.liveLocked()
	if prev, ok := m.grants[key]; ok {
		// Replacement: evaluate as if the old grant were released.
		live = subtract(live, prev)
	}
	if !live.Add(alloc).Fits(m.limits) {
		return false
	}
	m.grants[key] = alloc
	return true
}

// Release returns a grant. Unknown keys are ignored.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants, key)
}

// RecordTokens feeds actual token usage into the sliding window. The
// window, not the grants, is what enforces tokens-per-minute over time.
func (m *Manager) RecordTokens(tokens int64) {
	if tokens <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = append(m.window, tokenSample{at: time.Now(), tokens: tokens})
}

// Snapshot returns current metrics.
func (m *Manager) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := Metrics{
		Live:   m.liveLocked(),
		Limits: m.limits,
	}
	if m.monitor != nil {
		mem, cpu, n := m.monitor.latest()
		metrics.SystemMemoryUsedMB = mem
		metrics.SystemCPUPct = cpu
		metrics.Samples = n
	}
	return metrics
}

// liveLocked sums outstanding grants and the windowed token usage.
// Caller must hold m.mu.
func (m *Manager) liveLocked() models.Allocation {
	m.pruneWindowLocked()

	var live models.Allocation
	for _, g := range m.grants {
		live = live.Add(g)
	}
	for _, s := range m.window {
		live.Tokens += s.tokens
	}
	return live
}

// pruneWindowLocked drops token samples older than the window span.
func (m *Manager) pruneWindowLocked() {
	cutoff := time.Now().Add(-tokenWindow)
	i := 0
	for ; i < len(m.window); i++ {
		if m.window[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		m.window = append(m.window[:0], m.window[i:]...)
	}
}

// subtract returns a minus b, floored at zero per dimension.
func subtract(a, b models.Allocation) models.Allocation {
	out := models.Allocation{
		Tokens:   a.Tokens - b.Tokens,
		MemoryMB: a.MemoryMB - b.MemoryMB,
		CPUPct:   a.CPUPct - b.CPUPct,
		Agents:   a.Agents - b.Agents,
	}
	if out.Tokens < 0 {
		out.Tokens = 0
	}
	if out.MemoryMB < 0 {
		out.MemoryMB = 0
	}
	if out.CPUPct < 0 {
		out.CPUPct = 0
	}
	if out.Agents < 0 {
		out.Agents = 0
	}
	return out
}
