package resource

import (
	"sync"
	"testing"

	"github.com/jcushman97/MAOFinal/pkg/models"
)

func TestTryAcquireWithinLimits(t *testing.T) {
	m := NewManager(models.Allocation{Tokens: 1000, MemoryMB: 512, CPUPct: 80, Agents: 4})

	if !m.TryAcquire("g1", models.Allocation{Tokens: 400, MemoryMB: 200, CPUPct: 30, Agents: 2}) {
		t.Fatal("first acquire should succeed")
	}
	if !m.TryAcquire("g2", models.Allocation{Tokens: 400, MemoryMB: 200, CPUPct: 30, Agents: 2}) {
		t.Fatal("second acquire should succeed")
	}
	// Any dimension over the limit refuses the whole request.
	if m.TryAcquire("g3", models.Allocation{Agents: 1}) {
		t.Fatal("agents dimension exhausted, acquire should fail")
	}

	m.Release("g1")
	if !m.TryAcquire("g3", models.Allocation{Agents: 1}) {
		t.Fatal("acquire after release should succeed")
	}
}

func TestTryAcquireSingleDimensionOverflow(t *testing.T) {
	m := NewManager(models.Allocation{Tokens: 100, MemoryMB: 100, CPUPct: 100, Agents: 10})

	tests := []struct {
		name  string
		alloc models.Allocation
	}{
		{"tokens", models.Allocation{Tokens: 101}},
		{"memory", models.Allocation{MemoryMB: 100.5}},
		{"cpu", models.Allocation{CPUPct: 150}},
		{"agents", models.Allocation{Agents: 11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if m.TryAcquire("k", tt.alloc) {
				t.Errorf("acquire %v should fail", tt.alloc)
			}
			m.Release("k")
		})
	}
}

func TestZeroLimitMeansUnlimited(t *testing.T) {
	m := NewManager(models.Allocation{})
	if !m.TryAcquire("k", models.Allocation{Tokens: 1 << 40, MemoryMB: 1e9, CPUPct: 1e6, Agents: 10000}) {
		t.Fatal("unlimited manager refused an allocation")
	}
}

func TestAdditivityUnderConcurrency(t *testing.T) {
	const limit = 10
	m := NewManager(models.Allocation{Agents: limit})

	var wg sync.WaitGroup
	granted := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a'+i%26)) + string(rune('0'+i/26))
			if m.TryAcquire(key, models.Allocation{Agents: 1}) {
				granted <- key
			}
		}(i)
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	if count > limit {
		t.Errorf("%d grants exceed limit %d", count, limit)
	}
	if live := m.Snapshot().Live; live.Agents > limit {
		t.Errorf("live agents %d exceed limit %d", live.Agents, limit)
	}
}

func TestRecordTokensCountsAgainstWindow(t *testing.T) {
	m := NewManager(models.Allocation{Tokens: 1000})

	m.RecordTokens(800)
	if m.TryAcquire("g1", models.Allocation{Tokens: 300}) {
		t.Fatal("windowed usage should block over-limit acquire")
	}
	if !m.TryAcquire("g2", models.Allocation{Tokens: 100}) {
		t.Fatal("acquire within remaining window should succeed")
	}
}

func TestAcquireReplaceSameKey(t *testing.T) {
	m := NewManager(models.Allocation{Agents: 2})

	if !m.TryAcquire("k", models.Allocation{Agents: 2}) {
		t.Fatal("initial acquire failed")
	}
	// Replacing the same key re-evaluates against the freed grant.
	if !m.TryAcquire("k", models.Allocation{Agents: 1}) {
		t.Fatal("shrinking replacement should succeed")
	}
	if !m.TryAcquire("other", models.Allocation{Agents: 1}) {
		t.Fatal("freed capacity should be available")
	}
}

func TestOptimalConcurrencyBounds(t *testing.T) {
	m := NewManager(models.Allocation{Agents: 2})
	// No monitor started: conservative default, clamped to the limit.
	got := m.OptimalConcurrency()
	if got < 1 || got > 2 {
		t.Errorf("optimal concurrency = %d, want within [1,2]", got)
	}
}
