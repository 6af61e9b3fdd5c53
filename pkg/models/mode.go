package models

// Mode selects how the orchestrator drives stages.
type Mode string

const (
	// ModeSequential collapses every stage to single-worker execution.
	ModeSequential Mode = "sequential"
	// ModeParallel uses strategy-sized groups concurrently.
	ModeParallel Mode = "parallel"
	// ModeHybrid picks sequential or parallel per stage by comparing the
	// parallelism score against the hybrid threshold.
	ModeHybrid Mode = "hybrid"
)

// HybridThreshold is the parallelism score at or above which hybrid mode
// runs a stage in parallel.
const HybridThreshold = 1.5

// Valid returns true if the mode is a known value.
func (m Mode) Valid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeHybrid:
		return true
	default:
		return false
	}
}
