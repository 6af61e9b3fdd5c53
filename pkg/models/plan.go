package models

// Strategy controls how aggressively the analyzer groups tasks for
// parallel execution.
type Strategy string

const (
	// StrategyConservative limits groups to 2 tasks and one team per stage.
	StrategyConservative Strategy = "conservative"
	// StrategyBalanced is the default: groups of up to 4 tasks.
	StrategyBalanced Strategy = "balanced"
	// StrategyAggressive allows groups of up to 8 tasks and cross-team
	// stages.
	StrategyAggressive Strategy = "aggressive"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyConservative, StrategyBalanced, StrategyAggressive:
		return true
	default:
		return false
	}
}

// MaxGroupSize returns the task cap per group for the strategy.
func (s Strategy) MaxGroupSize() int {
	switch s {
	case StrategyConservative:
		return 2
	case StrategyAggressive:
		return 8
	default:
		return 4
	}
}

// Group is a set of same-team tasks with no intra-stage dependencies,
// executed by a single team lead.
type Group struct {
	// ID identifies the group within its plan.
	ID string `json:"id"`
	// Team owns every task in the group.
	Team Team `json:"team"`
	// TaskIDs lists the member tasks, sorted.
	TaskIDs []string `json:"task_ids"`
}

// Stage is a set of groups whose tasks all have their dependencies in
// strictly earlier stages. Groups within a stage run in parallel.
type Stage struct {
	// Groups partitions the stage's tasks by team and group-size cap.
	Groups []Group `json:"groups"`
}

// TaskCount returns the number of tasks across all groups in the stage.
func (s Stage) TaskCount() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.TaskIDs)
	}
	return n
}

// ExecutionPlan is the analyzer's output: stages in dependency order.
type ExecutionPlan struct {
	// Stages execute strictly sequentially, in ascending depth.
	Stages []Stage `json:"stages"`
	// Strategy is the grouping strategy the plan was built with.
	Strategy Strategy `json:"strategy"`
}

// TaskCount returns the total number of tasks in the plan.
func (p *ExecutionPlan) TaskCount() int {
	n := 0
	for _, s := range p.Stages {
		n += s.TaskCount()
	}
	return n
}

// ParallelismScore is the ratio of total tasks to number of stages. A
// score of at least 1.5 recommends parallel execution in hybrid mode.
func (p *ExecutionPlan) ParallelismScore() float64 {
	if len(p.Stages) == 0 {
		return 1.0
	}
	return float64(p.TaskCount()) / float64(len(p.Stages))
}
