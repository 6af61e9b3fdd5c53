package models

import "testing"

func TestTaskReadiness(t *testing.T) {
	p := &Project{
		Tasks: []*Task{
			{ID: "a", Status: TaskStatusComplete},
			{ID: "b", Status: TaskStatusQueued, DependsOn: []string{"a"}},
			{ID: "c", Status: TaskStatusQueued, DependsOn: []string{"b"}},
			{ID: "d", Status: TaskStatusQueued},
		},
	}

	ready := p.ReadyTasks()
	if len(ready) != 2 {
		t.Fatalf("ready = %d", len(ready))
	}
	if ready[0].ID != "b" || ready[1].ID != "d" {
		t.Errorf("ready IDs = %s, %s", ready[0].ID, ready[1].ID)
	}
}

func TestAllCompleteAndEmpty(t *testing.T) {
	p := &Project{}
	if !p.AllComplete() {
		t.Error("empty project should count as complete")
	}

	p.Tasks = []*Task{{ID: "a", Status: TaskStatusQueued}}
	if p.AllComplete() {
		t.Error("queued task should block completion")
	}
}

func TestHasExecutable(t *testing.T) {
	p := &Project{
		Tasks: []*Task{
			{ID: "a", Status: TaskStatusFailed},
			{ID: "b", Status: TaskStatusQueued, DependsOn: []string{"a"}},
		},
	}
	if p.HasExecutable() {
		t.Error("task behind a failed dependency is not executable")
	}

	p.Tasks = append(p.Tasks, &Task{ID: "c", Status: TaskStatusQueued})
	if !p.HasExecutable() {
		t.Error("independent queued task is executable")
	}
}

func TestRecordUsage(t *testing.T) {
	p := &Project{}
	p.RecordUsage("agent_1", 100)
	p.RecordUsage("agent_1", 50)
	p.RecordUsage("agent_2", 25)

	if p.Usage.Tokens != 175 || p.Usage.Calls != 3 {
		t.Errorf("usage = %+v", p.Usage)
	}
	if p.Usage.PerAgent["agent_1"].Tokens != 150 || p.Usage.PerAgent["agent_1"].Calls != 2 {
		t.Errorf("agent_1 = %+v", p.Usage.PerAgent["agent_1"])
	}
}

func TestStatusValidity(t *testing.T) {
	for _, s := range []ProjectStatus{StatusPlanning, StatusExecuting, StatusComplete, StatusFailed, StatusPaused} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if ProjectStatus("bogus").Valid() {
		t.Error("bogus should be invalid")
	}
	if TaskStatus("bogus").Valid() {
		t.Error("bogus task status should be invalid")
	}
	if NormalizeTeam("research") != TeamGeneral {
		t.Error("unknown team should normalize to general")
	}
}

func TestParallelismScore(t *testing.T) {
	plan := &ExecutionPlan{Stages: []Stage{
		{Groups: []Group{{ID: "g1", Team: TeamFrontend, TaskIDs: []string{"a", "b"}}}},
		{Groups: []Group{{ID: "g2", Team: TeamQA, TaskIDs: []string{"c"}}}},
	}}
	if got := plan.ParallelismScore(); got != 1.5 {
		t.Errorf("score = %v", got)
	}
	if plan.TaskCount() != 3 {
		t.Errorf("task count = %d", plan.TaskCount())
	}
}

func TestAllocationFits(t *testing.T) {
	limit := Allocation{Tokens: 100, MemoryMB: 100, CPUPct: 100, Agents: 4}
	if !(Allocation{Tokens: 100, Agents: 4}).Fits(limit) {
		t.Error("exact fit should pass")
	}
	if (Allocation{Tokens: 101}).Fits(limit) {
		t.Error("token overflow should fail")
	}
	if !(Allocation{Tokens: 1 << 40}).Fits(Allocation{}) {
		t.Error("zero limits mean unlimited")
	}
}
