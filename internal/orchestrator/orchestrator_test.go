package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jcushman97/MAOFinal/internal/provider"
	"github.com/jcushman97/MAOFinal/internal/resource"
	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

// fakeCLI answers planning prompts with a canned breakdown and worker
// prompts with canned output, counting each kind.
type fakeCLI struct {
	planJSON    string
	workerOut   string
	failWorkers bool
	planCalls   int32
	workerCalls int32
}

func (f *fakeCLI) Run(ctx context.Context, argv []string, stdin string) (provider.RunOutput, error) {
	if err := ctx.Err(); err != nil {
		return provider.RunOutput{}, err
	}
	if strings.Contains(stdin, "Project Manager") {
		atomic.AddInt32(&f.planCalls, 1)
		return provider.RunOutput{Stdout: f.planJSON}, nil
	}
	atomic.AddInt32(&f.workerCalls, 1)
	if f.failWorkers {
		return provider.RunOutput{Stderr: "broken"}, errors.New("exit status 1")
	}
	out := f.workerOut
	if out == "" {
		out = "OK"
	}
	return provider.RunOutput{Stdout: out}, nil
}

const singleTaskPlan = `BEGIN_JSON
{"task_breakdown": [{"id": "t1", "title": "Return the literal string OK", "team": "general"}]}
END_JSON`

func newOrchestrator(t *testing.T, cli *fakeCLI, opts ...Option) (*Orchestrator, *state.Store) {
	t.Helper()
	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	client := provider.NewClientWithRunner(map[string]provider.Spec{
		"pm":     {Cmd: []string{"claude"}, JSONMarkers: []string{"BEGIN_JSON", "END_JSON"}},
		"worker": {Cmd: []string{"claude"}},
	}, cli)
	res := resource.NewManager(models.Allocation{})

	base := []Option{
		WithBaseTimeout(time.Minute),
		WithMaxAttempts(2),
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	}
	o := New(RequiredConfig{Store: st, Client: client, Resources: res}, append(base, opts...)...)
	return o, st
}

func TestSingleTrivialTask(t *testing.T) {
	cli := &fakeCLI{planJSON: singleTaskPlan, workerOut: "OK"}
	o, st := newOrchestrator(t, cli)

	projectID, status, err := o.Start(context.Background(), "Return the literal string OK")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status != models.StatusComplete {
		t.Fatalf("status = %s", status)
	}

	p, err := st.Load(projectID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != models.StatusComplete {
		t.Errorf("persisted status = %s", p.Status)
	}
	if len(p.Tasks) != 1 || p.Tasks[0].Status != models.TaskStatusComplete {
		t.Errorf("task state = %+v", p.Tasks[0])
	}
	// One planning call plus one worker call.
	if cli.planCalls != 1 || cli.workerCalls != 1 {
		t.Errorf("calls: plan=%d worker=%d", cli.planCalls, cli.workerCalls)
	}
	if p.Usage.Calls != 2 {
		t.Errorf("usage calls = %d", p.Usage.Calls)
	}

	raw, err := os.ReadFile(filepath.Join(st.ArtifactsDir(projectID, "t1"), "raw_output.txt"))
	if err != nil {
		t.Fatalf("raw output missing: %v", err)
	}
	if string(raw) != "OK" {
		t.Errorf("raw output = %q", raw)
	}

	if _, err := os.Stat(filepath.Join(st.ProjectDir(projectID), "README.md")); err != nil {
		t.Errorf("summary README missing: %v", err)
	}
}

func TestCycleRejection(t *testing.T) {
	cli := &fakeCLI{}
	o, st := newOrchestrator(t, cli)

	tasks := []*models.Task{
		{ID: "A", Title: "A", Team: models.TeamGeneral, Status: models.TaskStatusQueued, DependsOn: []string{"B"}},
		{ID: "B", Title: "B", Team: models.TeamGeneral, Status: models.TaskStatusQueued, DependsOn: []string{"A"}},
	}
	projectID, status, err := o.StartPlanned(context.Background(), "cyclic", tasks)
	if !errors.Is(err, ErrPlanning) {
		t.Fatalf("expected ErrPlanning, got %v", err)
	}
	if status != models.StatusFailed {
		t.Errorf("status = %s", status)
	}
	// No worker (or planner) was ever invoked.
	if cli.planCalls != 0 || cli.workerCalls != 0 {
		t.Errorf("calls: plan=%d worker=%d", cli.planCalls, cli.workerCalls)
	}

	data, err := os.ReadFile(filepath.Join(st.ProjectDir(projectID), "events.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "planning_error") {
		t.Error("expected planning_error event")
	}
}

func TestEmptyInjectedPlanCompletes(t *testing.T) {
	cli := &fakeCLI{}
	o, _ := newOrchestrator(t, cli)

	_, status, err := o.StartPlanned(context.Background(), "nothing to do", nil)
	if err != nil {
		t.Fatalf("StartPlanned: %v", err)
	}
	if status != models.StatusComplete {
		t.Errorf("status = %s", status)
	}
	if cli.workerCalls != 0 {
		t.Errorf("worker calls = %d", cli.workerCalls)
	}
}

func TestParallelIndependentTasks(t *testing.T) {
	cli := &fakeCLI{}
	o, st := newOrchestrator(t, cli, WithMode(models.ModeParallel))

	tasks := []*models.Task{
		{ID: "t1", Title: "t1", Team: models.TeamFrontend, Status: models.TaskStatusQueued},
		{ID: "t2", Title: "t2", Team: models.TeamFrontend, Status: models.TaskStatusQueued},
		{ID: "t3", Title: "t3", Team: models.TeamBackend, Status: models.TaskStatusQueued},
	}
	projectID, status, err := o.StartPlanned(context.Background(), "parallel stage", tasks)
	if err != nil {
		t.Fatalf("StartPlanned: %v", err)
	}
	if status != models.StatusComplete {
		t.Fatalf("status = %s", status)
	}
	if cli.workerCalls != 3 {
		t.Errorf("worker calls = %d", cli.workerCalls)
	}
	p, _ := st.Load(projectID)
	for _, task := range p.Tasks {
		if task.Status != models.TaskStatusComplete {
			t.Errorf("task %s = %s", task.ID, task.Status)
		}
	}
}

func TestDependentStagesRunInOrder(t *testing.T) {
	cli := &fakeCLI{}
	o, st := newOrchestrator(t, cli)

	tasks := []*models.Task{
		{ID: "a", Title: "build markup page", Team: models.TeamFrontend, Status: models.TaskStatusQueued},
		{ID: "b", Title: "style it", Team: models.TeamFrontend, Status: models.TaskStatusQueued, DependsOn: []string{"a"}},
	}
	projectID, status, err := o.StartPlanned(context.Background(), "two stages", tasks)
	if err != nil {
		t.Fatal(err)
	}
	if status != models.StatusComplete {
		t.Fatalf("status = %s", status)
	}
	p, _ := st.Load(projectID)
	a, b := p.Task("a"), p.Task("b")
	if a.EndedAt == nil || b.StartedAt == nil {
		t.Fatal("timestamps missing")
	}
	if b.StartedAt.Before(*a.EndedAt) {
		t.Errorf("dependent task started %s before dependency ended %s", b.StartedAt, a.EndedAt)
	}
}

func TestPermanentFailureFailsProject(t *testing.T) {
	cli := &fakeCLI{failWorkers: true}
	o, st := newOrchestrator(t, cli)

	tasks := []*models.Task{
		{ID: "t1", Title: "doomed", Team: models.TeamGeneral, Status: models.TaskStatusQueued},
	}
	projectID, status, err := o.StartPlanned(context.Background(), "failing", tasks)
	if err == nil {
		t.Fatal("expected error")
	}
	if status != models.StatusFailed {
		t.Errorf("status = %s", status)
	}
	p, _ := st.Load(projectID)
	if p.Tasks[0].Status != models.TaskStatusFailed {
		t.Errorf("task status = %s", p.Tasks[0].Status)
	}
	// Retry budget of 2 was spent before the permanent failure.
	if p.Tasks[0].Attempts != 2 {
		t.Errorf("attempts = %d", p.Tasks[0].Attempts)
	}
}

func TestFailedDependencyBlocksDescendants(t *testing.T) {
	cli := &fakeCLI{failWorkers: true}
	o, st := newOrchestrator(t, cli)

	tasks := []*models.Task{
		{ID: "a", Title: "doomed root", Team: models.TeamGeneral, Status: models.TaskStatusQueued},
		{ID: "b", Title: "never runs", Team: models.TeamGeneral, Status: models.TaskStatusQueued, DependsOn: []string{"a"}},
	}
	projectID, status, err := o.StartPlanned(context.Background(), "blocked", tasks)
	if err == nil {
		t.Fatal("expected error")
	}
	if status != models.StatusFailed {
		t.Errorf("status = %s", status)
	}
	p, _ := st.Load(projectID)
	if p.Task("b").Status == models.TaskStatusComplete || p.Task("b").Status == models.TaskStatusInProgress {
		t.Errorf("descendant of failed task ran: %s", p.Task("b").Status)
	}
	// Only the root consumed worker calls (its retry budget).
	if cli.workerCalls != 2 {
		t.Errorf("worker calls = %d", cli.workerCalls)
	}
}

func TestResumeDemotesInProgress(t *testing.T) {
	cli := &fakeCLI{}
	o, st := newOrchestrator(t, cli)

	// Simulate a crash: t1 complete, t2 left in_progress mid-execution.
	p, err := st.Create("crashed run", nil)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	p.Status = models.StatusExecuting
	p.Tasks = []*models.Task{
		{ID: "t1", Title: "done", Team: models.TeamGeneral, Status: models.TaskStatusComplete, EndedAt: &now},
		{ID: "t2", Title: "interrupted", Team: models.TeamGeneral, Status: models.TaskStatusInProgress, AssignedAgentID: "worker_gone", DependsOn: []string{"t1"}},
	}
	if err := st.Save(p); err != nil {
		t.Fatal(err)
	}

	status, err := o.Run(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != models.StatusComplete {
		t.Fatalf("status = %s", status)
	}

	reloaded, _ := st.Load(p.ID)
	if reloaded.Task("t2").Status != models.TaskStatusComplete {
		t.Errorf("t2 status = %s", reloaded.Task("t2").Status)
	}
	if cli.workerCalls != 1 {
		t.Errorf("worker calls = %d (only the demoted task should run)", cli.workerCalls)
	}
}

func TestRunOnTerminalProjectIsNoop(t *testing.T) {
	cli := &fakeCLI{}
	o, st := newOrchestrator(t, cli)

	p, _ := st.Create("already done", nil)
	p.Status = models.StatusComplete
	if err := st.Save(p); err != nil {
		t.Fatal(err)
	}

	status, err := o.Run(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status != models.StatusComplete {
		t.Errorf("status = %s", status)
	}
	if cli.planCalls+cli.workerCalls != 0 {
		t.Error("terminal project triggered new work")
	}
}

func TestSequentialModeCompletes(t *testing.T) {
	cli := &fakeCLI{}
	o, _ := newOrchestrator(t, cli, WithMode(models.ModeSequential))

	tasks := []*models.Task{
		{ID: "t1", Title: "one", Team: models.TeamGeneral, Status: models.TaskStatusQueued},
		{ID: "t2", Title: "two", Team: models.TeamGeneral, Status: models.TaskStatusQueued},
	}
	_, status, err := o.StartPlanned(context.Background(), "sequential", tasks)
	if err != nil {
		t.Fatal(err)
	}
	if status != models.StatusComplete {
		t.Errorf("status = %s", status)
	}
	if cli.workerCalls != 2 {
		t.Errorf("worker calls = %d", cli.workerCalls)
	}
}

func TestEventsEmitted(t *testing.T) {
	cli := &fakeCLI{planJSON: singleTaskPlan}
	o, _ := newOrchestrator(t, cli)

	_, _, err := o.Start(context.Background(), "emit events")
	if err != nil {
		t.Fatal(err)
	}

	seen := map[EventType]bool{}
	for ev := range o.Events() {
		seen[ev.Type] = true
	}
	for _, want := range []EventType{EventPlanningStarted, EventPlanReady, EventStageStarted, EventGroupCompleted, EventProjectCompleted} {
		if !seen[want] {
			t.Errorf("event %s not emitted", want)
		}
	}
}
