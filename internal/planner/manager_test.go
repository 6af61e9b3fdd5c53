package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jcushman97/MAOFinal/internal/provider"
	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

type step struct {
	out provider.RunOutput
	err error
}

type scriptedRunner struct {
	steps []step
	calls int
}

func (s *scriptedRunner) Run(ctx context.Context, argv []string, stdin string) (provider.RunOutput, error) {
	step := s.steps[len(s.steps)-1]
	if s.calls < len(s.steps) {
		step = s.steps[s.calls]
	}
	s.calls++
	return step.out, step.err
}

func managerWith(runner provider.CommandRunner) *Manager {
	client := provider.NewClientWithRunner(map[string]provider.Spec{
		"pm": {Cmd: []string{"claude"}, JSONMarkers: []string{"BEGIN_JSON", "END_JSON"}},
	}, runner)
	return NewManager(Config{
		Role: "pm", Client: client, BaseTimeout: time.Minute, MaxAttempts: 3,
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	})
}

func planningSession(t *testing.T) *state.Session {
	t.Helper()
	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p, err := st.Create("build a landing page", nil)
	if err != nil {
		t.Fatal(err)
	}
	return state.NewSession(st, p)
}

const goodPlan = `Here is my plan.
BEGIN_JSON
{
  "task_breakdown": [
    {"id": "html", "title": "Build page structure", "description": "Create the landing page markup", "team": "frontend", "depends_on": []},
    {"id": "css", "title": "Style the page", "description": "Write the stylesheet", "team": "frontend", "depends_on": ["html"]},
    {"id": "qa_html", "title": "Validate HTML", "description": "Check markup structure", "team": "qa", "depends_on": ["html"]}
  ]
}
END_JSON
Done.`

func TestPlanParsesBreakdown(t *testing.T) {
	runner := &scriptedRunner{}
	runner.steps = append(runner.steps, step{out: provider.RunOutput{Stdout: goodPlan}})

	m := managerWith(runner)
	sess := planningSession(t)

	tasks, err := m.Plan(context.Background(), sess)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("tasks = %d", len(tasks))
	}
	if tasks[0].ID != "html" || tasks[0].Team != models.TeamFrontend {
		t.Errorf("task[0] = %+v", tasks[0])
	}
	if tasks[1].DependsOn[0] != "html" {
		t.Errorf("task[1] deps = %v", tasks[1].DependsOn)
	}
	if tasks[2].Team != models.TeamQA {
		t.Errorf("task[2] team = %s", tasks[2].Team)
	}
	for _, task := range tasks {
		if task.Status != models.TaskStatusQueued {
			t.Errorf("task %s status = %s", task.ID, task.Status)
		}
	}

	// Planning consumes the usage budget like any worker call.
	var usage models.Usage
	sess.View(func(p *models.Project) { usage = p.Usage })
	if usage.Calls != 1 {
		t.Errorf("usage calls = %d", usage.Calls)
	}
}

func TestPlanUnknownTeamFallsBackToGeneral(t *testing.T) {
	out := `BEGIN_JSON
{"task_breakdown": [{"id": "t1", "title": "Research competitors", "team": "research"}]}
END_JSON`
	runner := &scriptedRunner{}
	runner.steps = append(runner.steps, step{out: provider.RunOutput{Stdout: out}})

	tasks, err := managerWith(runner).Plan(context.Background(), planningSession(t))
	if err != nil {
		t.Fatal(err)
	}
	if tasks[0].Team != models.TeamGeneral {
		t.Errorf("team = %s, want general", tasks[0].Team)
	}
}

func TestPlanDependenciesAlias(t *testing.T) {
	out := `BEGIN_JSON
{"task_breakdown": [
  {"id": "a", "title": "First"},
  {"id": "b", "title": "Second", "dependencies": ["a"]}
]}
END_JSON`
	runner := &scriptedRunner{}
	runner.steps = append(runner.steps, step{out: provider.RunOutput{Stdout: out}})

	tasks, err := managerWith(runner).Plan(context.Background(), planningSession(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != "a" {
		t.Errorf("deps = %v", tasks[1].DependsOn)
	}
}

func TestPlanRetriesTransientThenSucceeds(t *testing.T) {
	runner := &scriptedRunner{}
	runner.steps = append(runner.steps,
		step{err: errors.New("exit status 1"), out: provider.RunOutput{Stderr: "flake"}},
		step{out: provider.RunOutput{Stdout: goodPlan}},
	)

	tasks, err := managerWith(runner).Plan(context.Background(), planningSession(t))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("tasks = %d", len(tasks))
	}
	if runner.calls != 2 {
		t.Errorf("calls = %d", runner.calls)
	}
}

func TestPlanBadOutputExhaustsBudget(t *testing.T) {
	runner := &scriptedRunner{}
	runner.steps = append(runner.steps, step{out: provider.RunOutput{Stdout: "I would suggest hiring a contractor."}})

	_, err := managerWith(runner).Plan(context.Background(), planningSession(t))
	if !errors.Is(err, ErrBadPlan) {
		t.Fatalf("expected ErrBadPlan, got %v", err)
	}
	if runner.calls != 3 {
		t.Errorf("calls = %d, want full budget", runner.calls)
	}
}

func TestPlanTitleFallsBackToDescription(t *testing.T) {
	out := `BEGIN_JSON
{"task_breakdown": [{"id": "t1", "description": "Write the summary document for stakeholders"}]}
END_JSON`
	runner := &scriptedRunner{}
	runner.steps = append(runner.steps, step{out: provider.RunOutput{Stdout: out}})

	tasks, err := managerWith(runner).Plan(context.Background(), planningSession(t))
	if err != nil {
		t.Fatal(err)
	}
	if tasks[0].Title == "" {
		t.Error("title not derived from description")
	}
}
