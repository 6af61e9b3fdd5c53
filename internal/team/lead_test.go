package team

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jcushman97/MAOFinal/internal/agent"
	"github.com/jcushman97/MAOFinal/internal/artifact"
	"github.com/jcushman97/MAOFinal/internal/provider"
	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

// countingRunner succeeds on every call, or fails every call when failAll
// is set, and tracks peak concurrency.
type countingRunner struct {
	mu      sync.Mutex
	live    int
	peak    int
	failAll bool
	calls   int32
}

func (r *countingRunner) Run(ctx context.Context, argv []string, stdin string) (provider.RunOutput, error) {
	atomic.AddInt32(&r.calls, 1)
	r.mu.Lock()
	r.live++
	if r.live > r.peak {
		r.peak = r.live
	}
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.live--
	r.mu.Unlock()

	if r.failAll {
		return provider.RunOutput{Stderr: "boom"}, errors.New("exit status 1")
	}
	return provider.RunOutput{Stdout: "done"}, nil
}

func newGroupSession(t *testing.T, tasks ...*models.Task) *state.Session {
	t.Helper()
	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p, err := st.Create("objective", nil)
	if err != nil {
		t.Fatal(err)
	}
	p.Tasks = tasks
	if err := st.Save(p); err != nil {
		t.Fatal(err)
	}
	return state.NewSession(st, p)
}

func factoryFor(sess *state.Session, runner provider.CommandRunner, maxAttempts int) WorkerFactory {
	client := provider.NewClientWithRunner(map[string]provider.Spec{
		"worker": {Cmd: []string{"claude"}},
	}, runner)
	return func(specialty agent.Specialty) *agent.Worker {
		return agent.NewWorker(specialty, agent.Config{
			Role:        "worker",
			Client:      client,
			Extractor:   artifact.NewExtractor(sess.Store(), nil),
			BaseTimeout: time.Minute,
			MaxAttempts: maxAttempts,
			Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
		})
	}
}

func qtask(id string, team models.Team) *models.Task {
	return &models.Task{ID: id, Title: "Task " + id, Team: team, Status: models.TaskStatusQueued}
}

func TestRunGroupAllSucceed(t *testing.T) {
	sess := newGroupSession(t, qtask("a", models.TeamFrontend), qtask("b", models.TeamFrontend), qtask("c", models.TeamFrontend))
	runner := &countingRunner{}
	lead := NewLead(models.TeamFrontend, factoryFor(sess, runner, 1))

	sum := lead.RunGroup(context.Background(), sess, models.Group{
		ID: "g1", Team: models.TeamFrontend, TaskIDs: []string{"a", "b", "c"},
	}, 3)

	if len(sum.Succeeded) != 3 || len(sum.Failed) != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	sess.View(func(p *models.Project) {
		for _, task := range p.Tasks {
			if task.Status != models.TaskStatusComplete {
				t.Errorf("task %s status = %s", task.ID, task.Status)
			}
		}
	})
}

func TestRunGroupBoundedConcurrency(t *testing.T) {
	var tasks []*models.Task
	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		tasks = append(tasks, qtask(id, models.TeamBackend))
	}
	sess := newGroupSession(t, tasks...)
	runner := &countingRunner{}
	lead := NewLead(models.TeamBackend, factoryFor(sess, runner, 1))

	lead.RunGroup(context.Background(), sess, models.Group{
		ID: "g1", Team: models.TeamBackend, TaskIDs: ids,
	}, 2)

	if runner.peak > 2 {
		t.Errorf("peak concurrency %d exceeds pool size 2", runner.peak)
	}
	if got := atomic.LoadInt32(&runner.calls); got != int32(len(ids)) {
		t.Errorf("calls = %d, want %d", got, len(ids))
	}
}

func TestRunGroupFailureIsolation(t *testing.T) {
	sess := newGroupSession(t, qtask("a", models.TeamQA), qtask("b", models.TeamQA))
	runner := &countingRunner{failAll: true}
	lead := NewLead(models.TeamQA, factoryFor(sess, runner, 1))

	sum := lead.RunGroup(context.Background(), sess, models.Group{
		ID: "g1", Team: models.TeamQA, TaskIDs: []string{"a", "b"},
	}, 2)

	// Both tasks ran to their own failure; neither cancelled the other.
	if len(sum.Failed) != 2 {
		t.Fatalf("failed = %v", sum.Failed)
	}
	if len(sum.Succeeded) != 0 {
		t.Fatalf("succeeded = %v", sum.Succeeded)
	}
}

func TestRunGroupEmpty(t *testing.T) {
	sess := newGroupSession(t)
	lead := NewLead(models.TeamGeneral, factoryFor(sess, &countingRunner{}, 1))

	sum := lead.RunGroup(context.Background(), sess, models.Group{ID: "g", Team: models.TeamGeneral}, 4)
	if len(sum.Succeeded) != 0 || len(sum.Failed) != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRunGroupSpecialtyDelegation(t *testing.T) {
	// A QA task whose description matches atomic-validation keywords
	// must get a specialty-matched worker, not a general one.
	task := &models.Task{
		ID: "q1", Title: "Validate CSS consistency", Team: models.TeamQA,
		Status: models.TaskStatusQueued,
	}
	sess := newGroupSession(t, task)

	var pickedSpecialties []agent.Specialty
	var mu sync.Mutex
	inner := factoryFor(sess, &countingRunner{}, 1)
	factory := func(s agent.Specialty) *agent.Worker {
		mu.Lock()
		pickedSpecialties = append(pickedSpecialties, s)
		mu.Unlock()
		return inner(s)
	}

	lead := NewLead(models.TeamQA, factory)
	lead.RunGroup(context.Background(), sess, models.Group{
		ID: "g", Team: models.TeamQA, TaskIDs: []string{"q1"},
	}, 1)

	if len(pickedSpecialties) != 1 || pickedSpecialties[0] != agent.SpecialtyQACSS {
		t.Errorf("specialties = %v, want [qa-css]", pickedSpecialties)
	}
}
