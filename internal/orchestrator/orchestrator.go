package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jcushman97/MAOFinal/internal/agent"
	"github.com/jcushman97/MAOFinal/internal/artifact"
	"github.com/jcushman97/MAOFinal/internal/graph"
	"github.com/jcushman97/MAOFinal/internal/planner"
	"github.com/jcushman97/MAOFinal/internal/provider"
	"github.com/jcushman97/MAOFinal/internal/resource"
	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/internal/team"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

// ErrPlanning marks a project that failed before any worker ran:
// unusable planner output, a cycle, or an unknown dependency. Callers
// map it to exit code 2.
var ErrPlanning = errors.New("planning error")

// denialBackoff is the wait between passes when every group in a stage
// was refused admission. Repeated denials are logged, not escalated;
// the outermost context deadline bounds how long a starved stage waits.
const denialBackoff = 2 * time.Second

// Orchestrator runs one project end to end.
type Orchestrator struct {
	store     *state.Store
	client    *provider.Client
	resources *resource.Manager

	mode           models.Mode
	strategy       models.Strategy
	maxAttempts    int
	baseTimeout    time.Duration
	workerRole     string
	plannerRole    string
	catalog        *artifact.Catalog
	logger         *DebugLogger
	configSnapshot map[string]any
	eventBuffer    int
	sleep          func(ctx context.Context, d time.Duration) error

	pause   *PauseController
	emitter *emitter
}

// New creates an Orchestrator with the given collaborators and options.
func New(req RequiredConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       req.Store,
		client:      req.Client,
		resources:   req.Resources,
		mode:        models.ModeHybrid,
		strategy:    models.StrategyBalanced,
		maxAttempts: 3,
		baseTimeout: 90 * time.Second,
		workerRole:  "worker",
		plannerRole: "pm",
		logger:      NopLogger(),
		eventBuffer: 100,
		sleep:       sleepCtx,
		pause:       NewPauseController(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.emitter = newEmitter(o.eventBuffer)
	return o
}

// Events returns the progress event channel. Closed when a run ends.
func (o *Orchestrator) Events() <-chan Event { return o.emitter.ch }

// DroppedEventCount returns how many progress events were dropped.
func (o *Orchestrator) DroppedEventCount() uint64 { return o.emitter.dropped.Load() }

// Pause blocks admission of new groups; running workers complete.
func (o *Orchestrator) Pause() { o.pause.Pause() }

// Resume lifts a pause.
func (o *Orchestrator) Resume() { o.pause.Resume() }

// Start creates a new project for the objective and runs it to a
// terminal status.
func (o *Orchestrator) Start(ctx context.Context, objective string) (string, models.ProjectStatus, error) {
	p, err := o.store.Create(objective, o.configSnapshot)
	if err != nil {
		return "", "", err
	}
	status, err := o.run(ctx, state.NewSession(o.store, p))
	return p.ID, status, err
}

// StartPlanned creates a project with an externally supplied task list,
// bypassing the LLM planning pass. The injected plan still goes through
// analyzer validation; a cycle or unknown reference fails the project
// with a planning error before any worker runs.
func (o *Orchestrator) StartPlanned(ctx context.Context, objective string, tasks []*models.Task) (string, models.ProjectStatus, error) {
	p, err := o.store.Create(objective, o.configSnapshot)
	if err != nil {
		return "", "", err
	}
	sess := state.NewSession(o.store, p)

	if _, err := graph.Analyze(tasks, o.strategy); err != nil {
		defer o.emitter.close()
		return p.ID, models.StatusFailed, o.failPlanning(sess, err)
	}
	if err := sess.Mutate(func(p *models.Project) error {
		p.Tasks = tasks
		p.Status = models.StatusExecuting
		return nil
	}); err != nil {
		return p.ID, models.StatusFailed, err
	}

	status, err := o.run(ctx, sess)
	return p.ID, status, err
}

// Run resumes an existing project: the plan is rebuilt from persisted
// tasks, and any task left in_progress by a crash is demoted to queued
// because its work was never durably acknowledged.
func (o *Orchestrator) Run(ctx context.Context, projectID string) (models.ProjectStatus, error) {
	p, err := o.store.Load(projectID)
	if err != nil {
		return "", err
	}
	switch p.Status {
	case models.StatusComplete, models.StatusFailed:
		return p.Status, nil
	}
	return o.run(ctx, state.NewSession(o.store, p))
}

// run drives one project through planning and execution.
func (o *Orchestrator) run(ctx context.Context, sess *state.Session) (models.ProjectStatus, error) {
	defer o.emitter.close()

	var status models.ProjectStatus
	var taskCount int
	sess.View(func(p *models.Project) {
		status = p.Status
		taskCount = len(p.Tasks)
	})

	if status == models.StatusPlanning && taskCount == 0 {
		if err := o.plan(ctx, sess); err != nil {
			return models.StatusFailed, err
		}
	}

	// Crash recovery: nothing in_progress can be trusted after a reload.
	if err := o.demoteInProgress(sess); err != nil {
		return models.StatusFailed, err
	}
	if err := sess.Mutate(func(p *models.Project) error {
		p.Status = models.StatusExecuting
		return nil
	}); err != nil {
		return models.StatusFailed, err
	}

	return o.executeLoop(ctx, sess)
}

// plan runs the project manager and installs the validated task list.
func (o *Orchestrator) plan(ctx context.Context, sess *state.Session) error {
	o.emitter.emit(Event{Type: EventPlanningStarted, ProjectID: sess.ProjectID()})
	o.logger.Log("planning project %s", sess.ProjectID())

	pm := planner.NewManager(planner.Config{
		Role:        o.plannerRole,
		Client:      o.client,
		BaseTimeout: o.baseTimeout,
		MaxAttempts: o.maxAttempts,
	})

	tasks, err := pm.Plan(ctx, sess)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return o.failPlanning(sess, err)
	}

	// Structural validation: the analyzer rejects cycles and unknown
	// references before any worker runs.
	if _, err := graph.Analyze(tasks, o.strategy); err != nil {
		return o.failPlanning(sess, err)
	}

	if err := sess.Mutate(func(p *models.Project) error {
		p.Tasks = tasks
		p.Status = models.StatusExecuting
		return nil
	}); err != nil {
		return err
	}
	o.emitter.emit(Event{
		Type: EventPlanReady, ProjectID: sess.ProjectID(),
		Message: fmt.Sprintf("%d task(s)", len(tasks)),
	})
	return nil
}

// failPlanning marks the project failed with a planning error.
func (o *Orchestrator) failPlanning(sess *state.Session, cause error) error {
	_ = sess.Mutate(func(p *models.Project) error {
		p.Status = models.StatusFailed
		return nil
	})
	sess.Event(models.Event{
		Level: models.LevelError, Agent: "orchestrator", Kind: "planning_error",
		Message: cause.Error(),
	})
	o.emitter.emit(Event{Type: EventPlanningError, ProjectID: sess.ProjectID(), Err: cause})
	o.logger.Log("planning failed: %v", cause)
	return fmt.Errorf("%w: %v", ErrPlanning, cause)
}

// demoteInProgress requeues tasks whose execution was interrupted.
func (o *Orchestrator) demoteInProgress(sess *state.Session) error {
	return sess.Mutate(func(p *models.Project) error {
		for _, t := range p.Tasks {
			if t.Status == models.TaskStatusInProgress {
				o.logger.Log("demoting interrupted task %s to queued", t.ID)
				t.Status = models.TaskStatusQueued
				t.AssignedAgentID = ""
			}
		}
		return nil
	})
}

// executeLoop is the main stage loop: recompute the plan, run the
// earliest stage holding queued work, escalate when a stage pass makes
// no progress.
func (o *Orchestrator) executeLoop(ctx context.Context, sess *state.Session) (models.ProjectStatus, error) {
	for {
		if err := o.pause.WaitIfPaused(ctx); err != nil {
			if errors.Is(err, ErrStopped) || ctx.Err() != nil {
				o.persistPaused(sess)
				return models.StatusPaused, err
			}
			return models.StatusFailed, err
		}
		if ctx.Err() != nil {
			o.persistPaused(sess)
			return models.StatusPaused, ctx.Err()
		}

		// The plan is never cached: retries and failures reshape it.
		plan, stage, queued := o.nextStage(sess)
		if stage == nil {
			break
		}

		completedBefore := o.completedCount(sess)
		o.emitter.emit(Event{
			Type: EventStageStarted, ProjectID: sess.ProjectID(),
			Message: fmt.Sprintf("%d group(s), %d queued task(s)", len(stage.Groups), queued),
		})
		o.logger.Log("stage start: %d group(s), parallelism score %.2f", len(stage.Groups), plan.ParallelismScore())

		attempted, denied := o.runStage(ctx, sess, plan, stage)
		if ctx.Err() != nil {
			continue // top of loop persists paused state
		}

		if attempted == 0 && denied > 0 {
			// Resource starvation is not an error class: log and let the
			// outer deadline bound the wait.
			sess.Event(models.Event{
				Level: models.LevelWarning, Agent: "orchestrator", Kind: "resource_denied",
				Message: fmt.Sprintf("%d group(s) denied admission", denied),
			})
			if err := o.sleep(ctx, denialBackoff); err != nil {
				o.persistPaused(sess)
				return models.StatusPaused, err
			}
			continue
		}

		if o.completedCount(sess) == completedBefore {
			// A full stage pass with no task newly complete cannot make
			// progress on any later pass either.
			o.logger.Log("stage drained without progress, failing project")
			return o.finishFailed(sess, "stage completed without progress")
		}
	}

	var allComplete, executable bool
	sess.View(func(p *models.Project) {
		allComplete = p.AllComplete()
		executable = p.HasExecutable()
	})
	if allComplete {
		return o.finishComplete(sess)
	}
	reason := "permanently failed tasks block completion"
	if executable {
		reason = "queued tasks remain but no stage could run them"
	}
	return o.finishFailed(sess, reason)
}

// nextStage recomputes the plan over non-complete tasks and returns the
// earliest stage containing a queued task, along with that queued count.
func (o *Orchestrator) nextStage(sess *state.Session) (*models.ExecutionPlan, *models.Stage, int) {
	var remaining []*models.Task
	statuses := make(map[string]models.TaskStatus)
	sess.View(func(p *models.Project) {
		complete := make(map[string]bool)
		for _, t := range p.Tasks {
			statuses[t.ID] = t.Status
			if t.Status == models.TaskStatusComplete {
				complete[t.ID] = true
			}
		}
		for _, t := range p.Tasks {
			if complete[t.ID] {
				continue
			}
			// Satisfied dependencies drop out of the remaining graph.
			shadow := *t
			shadow.DependsOn = nil
			for _, dep := range t.DependsOn {
				if !complete[dep] {
					shadow.DependsOn = append(shadow.DependsOn, dep)
				}
			}
			remaining = append(remaining, &shadow)
		}
	})
	if len(remaining) == 0 {
		return nil, nil, 0
	}

	plan, err := graph.Analyze(remaining, o.strategy)
	if err != nil {
		// The persisted task set was validated at planning time; a
		// failure here means on-disk tampering. Treat as no work.
		log.Printf("[orchestrator] replan failed: %v", err)
		return nil, nil, 0
	}

	for i := range plan.Stages {
		queued := 0
		for _, g := range plan.Stages[i].Groups {
			for _, id := range g.TaskIDs {
				if statuses[id] == models.TaskStatusQueued {
					queued++
				}
			}
		}
		if queued > 0 {
			return plan, &plan.Stages[i], queued
		}
	}
	return nil, nil, 0
}

// runStage executes a stage's groups under the selected mode, bounded
// by optimal concurrency, with per-group resource admission. Returns
// how many groups ran and how many were denied admission.
func (o *Orchestrator) runStage(ctx context.Context, sess *state.Session, plan *models.ExecutionPlan, stage *models.Stage) (attempted, denied int) {
	parallel := o.stageParallel(plan)

	maxConcurrent := 1
	maxWorkers := 1
	if parallel {
		maxConcurrent = o.resources.OptimalConcurrency()
		if maxConcurrent < 1 {
			maxConcurrent = 1
		}
		maxWorkers = maxConcurrent
	}

	sem := make(chan struct{}, maxConcurrent)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, g := range stage.Groups {
		group := g
		if !o.groupHasQueued(sess, group) {
			continue
		}
		if err := o.pause.WaitIfPaused(ctx); err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}

		alloc := groupAllocation(group, maxWorkers)
		if !o.resources.TryAcquire("group:"+group.ID, alloc) {
			mu.Lock()
			denied++
			mu.Unlock()
			o.emitter.emit(Event{Type: EventGroupDenied, ProjectID: sess.ProjectID(), GroupID: group.ID})
			o.logger.Log("group %s denied admission (%+v)", group.ID, alloc)
			continue
		}

		mu.Lock()
		attempted++
		mu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer o.resources.Release("group:" + group.ID)

			lead := team.NewLead(group.Team, o.workerFactory(sess))
			summary := lead.RunGroup(ctx, sess, group, maxWorkers)

			// Workers persist their own transitions; this save records
			// the group boundary itself.
			_ = sess.Mutate(func(p *models.Project) error { return nil })
			sess.Event(models.Event{
				Level: models.LevelInfo, Agent: "orchestrator", Kind: "group_completed",
				Message: fmt.Sprintf("group %s: %d ok, %d failed", group.ID, len(summary.Succeeded), len(summary.Failed)),
			})
			o.emitter.emit(Event{
				Type: EventGroupCompleted, ProjectID: sess.ProjectID(), GroupID: group.ID,
				Message: fmt.Sprintf("%d ok, %d failed", len(summary.Succeeded), len(summary.Failed)),
			})
		}()
	}
	wg.Wait()
	return attempted, denied
}

// stageParallel decides the effective mode for one stage.
func (o *Orchestrator) stageParallel(plan *models.ExecutionPlan) bool {
	switch o.mode {
	case models.ModeSequential:
		return false
	case models.ModeParallel:
		return true
	default:
		// Hybrid: recomputed per stage over the remaining task set.
		return plan.ParallelismScore() >= models.HybridThreshold
	}
}

// groupHasQueued reports whether the group still has queued work.
func (o *Orchestrator) groupHasQueued(sess *state.Session, group models.Group) bool {
	has := false
	sess.View(func(p *models.Project) {
		for _, id := range group.TaskIDs {
			if t := p.Task(id); t != nil && t.Status == models.TaskStatusQueued {
				has = true
				return
			}
		}
	})
	return has
}

// workerFactory builds per-task workers for a session's leads.
func (o *Orchestrator) workerFactory(sess *state.Session) team.WorkerFactory {
	extractor := artifact.NewExtractor(o.store, o.catalog)
	return func(specialty agent.Specialty) *agent.Worker {
		return agent.NewWorker(specialty, agent.Config{
			Role:        o.workerRole,
			Client:      o.client,
			Extractor:   extractor,
			Resources:   o.resources,
			BaseTimeout: o.baseTimeout,
			MaxAttempts: o.maxAttempts,
		})
	}
}

// groupAllocation estimates a group's resource needs: per-task token,
// memory and CPU shares, one agent per pooled worker.
func groupAllocation(group models.Group, maxWorkers int) models.Allocation {
	n := len(group.TaskIDs)
	agents := n
	if agents > maxWorkers {
		agents = maxWorkers
	}
	return models.Allocation{
		Tokens:   int64(100 * n),
		MemoryMB: float64(50 * n),
		CPUPct:   float64(10 * agents),
		Agents:   agents,
	}
}

// completedCount returns how many tasks are complete.
func (o *Orchestrator) completedCount(sess *state.Session) int {
	n := 0
	sess.View(func(p *models.Project) {
		for _, t := range p.Tasks {
			if t.Status == models.TaskStatusComplete {
				n++
			}
		}
	})
	return n
}

// persistPaused records a cooperative pause.
func (o *Orchestrator) persistPaused(sess *state.Session) {
	_ = sess.Mutate(func(p *models.Project) error {
		p.Status = models.StatusPaused
		return nil
	})
	o.emitter.emit(Event{Type: EventPaused, ProjectID: sess.ProjectID()})
}

// finishComplete finalizes a fully successful project.
func (o *Orchestrator) finishComplete(sess *state.Session) (models.ProjectStatus, error) {
	if err := sess.Mutate(func(p *models.Project) error {
		p.Status = models.StatusComplete
		return nil
	}); err != nil {
		return models.StatusFailed, err
	}
	sess.Event(models.Event{Level: models.LevelInfo, Agent: "orchestrator", Kind: "project_completed"})
	o.emitter.emit(Event{Type: EventProjectCompleted, ProjectID: sess.ProjectID()})
	o.logger.Log("project complete")
	o.writeSummary(sess)
	return models.StatusComplete, nil
}

// finishFailed finalizes a failed project.
func (o *Orchestrator) finishFailed(sess *state.Session, reason string) (models.ProjectStatus, error) {
	_ = sess.Mutate(func(p *models.Project) error {
		p.Status = models.StatusFailed
		return nil
	})
	sess.Event(models.Event{
		Level: models.LevelError, Agent: "orchestrator", Kind: "project_failed", Message: reason,
	})
	o.emitter.emit(Event{Type: EventProjectFailed, ProjectID: sess.ProjectID(), Message: reason})
	o.logger.Log("project failed: %s", reason)
	o.writeSummary(sess)
	return models.StatusFailed, fmt.Errorf("project failed: %s", reason)
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
