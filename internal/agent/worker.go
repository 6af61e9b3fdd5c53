package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jcushman97/MAOFinal/internal/artifact"
	"github.com/jcushman97/MAOFinal/internal/ascii"
	"github.com/jcushman97/MAOFinal/internal/provider"
	"github.com/jcushman97/MAOFinal/internal/resource"
	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

// retryBackoffBase is the first retry delay; each further attempt
// doubles it, with +-50% jitter.
const retryBackoffBase = 2 * time.Second

// Config wires a worker's collaborators.
type Config struct {
	// Role selects the provider spec used for LLM calls.
	Role string
	// Client invokes the LLM CLI.
	Client *provider.Client
	// Extractor persists raw output and deliverables.
	Extractor *artifact.Extractor
	// Resources records token usage; optional.
	Resources *resource.Manager
	// BaseTimeout is the unscaled CLI deadline.
	BaseTimeout time.Duration
	// MaxAttempts is the per-task retry budget.
	MaxAttempts int
	// Sleep is the backoff sleeper; nil means a context-aware
	// time.Sleep. Tests substitute a no-op.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Worker executes exactly one ready task per Execute call, owning its
// retry chain and every status transition.
type Worker struct {
	id        string
	specialty Specialty
	cfg       Config
	rng       *rand.Rand
}

// NewWorker creates a worker for the given specialty.
func NewWorker(specialty Specialty, cfg Config) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Worker{
		id:        fmt.Sprintf("worker_%s_%s", specialty, uuid.New().String()[:8]),
		specialty: specialty,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ID returns the worker's agent ID.
func (w *Worker) ID() string { return w.id }

// Specialty returns the worker's specialty tag.
func (w *Worker) Specialty() Specialty { return w.specialty }

// Execute runs one task to a terminal state: complete, or failed after
// the retry budget. Transient failures (timeout, CLI failure) requeue
// and retry with exponential backoff; successive timeouts raise the
// complexity score so the adaptive deadline grows. QA specialties carry
// the hard atomic ceiling and fail immediately on timeout.
func (w *Worker) Execute(ctx context.Context, sess *state.Session, taskID string) error {
	var objective string
	var task *models.Task
	sess.View(func(p *models.Project) {
		objective = p.Objective
		if t := p.Task(taskID); t != nil {
			snapshot := *t
			task = &snapshot
		}
	})
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if task.Status != models.TaskStatusQueued {
		return fmt.Errorf("task %s is %s, not queued", taskID, task.Status)
	}

	prompt := ascii.EnforcePrompt(BuildPrompt(w.specialty, objective, task, w.depContexts(sess, task)))
	baseScore := provider.ScoreComplexity(prompt)

	timeoutBumps := 0
	for {
		attempt := 0
		err := sess.MutateTask(taskID, func(t *models.Task) error {
			now := time.Now().UTC()
			t.Status = models.TaskStatusInProgress
			t.AssignedAgentID = w.id
			t.StartedAt = &now
			t.Attempts++
			attempt = t.Attempts
			return nil
		})
		if err != nil {
			return err
		}
		sess.Event(models.Event{
			Level: models.LevelInfo, Agent: w.id, Kind: "task_started",
			TaskID: taskID, Attempt: attempt,
		})

		req := provider.Request{
			Role:        w.cfg.Role,
			Prompt:      prompt,
			Complexity:  provider.ClampComplexity(baseScore + timeoutBumps),
			BaseTimeout: w.cfg.BaseTimeout,
		}
		if w.specialty.IsQA() {
			req.HardDeadline = AtomicCeiling
		}

		res, invokeErr := w.cfg.Client.Invoke(ctx, req)
		if invokeErr == nil {
			return w.complete(sess, taskID, attempt, res)
		}

		if ctx.Err() != nil {
			// Cancellation is not a task failure: hand the task back.
			_ = sess.MutateTask(taskID, func(t *models.Task) error {
				t.Status = models.TaskStatusQueued
				t.AssignedAgentID = ""
				return nil
			})
			return ctx.Err()
		}

		kind := provider.ErrorKind(invokeErr)
		if w.specialty.IsQA() && errors.Is(invokeErr, provider.ErrTimeout) {
			return w.fail(sess, taskID, attempt, "atomic_deadline_exceeded",
				fmt.Sprintf("atomic task exceeded %s ceiling", AtomicCeiling))
		}

		retryable := errors.Is(invokeErr, provider.ErrTimeout) || errors.Is(invokeErr, provider.ErrFailed)
		if !retryable || attempt >= w.cfg.MaxAttempts {
			return w.fail(sess, taskID, attempt, kind, invokeErr.Error())
		}

		// Transient: requeue and back off. Timeouts raise the next
		// attempt's complexity so the adaptive deadline grows.
		if errors.Is(invokeErr, provider.ErrTimeout) {
			timeoutBumps++
		}
		if err := sess.MutateTask(taskID, func(t *models.Task) error {
			t.Status = models.TaskStatusQueued
			return nil
		}); err != nil {
			return err
		}
		sess.Event(models.Event{
			Level: models.LevelWarning, Agent: w.id, Kind: kind,
			TaskID: taskID, Attempt: attempt,
			Message: fmt.Sprintf("transient failure, retrying: %v", invokeErr),
		})
		log.Printf("[worker] task %s attempt %d failed (%s), retrying", taskID, attempt, kind)

		if err := w.cfg.Sleep(ctx, w.backoff(attempt)); err != nil {
			return err
		}
	}
}

// complete persists a successful attempt: artifacts, result ref, usage.
func (w *Worker) complete(sess *state.Session, taskID string, attempt int, res *provider.Result) error {
	var task *models.Task
	sess.View(func(p *models.Project) {
		if t := p.Task(taskID); t != nil {
			snapshot := *t
			task = &snapshot
		}
	})
	if task == nil {
		return fmt.Errorf("task %s vanished before completion", taskID)
	}
	extract, err := w.cfg.Extractor.Extract(sess.ProjectID(), task, res.Stdout)
	if err != nil {
		return w.fail(sess, taskID, attempt, "artifact_error", err.Error())
	}

	if err := sess.Mutate(func(p *models.Project) error {
		t := p.Task(taskID)
		if t == nil {
			return fmt.Errorf("task %s vanished", taskID)
		}
		now := time.Now().UTC()
		t.Status = models.TaskStatusComplete
		t.EndedAt = &now
		t.ResultRef = extract.RawRef
		t.Error = nil
		p.RecordUsage(w.id, res.TokensEstimate)
		return nil
	}); err != nil {
		return err
	}
	if w.cfg.Resources != nil {
		w.cfg.Resources.RecordTokens(res.TokensEstimate)
	}

	sess.Event(models.Event{
		Level: models.LevelInfo, Agent: w.id, Kind: "task_completed",
		TaskID: taskID, Attempt: attempt,
		Message: fmt.Sprintf("%d deliverable(s)", len(extract.Deliverables)),
	})
	return nil
}

// fail records a permanent failure and returns an error carrying it.
func (w *Worker) fail(sess *state.Session, taskID string, attempt int, kind, msg string) error {
	_ = sess.MutateTask(taskID, func(t *models.Task) error {
		now := time.Now().UTC()
		t.Status = models.TaskStatusFailed
		t.EndedAt = &now
		t.Error = &models.TaskError{Kind: kind, Message: msg, Attempt: attempt}
		return nil
	})
	sess.Event(models.Event{
		Level: models.LevelError, Agent: w.id, Kind: "task_failed",
		TaskID: taskID, Attempt: attempt, Message: msg,
	})
	return fmt.Errorf("task %s failed (%s): %s", taskID, kind, msg)
}

// depContexts gathers completed-dependency titles and bounded excerpts
// of their raw outputs.
func (w *Worker) depContexts(sess *state.Session, task *models.Task) []depContext {
	var deps []depContext
	sess.View(func(p *models.Project) {
		for _, depID := range task.DependsOn {
			dep := p.Task(depID)
			if dep == nil || dep.Status != models.TaskStatusComplete {
				continue
			}
			dc := depContext{Title: dep.Title}
			raw := filepath.Join(sess.Store().ArtifactsDir(p.ID, depID), "raw_output.txt")
			if data, err := os.ReadFile(raw); err == nil {
				dc.Summary = truncateSummary(string(data))
			}
			deps = append(deps, dc)
		}
	})
	return deps
}

// backoff returns the exponential delay with +-50% jitter for the given
// completed attempt count.
func (w *Worker) backoff(attempt int) time.Duration {
	d := retryBackoffBase << (attempt - 1)
	jitter := 0.5 + w.rng.Float64()
	return time.Duration(float64(d) * jitter)
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
