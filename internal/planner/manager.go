// Package planner implements the project manager: the one-shot planning
// pass that turns a natural-language objective into a task breakdown
// with teams and dependency edges. The manager is itself a worker whose
// task is planning, so it runs on the same provider, sanitizer and retry
// machinery as any leaf task.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jcushman97/MAOFinal/internal/ascii"
	"github.com/jcushman97/MAOFinal/internal/provider"
	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

// ErrBadPlan indicates the provider returned output that could not be
// parsed into a usable task breakdown.
var ErrBadPlan = errors.New("unusable plan output")

// planningPrompt asks for an atomic, per-concern task breakdown between
// the provider's JSON markers.
const planningPrompt = `You are a Project Manager responsible for breaking a project objective into manageable tasks.

PROJECT OBJECTIVE:
%s

Analyze the objective and respond with a task breakdown in valid JSON between the markers:

BEGIN_JSON
{
  "task_breakdown": [
    {
      "id": "unique_task_id",
      "title": "Short task name",
      "description": "Clear task description",
      "team": "frontend|backend|qa|general",
      "depends_on": ["task_id1"]
    }
  ]
}
END_JSON

Guidelines:
1. Create 3-10 tasks for most projects; one task for trivial objectives
2. Every task must be small enough for a single specialist to finish in one sitting
3. Ensure proper dependency ordering with no circular dependencies
4. Assign teams by content: frontend for markup/styles/scripts, backend for APIs and data, qa for validation
5. Break testing into atomic per-concern tasks: HTML validation, CSS validation, JS validation, performance testing
6. Never emit broad "test everything" tasks`

// Config wires the manager's collaborators.
type Config struct {
	// Role selects the provider spec for planning calls.
	Role string
	// Client invokes the LLM CLI.
	Client *provider.Client
	// BaseTimeout is the unscaled CLI deadline.
	BaseTimeout time.Duration
	// MaxAttempts bounds planning retries.
	MaxAttempts int
	// Sleep is the backoff sleeper; nil means context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Manager plans one project.
type Manager struct {
	id  string
	cfg Config
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
	return &Manager{
		id:  "pm_" + uuid.New().String()[:8],
		cfg: cfg,
	}
}

// ID returns the manager's agent ID.
func (m *Manager) ID() string { return m.id }

// breakdown mirrors the JSON payload schema.
type breakdown struct {
	TaskBreakdown []plannedTask `json:"task_breakdown"`
}

type plannedTask struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Team        string   `json:"team"`
	DependsOn   []string `json:"depends_on"`
	// Dependencies is accepted as an alias for depends_on.
	Dependencies []string `json:"dependencies"`
}

// Plan produces the project's initial task list. Transient provider
// failures are retried under the attempt budget; unusable output after
// the budget returns ErrBadPlan. Structural validation (cycles, unknown
// references) is the analyzer's job, not the planner's.
func (m *Manager) Plan(ctx context.Context, sess *state.Session) ([]*models.Task, error) {
	var objective string
	sess.View(func(p *models.Project) { objective = p.Objective })

	prompt := ascii.EnforcePrompt(fmt.Sprintf(planningPrompt, objective))
	sess.Event(models.Event{Level: models.LevelInfo, Agent: m.id, Kind: "planning_started"})

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		res, err := m.cfg.Client.Invoke(ctx, provider.Request{
			Role:        m.cfg.Role,
			Prompt:      prompt,
			BaseTimeout: m.cfg.BaseTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, provider.ErrTimeout) && !errors.Is(err, provider.ErrFailed) {
				return nil, err
			}
			lastErr = err
			log.Printf("[planner] attempt %d failed: %v", attempt, err)
			if attempt < m.cfg.MaxAttempts {
				if serr := m.cfg.Sleep(ctx, time.Duration(attempt)*2*time.Second); serr != nil {
					return nil, serr
				}
			}
			continue
		}

		sess.Mutate(func(p *models.Project) error {
			p.RecordUsage(m.id, res.TokensEstimate)
			return nil
		})

		tasks, perr := parseBreakdown(res)
		if perr != nil {
			lastErr = perr
			log.Printf("[planner] attempt %d produced unusable plan: %v", attempt, perr)
			continue
		}

		sess.Event(models.Event{
			Level: models.LevelInfo, Agent: m.id, Kind: "plan_ready",
			Message: fmt.Sprintf("%d task(s)", len(tasks)),
		})
		return tasks, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrBadPlan, lastErr)
}

// parseBreakdown decodes the marker payload (or, failing that, the full
// stdout) into tasks.
func parseBreakdown(res *provider.Result) ([]*models.Task, error) {
	payload := res.Payload
	if payload == "" {
		payload = res.Stdout
	}

	var b breakdown
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, fmt.Errorf("decode breakdown: %w", err)
	}
	if len(b.TaskBreakdown) == 0 {
		return nil, errors.New("empty task_breakdown")
	}

	tasks := make([]*models.Task, 0, len(b.TaskBreakdown))
	for i, pt := range b.TaskBreakdown {
		id := strings.TrimSpace(pt.ID)
		if id == "" {
			id = fmt.Sprintf("task_%d", i+1)
		}
		title := strings.TrimSpace(pt.Title)
		if title == "" {
			title = firstWords(pt.Description, 8)
		}
		if title == "" {
			return nil, fmt.Errorf("task %s has no title or description", id)
		}
		deps := pt.DependsOn
		if len(deps) == 0 {
			deps = pt.Dependencies
		}
		tasks = append(tasks, &models.Task{
			ID:          id,
			Title:       title,
			Description: strings.TrimSpace(pt.Description),
			Team:        models.NormalizeTeam(strings.ToLower(strings.TrimSpace(pt.Team))),
			DependsOn:   deps,
			Status:      models.TaskStatusQueued,
		})
	}
	return tasks, nil
}

// firstWords returns up to n leading words of s.
func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
