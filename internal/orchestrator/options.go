package orchestrator

import (
	"context"
	"time"

	"github.com/jcushman97/MAOFinal/internal/artifact"
	"github.com/jcushman97/MAOFinal/internal/provider"
	"github.com/jcushman97/MAOFinal/internal/resource"
	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

// RequiredConfig holds the collaborators every orchestrator needs.
type RequiredConfig struct {
	// Store persists project state.
	Store *state.Store
	// Client invokes LLM CLIs.
	Client *provider.Client
	// Resources admits parallel work.
	Resources *resource.Manager
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMode sets the execution mode (default hybrid).
func WithMode(mode models.Mode) Option {
	return func(o *Orchestrator) {
		if mode.Valid() {
			o.mode = mode
		}
	}
}

// WithStrategy sets the analyzer strategy (default balanced).
func WithStrategy(strategy models.Strategy) Option {
	return func(o *Orchestrator) {
		if strategy.Valid() {
			o.strategy = strategy
		}
	}
}

// WithMaxAttempts sets the per-task retry budget.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxAttempts = n
		}
	}
}

// WithBaseTimeout sets the unscaled CLI deadline.
func WithBaseTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.baseTimeout = d
		}
	}
}

// WithWorkerRole sets the provider role used by workers.
func WithWorkerRole(role string) Option {
	return func(o *Orchestrator) { o.workerRole = role }
}

// WithPlannerRole sets the provider role used for planning.
func WithPlannerRole(role string) Option {
	return func(o *Orchestrator) { o.plannerRole = role }
}

// WithCatalog attaches an artifact metadata catalog.
func WithCatalog(c *artifact.Catalog) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

// WithLogger attaches a debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithConfigSnapshot sets the configuration snapshot embedded in newly
// created projects.
func WithConfigSnapshot(snapshot map[string]any) Option {
	return func(o *Orchestrator) { o.configSnapshot = snapshot }
}

// WithEventBuffer sets the progress event channel depth.
func WithEventBuffer(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithSleep replaces the denial backoff sleeper. Intended for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}
