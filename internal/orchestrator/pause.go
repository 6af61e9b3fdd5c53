// Package orchestrator drives a project from objective to terminal
// status: planning, stage-by-stage execution with resource admission,
// failure escalation, pause/resume, and crash recovery.
package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrStopped is returned from waits when the controller is stopped.
var ErrStopped = errors.New("orchestrator stopped")

// PauseController manages cooperative pause/resume/stop. Pausing blocks
// new work from being admitted; anything already running completes on
// its own.
type PauseController struct {
	// paused indicates whether execution is paused.
	paused bool
	// stopped indicates a permanent stop.
	stopped bool
	// mu protects all fields.
	mu sync.RWMutex
	// cond signals unpause or stop.
	cond *sync.Cond
}

// NewPauseController creates a PauseController.
func NewPauseController() *PauseController {
	p := &PauseController{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Pause pauses execution. No new groups will be admitted.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		log.Printf("[orchestrator] paused - no new work will be admitted")
	}
}

// Resume resumes execution after a pause.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		log.Printf("[orchestrator] resumed")
		p.cond.Broadcast()
	}
}

// Stop signals a permanent stop, unblocking any waiters.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		p.cond.Broadcast()
	}
}

// IsPaused reports whether execution is currently paused.
func (p *PauseController) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// WaitIfPaused blocks while paused. Returns ErrStopped on stop and the
// context error on cancellation.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	if p.paused && !p.stopped {
		// One goroutine bridges context cancellation to the condition
		// variable; spurious wakeups spawn nothing further.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()

		for p.paused && !p.stopped {
			p.cond.Wait()
			if ctx.Err() != nil {
				close(done)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		close(done)
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.mu.Unlock()
	return nil
}
