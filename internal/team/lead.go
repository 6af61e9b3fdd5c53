// Package team implements team leads: the middle tier of the delegation
// hierarchy. A lead takes one group of same-team tasks and fans it out
// across a bounded worker pool, isolating failures so one bad task never
// cancels its peers.
package team

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/jcushman97/MAOFinal/internal/agent"
	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

// WorkerFactory builds a configured worker for a specialty. The lead
// creates one worker per dispatched task so each carries its own agent
// ID and retry state.
type WorkerFactory func(specialty agent.Specialty) *agent.Worker

// Summary is a lead's report for one group.
type Summary struct {
	// Succeeded lists task IDs that completed.
	Succeeded []string
	// Failed lists task IDs that failed permanently.
	Failed []string
	// Skipped lists task IDs that were not ready when dispatched (an
	// upstream failure in the same pass); they were never started.
	Skipped []string
}

// Lead dispatches one team's groups.
type Lead struct {
	team    models.Team
	factory WorkerFactory
}

// NewLead creates a Lead for a team.
func NewLead(team models.Team, factory WorkerFactory) *Lead {
	return &Lead{team: team, factory: factory}
}

// Team returns the lead's team.
func (l *Lead) Team() models.Team { return l.team }

// RunGroup executes every task in the group with bounded concurrency:
// a pool of min(len(tasks), maxWorkers) workers, first available worker
// takes the next task. Ordering within the group is not observable.
// Tasks matching atomic-validation keywords get a specialty-matched
// worker under the atomic time bound; everything else gets a general
// worker for the team. A cancelled context stops dispatch of not-yet
// started tasks; running workers finish on their own.
func (l *Lead) RunGroup(ctx context.Context, sess *state.Session, group models.Group, maxWorkers int) Summary {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	poolSize := len(group.TaskIDs)
	if poolSize > maxWorkers {
		poolSize = maxWorkers
	}

	taskCh := make(chan string, len(group.TaskIDs))
	for _, id := range group.TaskIDs {
		taskCh <- id
	}
	close(taskCh)

	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
	)

	log.Printf("[lead:%s] group %s: %d task(s), pool %d", l.team, group.ID, len(group.TaskIDs), poolSize)

	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for taskID := range taskCh {
				if ctx.Err() != nil {
					return
				}
				outcome := l.runOne(ctx, sess, taskID)

				mu.Lock()
				switch outcome {
				case outcomeSucceeded:
					summary.Succeeded = append(summary.Succeeded, taskID)
				case outcomeFailed:
					summary.Failed = append(summary.Failed, taskID)
				case outcomeSkipped:
					summary.Skipped = append(summary.Skipped, taskID)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Strings(summary.Succeeded)
	sort.Strings(summary.Failed)
	sort.Strings(summary.Skipped)
	return summary
}

// outcome classifies one dispatched task.
type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeSkipped
)

// runOne dispatches a single task to a freshly built worker. Tasks that
// are no longer ready (a dependency failed since the plan was computed)
// are skipped, never started.
func (l *Lead) runOne(ctx context.Context, sess *state.Session, taskID string) outcome {
	var task *models.Task
	ready := false
	sess.View(func(p *models.Project) {
		if t := p.Task(taskID); t != nil {
			snapshot := *t
			task = &snapshot
			ready = t.ReadyIn(p.TaskMap())
		}
	})
	if task == nil {
		log.Printf("[lead:%s] task %s not found, skipping", l.team, taskID)
		return outcomeSkipped
	}
	if !ready {
		log.Printf("[lead:%s] task %s not ready, skipping", l.team, taskID)
		return outcomeSkipped
	}

	specialty := agent.SpecialtyGeneral
	if agent.IsAtomicValidation(task) {
		specialty = agent.SelectSpecialty(task)
	}

	worker := l.factory(specialty)
	if err := worker.Execute(ctx, sess, taskID); err != nil {
		return outcomeFailed
	}
	return outcomeSucceeded
}
