package state

import (
	"fmt"
	"sync"

	"github.com/jcushman97/MAOFinal/pkg/models"
)

// Session owns one loaded project and linearizes every mutation to it.
// Workers and leads never touch the Project directly; they submit typed
// update functions which are applied, persisted, and only then visible
// to other readers. Readers see either the pre- or post-image of an
// update, never a partial write.
type Session struct {
	store *Store

	// mu guards project.
	mu      sync.Mutex
	project *models.Project
}

// NewSession wraps a loaded project in a Session.
func NewSession(store *Store, project *models.Project) *Session {
	return &Session{store: store, project: project}
}

// Store returns the underlying store.
func (s *Session) Store() *Store { return s.store }

// ProjectID returns the owned project's ID.
func (s *Session) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project.ID
}

// View runs fn with read access to the project under the session lock.
// fn must not retain or mutate the project.
func (s *Session) View(fn func(p *models.Project)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.project)
}

// Mutate applies fn to the project and persists the result atomically.
// When fn returns an error, nothing is saved.
func (s *Session) Mutate(fn func(p *models.Project) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.project); err != nil {
		return err
	}
	s.project.Touch()
	return s.store.Save(s.project)
}

// MutateTask applies fn to one task and persists. Fails if the task does
// not exist.
func (s *Session) MutateTask(taskID string, fn func(t *models.Task) error) error {
	return s.Mutate(func(p *models.Project) error {
		t := p.Task(taskID)
		if t == nil {
			return fmt.Errorf("task %s not found in project %s", taskID, p.ID)
		}
		return fn(t)
	})
}

// Event appends an entry to the project's event log.
func (s *Session) Event(ev models.Event) {
	_ = s.store.AppendEvent(s.ProjectID(), ev)
}
