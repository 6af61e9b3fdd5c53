// Package dashboard serves a read-only HTTP view of project state:
// project listings, per-project detail, and a resource snapshot. It
// reads the same on-disk state the orchestrator writes; an fsnotify
// watcher invalidates the per-project cache when state files change.
package dashboard

import (
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcushman97/MAOFinal/internal/artifact"
	"github.com/jcushman97/MAOFinal/internal/resource"
	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

// Server exposes the read-only dashboard API.
type Server struct {
	store     *state.Store
	resources *resource.Manager
	catalog   *artifact.Catalog

	// mu guards cache.
	mu    sync.Mutex
	cache map[string]*models.Project

	watcher *fsnotify.Watcher
}

// NewServer creates a dashboard over the given store. Resources and
// catalog are optional.
func NewServer(store *state.Store, resources *resource.Manager, catalog *artifact.Catalog) *Server {
	return &Server{
		store:     store,
		resources: resources,
		catalog:   catalog,
		cache:     make(map[string]*models.Project),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/api/projects", s.handleProjects)
	r.Get("/api/projects/{projectID}", s.handleProject)
	r.Get("/api/projects/{projectID}/artifacts", s.handleArtifacts)
	r.Get("/api/resources", s.handleResources)
	return r
}

// Watch starts invalidating cached projects when their state files
// change. Returns the watcher's close function.
func (s *Server) Watch() (func() error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(s.store.Root()); err != nil {
		w.Close()
		return nil, err
	}
	s.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				s.invalidate(ev.Name)
				if ev.Op.Has(fsnotify.Create) {
					// New project directories get watched too.
					_ = w.Add(ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("[dashboard] watch error: %v", err)
			}
		}
	}()
	return w.Close, nil
}

// invalidate drops the cache entry owning the changed path.
func (s *Server) invalidate(path string) {
	rel, err := filepath.Rel(s.store.Root(), path)
	if err != nil {
		return
	}
	projectID := strings.Split(filepath.ToSlash(rel), "/")[0]

	s.mu.Lock()
	delete(s.cache, projectID)
	s.mu.Unlock()
}

// project returns a cached or freshly loaded project.
func (s *Server) project(projectID string) (*models.Project, error) {
	s.mu.Lock()
	if p, ok := s.cache[projectID]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	p, err := s.store.Load(projectID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[projectID] = p
	s.mu.Unlock()
	return p, nil
}

// projectSummary is the listing row shape.
type projectSummary struct {
	ProjectID string               `json:"project_id"`
	Objective string               `json:"objective"`
	Status    models.ProjectStatus `json:"status"`
	Tasks     int                  `json:"tasks"`
	Complete  int                  `json:"complete"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListProjects()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	summaries := make([]projectSummary, 0, len(ids))
	for _, id := range ids {
		p, err := s.project(id)
		if err != nil {
			continue
		}
		row := projectSummary{
			ProjectID: p.ID,
			Objective: p.Objective,
			Status:    p.Status,
			Tasks:     len(p.Tasks),
			UpdatedAt: p.UpdatedAt,
		}
		for _, t := range p.Tasks {
			if t.Status == models.TaskStatusComplete {
				row.Complete++
			}
		}
		summaries = append(summaries, row)
	}
	writeJSON(w, summaries)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.project(chi.URLParam(r, "projectID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeJSON(w, []models.Artifact{})
		return
	}
	arts, err := s.catalog.ListByProject(chi.URLParam(r, "projectID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if arts == nil {
		arts = []models.Artifact{}
	}
	writeJSON(w, arts)
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	if s.resources == nil {
		writeJSON(w, map[string]any{})
		return
	}
	m := s.resources.Snapshot()
	writeJSON(w, map[string]any{
		"live":                  m.Live,
		"limits":                m.Limits,
		"system_memory_used_mb": m.SystemMemoryUsedMB,
		"system_cpu_pct":        m.SystemCPUPct,
		"samples":               m.Samples,
		"optimal_concurrency":   s.resources.OptimalConcurrency(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[dashboard] encode response: %v", err)
	}
}
