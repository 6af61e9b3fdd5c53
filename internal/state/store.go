// Package state persists projects as crash-safe JSON files. Each project
// owns one directory under the store root:
//
//	<root>/<project_id>/
//	  state.json            canonical, replaced atomically
//	  state.json.bak-<ts>   prior versions, newest-first recovery order
//	  events.log            append-only NDJSON event log
//	  artifacts/<task_id>/  raw LLM outputs
//	  deliverables/         extracted files
//	  logs/                 per-run debug logs
//
// Saves are linearized by a per-project lock and fenced by a monotonic
// version counter so a stale orchestrator cannot clobber newer state.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jcushman97/MAOFinal/pkg/models"
)

// Errors returned by the store.
var (
	// ErrNotFound indicates no project exists with the given ID.
	ErrNotFound = errors.New("project not found")
	// ErrStaleWrite indicates a save carrying a version older than one
	// already observed for the project.
	ErrStaleWrite = errors.New("stale write rejected")
	// ErrCorrupt indicates neither the canonical file nor any backup
	// passed validation.
	ErrCorrupt = errors.New("state corrupt beyond recovery")
)

// backupPrefix is the filename prefix of timestamped backups.
const backupPrefix = "state.json.bak-"

// Store reads and writes project state under a root directory.
type Store struct {
	root string

	// mu guards locks.
	mu sync.Mutex
	// locks holds one entry per project touched by this process.
	locks map[string]*projectLock
}

// projectLock serializes writes to one project and remembers the highest
// version observed in memory.
type projectLock struct {
	mu          sync.Mutex
	lastVersion int64
	lastEventTS time.Time
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create projects dir: %w", err)
	}
	return &Store{root: dir, locks: make(map[string]*projectLock)}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// ProjectDir returns the directory owned by a project.
func (s *Store) ProjectDir(projectID string) string {
	return filepath.Join(s.root, projectID)
}

// ArtifactsDir returns the raw-output directory for one task.
func (s *Store) ArtifactsDir(projectID, taskID string) string {
	return filepath.Join(s.ProjectDir(projectID), "artifacts", taskID)
}

// DeliverablesDir returns the deliverables directory for a project.
func (s *Store) DeliverablesDir(projectID string) string {
	return filepath.Join(s.ProjectDir(projectID), "deliverables")
}

// LogsDir returns the per-run log directory for a project.
func (s *Store) LogsDir(projectID string) string {
	return filepath.Join(s.ProjectDir(projectID), "logs")
}

func (s *Store) statePath(projectID string) string {
	return filepath.Join(s.ProjectDir(projectID), "state.json")
}

func (s *Store) eventsPath(projectID string) string {
	return filepath.Join(s.ProjectDir(projectID), "events.log")
}

func (s *Store) lock(projectID string) *projectLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl, ok := s.locks[projectID]
	if !ok {
		pl = &projectLock{}
		s.locks[projectID] = pl
	}
	return pl
}

// Create makes a new project with the given objective, persists it, and
// returns it in planning state.
func (s *Store) Create(objective string, configSnapshot map[string]any) (*models.Project, error) {
	now := time.Now().UTC()
	p := &models.Project{
		ID:             uuid.New().String(),
		Objective:      objective,
		Status:         models.StatusPlanning,
		CreatedAt:      now,
		UpdatedAt:      now,
		Tasks:          []*models.Task{},
		ConfigSnapshot: configSnapshot,
	}

	dir := s.ProjectDir(p.ID)
	for _, sub := range []string{"artifacts", "deliverables", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create project layout: %w", err)
		}
	}
	if err := s.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save atomically replaces the project's canonical state file. The
// in-memory version is bumped, the previous canonical file is copied to a
// timestamped backup, and both the temp file and the containing directory
// are fsynced so the rename itself is durable.
func (s *Store) Save(p *models.Project) error {
	pl := s.lock(p.ID)
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if p.Version < pl.lastVersion {
		return fmt.Errorf("%w: version %d < observed %d", ErrStaleWrite, p.Version, pl.lastVersion)
	}
	p.Version++
	p.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		p.Version--
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := s.ProjectDir(p.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.Version--
		return fmt.Errorf("create project dir: %w", err)
	}

	canonical := s.statePath(p.ID)
	tmp := canonical + ".tmp"

	if err := writeFileSync(tmp, data); err != nil {
		p.Version--
		return err
	}

	// Preserve the version being replaced before the rename clobbers it.
	if _, err := os.Stat(canonical); err == nil {
		backup := filepath.Join(dir, fmt.Sprintf("%s%d", backupPrefix, time.Now().UnixNano()))
		if err := copyFile(canonical, backup); err != nil {
			p.Version--
			return fmt.Errorf("backup previous state: %w", err)
		}
	}

	if err := os.Rename(tmp, canonical); err != nil {
		p.Version--
		return fmt.Errorf("rename state file: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("fsync project dir: %w", err)
	}

	pl.lastVersion = p.Version
	return nil
}

// Load reads a project's canonical state. If the canonical file fails
// validation (or carries a version older than one already observed), the
// newest valid backup is promoted and a restored_from_backup event is
// appended. Load fails with ErrCorrupt only when no candidate validates.
func (s *Store) Load(projectID string) (*models.Project, error) {
	pl := s.lock(projectID)
	pl.mu.Lock()
	defer pl.mu.Unlock()

	canonical := s.statePath(projectID)
	if _, err := os.Stat(canonical); errors.Is(err, os.ErrNotExist) {
		if backups, _ := s.listBackups(projectID); len(backups) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, projectID)
		}
	}

	p, loadErr := s.readAndValidate(canonical, pl.lastVersion)
	if loadErr == nil {
		pl.lastVersion = p.Version
		return p, nil
	}
	log.Printf("[state] canonical state invalid for %s: %v; trying backups", projectID, loadErr)

	backups, err := s.listBackups(projectID)
	if err != nil {
		return nil, err
	}
	for _, backup := range backups {
		p, err := s.readAndValidate(backup, pl.lastVersion)
		if err != nil {
			continue
		}
		if err := copyFile(backup, canonical); err != nil {
			return nil, fmt.Errorf("promote backup: %w", err)
		}
		if err := syncDir(s.ProjectDir(projectID)); err != nil {
			return nil, fmt.Errorf("fsync project dir: %w", err)
		}
		pl.lastVersion = p.Version
		s.appendEventLocked(pl, projectID, models.Event{
			Level:   models.LevelWarning,
			Agent:   "state",
			Kind:    "restored_from_backup",
			Message: filepath.Base(backup),
		})
		return p, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrCorrupt, projectID)
}

// AppendEvent appends one entry to the project's NDJSON event log.
// Timestamps are forced monotonically non-decreasing.
func (s *Store) AppendEvent(projectID string, ev models.Event) error {
	pl := s.lock(projectID)
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return s.appendEventLocked(pl, projectID, ev)
}

func (s *Store) appendEventLocked(pl *projectLock, projectID string, ev models.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Timestamp.Before(pl.lastEventTS) {
		ev.Timestamp = pl.lastEventTS
	}
	pl.lastEventTS = ev.Timestamp

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	f, err := os.OpenFile(s.eventsPath(projectID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open events log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Snapshot copies the current canonical state to a new timestamped
// backup and returns the backup ID (its file name).
func (s *Store) Snapshot(projectID string) (string, error) {
	pl := s.lock(projectID)
	pl.mu.Lock()
	defer pl.mu.Unlock()

	canonical := s.statePath(projectID)
	if _, err := os.Stat(canonical); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, projectID)
	}
	name := fmt.Sprintf("%s%d", backupPrefix, time.Now().UnixNano())
	if err := copyFile(canonical, filepath.Join(s.ProjectDir(projectID), name)); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	return name, nil
}

// Restore replaces the canonical state with the named backup.
func (s *Store) Restore(projectID, backupID string) error {
	pl := s.lock(projectID)
	pl.mu.Lock()
	defer pl.mu.Unlock()

	backup := filepath.Join(s.ProjectDir(projectID), filepath.Base(backupID))
	p, err := s.readAndValidate(backup, 0)
	if err != nil {
		return fmt.Errorf("restore %s: %w", backupID, err)
	}
	if err := copyFile(backup, s.statePath(projectID)); err != nil {
		return fmt.Errorf("restore %s: %w", backupID, err)
	}
	if err := syncDir(s.ProjectDir(projectID)); err != nil {
		return fmt.Errorf("fsync project dir: %w", err)
	}
	pl.lastVersion = p.Version
	return nil
}

// ListProjects returns the IDs of all projects with a state file, sorted.
func (s *Store) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read projects dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.statePath(e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// listBackups returns backup paths for a project, newest first.
func (s *Store) listBackups(projectID string) ([]string, error) {
	entries, err := os.ReadDir(s.ProjectDir(projectID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, projectID)
		}
		return nil, fmt.Errorf("read project dir: %w", err)
	}
	var backups []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), backupPrefix) {
			backups = append(backups, filepath.Join(s.ProjectDir(projectID), e.Name()))
		}
	}
	// Backup names embed nanosecond timestamps; lexicographic descending
	// order is newest first for equal-width suffixes, so compare
	// numerically to be safe.
	sort.Slice(backups, func(i, j int) bool {
		return backupTS(backups[i]) > backupTS(backups[j])
	})
	return backups, nil
}

func backupTS(path string) int64 {
	var ts int64
	fmt.Sscanf(strings.TrimPrefix(filepath.Base(path), backupPrefix), "%d", &ts)
	return ts
}

// readAndValidate loads and schema-checks one state file. Files whose
// version is below minVersion are rejected as stale.
func (s *Store) readAndValidate(path string, minVersion int64) (*models.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p models.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if err := validate(&p); err != nil {
		return nil, err
	}
	if p.Version < minVersion {
		return nil, fmt.Errorf("%w: file version %d < observed %d", ErrStaleWrite, p.Version, minVersion)
	}
	return &p, nil
}

// validate checks the schema invariants a loadable project must satisfy.
func validate(p *models.Project) error {
	if p.ID == "" {
		return errors.New("missing project_id")
	}
	if p.Version < 1 {
		return fmt.Errorf("invalid version %d", p.Version)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid project status %q", p.Status)
	}
	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return errors.New("task with empty id")
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate task id %s", t.ID)
		}
		ids[t.ID] = true
		if !t.Status.Valid() {
			return fmt.Errorf("task %s: invalid status %q", t.ID, t.Status)
		}
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
			}
		}
	}
	return nil
}

// writeFileSync writes data to path and fsyncs it before returning.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync temp state: %w", err)
	}
	return f.Close()
}

// copyFile copies src to dst, fsyncing the destination.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// syncDir fsyncs a directory so a completed rename survives power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
