package artifact

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jcushman97/MAOFinal/pkg/models"
)

// Catalog indexes artifact metadata in SQLite so the status command and
// dashboard can answer listings without scanning the filesystem. The
// files themselves stay on disk; the catalog holds only metadata rows.
type Catalog struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// CatalogPath returns the catalog location under a projects root.
func CatalogPath(projectsDir string) string {
	return filepath.Join(projectsDir, "artifacts.db")
}

// OpenCatalog opens (creating if needed) the catalog at path, with WAL
// mode for concurrent readers.
func OpenCatalog(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	c := &Catalog{conn: conn, path: path}
	if err := c.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// Path returns the catalog file path.
func (c *Catalog) Path() string { return c.path }

// migrate applies pending schema migrations.
func (c *Catalog) migrate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := c.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		stmt    string
	}{
		{1, `CREATE TABLE IF NOT EXISTS artifacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			sha TEXT NOT NULL
		)`},
		{2, `CREATE INDEX IF NOT EXISTS idx_artifacts_project ON artifacts(project_id, kind)`},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := c.conn.Exec(m.stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := c.conn.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Record inserts one artifact metadata row.
func (c *Catalog) Record(a models.Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.conn.Exec(
		`INSERT INTO artifacts (project_id, task_id, kind, name, created_at, sha) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ProjectID, a.TaskID, string(a.Kind), a.Name, a.CreatedAt.UTC().Format(time.RFC3339Nano), a.SHA,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// ListByProject returns a project's artifact metadata, deliverables
// first, then raw outputs, each newest first.
func (c *Catalog) ListByProject(projectID string) ([]models.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.conn.Query(
		`SELECT project_id, task_id, kind, name, created_at, sha
		 FROM artifacts WHERE project_id = ?
		 ORDER BY kind ASC, created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []models.Artifact
	for rows.Next() {
		var a models.Artifact
		var kind, created string
		if err := rows.Scan(&a.ProjectID, &a.TaskID, &kind, &a.Name, &created, &a.SHA); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Kind = models.ArtifactKind(kind)
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			a.CreatedAt = ts
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByKind returns how many artifacts of one kind a project has.
func (c *Catalog) CountByKind(projectID string, kind models.ArtifactKind) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	err := c.conn.QueryRow(
		`SELECT COUNT(*) FROM artifacts WHERE project_id = ? AND kind = ?`,
		projectID, string(kind),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return n, nil
}
