package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

// statusMarker maps task status to the ASCII markers used in reports.
func statusMarker(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusComplete:
		return "[PASS]"
	case models.TaskStatusFailed, models.TaskStatusBlocked:
		return "[FAIL]"
	case models.TaskStatusInProgress:
		return "[PROGRESS]"
	default:
		return "[PENDING]"
	}
}

// writeSummary drops a README into the project directory linking the
// deliverables and listing task outcomes. Best effort: a summary failure
// never affects the terminal status.
func (o *Orchestrator) writeSummary(sess *state.Session) {
	var b strings.Builder

	sess.View(func(p *models.Project) {
		fmt.Fprintf(&b, "# Project: %s\n\n", p.Objective)
		fmt.Fprintf(&b, "**Project ID:** %s\n", p.ID)
		fmt.Fprintf(&b, "**Status:** %s\n", p.Status)
		fmt.Fprintf(&b, "**Created:** %s\n\n", p.CreatedAt.Format("2006-01-02 15:04:05 MST"))

		b.WriteString("## Deliverables\n\n")
		deliverables := listDeliverables(o.store, p.ID)
		if len(deliverables) == 0 {
			b.WriteString("(none)\n")
		}
		for _, name := range deliverables {
			fmt.Fprintf(&b, "- [%s](./deliverables/%s)\n", name, name)
		}

		b.WriteString("\n## Tasks\n\n")
		for _, t := range p.Tasks {
			fmt.Fprintf(&b, "- %s %s (%s)\n", statusMarker(t.Status), t.Title, t.Team)
		}

		fmt.Fprintf(&b, "\n## Usage\n\n%d call(s), ~%d tokens\n", p.Usage.Calls, p.Usage.Tokens)
	})

	path := filepath.Join(o.store.ProjectDir(sess.ProjectID()), "README.md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		o.logger.Log("write summary failed: %v", err)
	}
}

// listDeliverables returns the sorted deliverable file names on disk.
func listDeliverables(store *state.Store, projectID string) []string {
	entries, err := os.ReadDir(store.DeliverablesDir(projectID))
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}
