// Package artifact converts free-form LLM output into persisted files:
// the verbatim raw output under artifacts/<task_id>/, plus any
// deliverables the extraction strategies recognize under deliverables/.
// A SQLite catalog indexes artifact metadata for the status surfaces.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jcushman97/MAOFinal/internal/ascii"
	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

// rawOutputName is the file name of every task's raw output artifact.
const rawOutputName = "raw_output.txt"

// ExtractResult reports what one extraction pass persisted.
type ExtractResult struct {
	// Raw is the always-written raw output artifact.
	Raw models.Artifact
	// RawRef is the path of the raw artifact relative to the project
	// directory, stored on the task as result_ref.
	RawRef string
	// Deliverables lists extracted files, in strategy order.
	Deliverables []models.Artifact
}

// Extractor persists raw outputs and extracted deliverables.
type Extractor struct {
	store   *state.Store
	catalog *Catalog
}

// NewExtractor creates an Extractor writing through the given store.
// The catalog is optional; when nil, no metadata index is kept.
func NewExtractor(store *state.Store, catalog *Catalog) *Extractor {
	return &Extractor{store: store, catalog: catalog}
}

// block is one candidate deliverable produced by a strategy.
type block struct {
	ext     string
	content string
}

// Extract writes the raw output artifact, runs every extraction strategy
// in order, and persists each matched block as a deliverable. All bytes
// written pass the ASCII sanitizer. Extraction is deterministic: the
// same input yields the same names and SHAs, and a rerun over identical
// content reuses existing files instead of duplicating them.
func (e *Extractor) Extract(projectID string, task *models.Task, raw string) (*ExtractResult, error) {
	raw = ascii.Sanitize(raw)

	rawDir := e.store.ArtifactsDir(projectID, task.ID)
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	rawPath := filepath.Join(rawDir, rawOutputName)
	if err := os.WriteFile(rawPath, []byte(raw), 0o644); err != nil {
		return nil, fmt.Errorf("write raw output: %w", err)
	}

	res := &ExtractResult{
		Raw: models.Artifact{
			ProjectID: projectID,
			TaskID:    task.ID,
			Kind:      models.KindRawOutput,
			Name:      rawOutputName,
			CreatedAt: time.Now().UTC(),
			SHA:       shaHex(raw),
		},
		RawRef: filepath.Join("artifacts", task.ID, rawOutputName),
	}
	e.record(res.Raw)

	blocks := collectBlocks(raw)
	if len(blocks) == 0 {
		return res, nil
	}

	delivDir := e.store.DeliverablesDir(projectID)
	if err := os.MkdirAll(delivDir, 0o755); err != nil {
		return nil, fmt.Errorf("create deliverables dir: %w", err)
	}

	base := slug(task.Title)
	claimed := make(map[string]bool)
	for _, b := range blocks {
		name, reused, err := placeDeliverable(delivDir, base, b, claimed)
		if err != nil {
			return nil, err
		}
		claimed[name] = true
		a := models.Artifact{
			ProjectID: projectID,
			TaskID:    task.ID,
			Kind:      models.KindDeliverable,
			Name:      name,
			CreatedAt: time.Now().UTC(),
			SHA:       shaHex(b.content),
		}
		res.Deliverables = append(res.Deliverables, a)
		if !reused {
			e.record(a)
		}
	}

	log.Printf("[artifact] task %s: %d deliverable(s) extracted", task.ID, len(res.Deliverables))
	return res, nil
}

// record writes catalog metadata, tolerating catalog absence.
func (e *Extractor) record(a models.Artifact) {
	if e.catalog == nil {
		return
	}
	if err := e.catalog.Record(a); err != nil {
		log.Printf("[artifact] catalog record failed for %s: %v", a.Name, err)
	}
}

// placeDeliverable writes one block under a collision-free name. When an
// existing file already holds identical content the name is reused
// without rewriting, which keeps reruns from duplicating deliverables.
func placeDeliverable(dir, base string, b block, claimed map[string]bool) (string, bool, error) {
	name := base + b.ext
	counter := 1
	for {
		path := filepath.Join(dir, name)
		taken := claimed[name]
		existing, err := os.ReadFile(path)
		exists := err == nil

		if exists && string(existing) == b.content && !taken {
			return name, true, nil
		}
		if !exists && !taken {
			if err := os.WriteFile(path, []byte(b.content), 0o644); err != nil {
				return "", false, fmt.Errorf("write deliverable %s: %w", name, err)
			}
			return name, false, nil
		}

		// Collision: append the next counter to the current stem, so
		// successive collisions yield base_1, base_1_2, base_1_2_3.
		stem := strings.TrimSuffix(name, b.ext)
		name = fmt.Sprintf("%s_%d%s", stem, counter, b.ext)
		counter++
	}
}

// collectBlocks runs every strategy in order and deduplicates by content.
func collectBlocks(raw string) []block {
	seen := make(map[string]bool)
	var out []block
	for _, strategy := range []func(string) []block{
		extractFenced,
		extractInlineHTML,
		extractInlineCSS,
		extractInlineJS,
		extractPermissionProse,
	} {
		for _, b := range strategy(raw) {
			b.content = strings.TrimSpace(b.content)
			if b.content == "" || seen[b.content] {
				continue
			}
			seen[b.content] = true
			out = append(out, b)
		}
	}
	return out
}

var (
	fencedRe = regexp.MustCompile("(?s)```([a-zA-Z0-9]*)\n(.*?)\n```")
	htmlRe   = regexp.MustCompile(`(?is)(?:<!DOCTYPE[^>]*>\s*)?<html[^>]*>.*?</html>`)
	cssRe    = regexp.MustCompile(`(?s)(?:[.#*]?[\w-]+\s*\{[^{}]*\}\s*){1,}`)
	jsRe     = regexp.MustCompile(`(?m)^\s*(?:function\s+\w+\s*\(|const\s+\w+\s*=|let\s+\w+\s*=|var\s+\w+\s*=|class\s+\w+)`)
)

// extensionFor maps a fence language tag to a file extension.
func extensionFor(lang string) string {
	switch strings.ToLower(lang) {
	case "html", "htm":
		return ".html"
	case "css":
		return ".css"
	case "javascript", "js":
		return ".js"
	case "python", "py":
		return ".py"
	case "json":
		return ".json"
	case "go", "golang":
		return ".go"
	case "", "text", "txt", "plain":
		return ".txt"
	default:
		return "." + strings.ToLower(lang)
	}
}

// extractFenced pulls markdown code fences, extension from language tag.
func extractFenced(raw string) []block {
	var out []block
	for _, m := range fencedRe.FindAllStringSubmatch(raw, -1) {
		if strings.TrimSpace(m[2]) == "" {
			continue
		}
		out = append(out, block{ext: extensionFor(m[1]), content: m[2]})
	}
	return out
}

// stripFences removes fenced regions so inline heuristics only see prose.
func stripFences(raw string) string {
	return fencedRe.ReplaceAllString(raw, "")
}

// extractInlineHTML matches unfenced full documents.
func extractInlineHTML(raw string) []block {
	var out []block
	for _, m := range htmlRe.FindAllString(stripFences(raw), -1) {
		if len(strings.TrimSpace(m)) > 50 {
			out = append(out, block{ext: ".html", content: m})
		}
	}
	return out
}

// extractInlineCSS matches runs of selector + rule-body pairs.
func extractInlineCSS(raw string) []block {
	var out []block
	for _, m := range cssRe.FindAllString(stripFences(raw), -1) {
		m = strings.TrimSpace(m)
		if len(m) > 30 && strings.Contains(m, "{") && strings.Contains(m, "}") {
			out = append(out, block{ext: ".css", content: m})
		}
	}
	return out
}

// extractInlineJS matches paragraphs that open like JavaScript.
func extractInlineJS(raw string) []block {
	var out []block
	for _, para := range strings.Split(stripFences(raw), "\n\n") {
		para = strings.TrimSpace(para)
		if len(para) > 30 && jsRe.MatchString(para) && !strings.Contains(para, "{@") {
			out = append(out, block{ext: ".js", content: para})
		}
	}
	return out
}

// permissionPhrases signal an agent that described a file instead of
// emitting it.
var permissionPhrases = []string{
	"permission to write",
	"need permissions",
	"once permissions are granted",
	"would you like me to save",
	"ready to be saved",
}

// extractPermissionProse recovers file bodies from "permission to write"
// style responses: the proposed content is the block following the
// phrase.
func extractPermissionProse(raw string) []block {
	lower := strings.ToLower(raw)
	matched := false
	for _, phrase := range permissionPhrases {
		if strings.Contains(lower, phrase) {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	// The proposed body is whatever structured block follows the prose.
	var out []block
	for _, para := range strings.Split(raw, "\n\n") {
		para = strings.TrimSpace(para)
		if len(para) < 20 {
			continue
		}
		switch {
		case strings.Contains(para, "<") && strings.Contains(para, ">") && strings.Contains(strings.ToLower(para), "html"):
			out = append(out, block{ext: ".html", content: para})
		case strings.Contains(para, "{") && strings.Contains(para, "}") && strings.Contains(strings.ToLower(para), "css"):
			out = append(out, block{ext: ".css", content: para})
		case jsRe.MatchString(para):
			out = append(out, block{ext: ".js", content: para})
		}
	}
	return out
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// slug derives a file base name from a task title; "code" when nothing
// usable remains.
func slug(title string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "code"
	}
	if len(s) > 60 {
		s = s[:60]
		s = strings.Trim(s, "-")
	}
	return s
}

// shaHex returns the hex SHA-256 of a string.
func shaHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
