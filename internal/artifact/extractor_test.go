package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

func newTestExtractor(t *testing.T) (*Extractor, *state.Store, string) {
	t.Helper()
	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p, err := st.Create("test objective", nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewExtractor(st, nil), st, p.ID
}

func task(id, title string) *models.Task {
	return &models.Task{ID: id, Title: title, Team: models.TeamGeneral, Status: models.TaskStatusInProgress}
}

func TestExtractAlwaysWritesRawOutput(t *testing.T) {
	e, st, pid := newTestExtractor(t)

	res, err := e.Extract(pid, task("t1", "Say OK"), "OK")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Raw.Kind != models.KindRawOutput {
		t.Errorf("raw kind = %s", res.Raw.Kind)
	}
	data, err := os.ReadFile(filepath.Join(st.ArtifactsDir(pid, "t1"), "raw_output.txt"))
	if err != nil {
		t.Fatalf("raw output not written: %v", err)
	}
	if string(data) != "OK" {
		t.Errorf("raw content = %q", data)
	}
	if len(res.Deliverables) != 0 {
		t.Errorf("expected no deliverables for plain prose, got %d", len(res.Deliverables))
	}
	if res.RawRef != filepath.Join("artifacts", "t1", "raw_output.txt") {
		t.Errorf("raw ref = %q", res.RawRef)
	}
}

func TestExtractFencedBlocks(t *testing.T) {
	e, st, pid := newTestExtractor(t)

	raw := "Here is the page:\n```html\n<h1>Hi</h1>\n```\nAnd the styles:\n```css\nbody { color: red; }\n```\n"
	res, err := e.Extract(pid, task("t1", "Build Landing Page"), raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Deliverables) != 2 {
		t.Fatalf("expected 2 deliverables, got %d", len(res.Deliverables))
	}
	if res.Deliverables[0].Name != "build-landing-page.html" {
		t.Errorf("first deliverable = %q", res.Deliverables[0].Name)
	}
	if res.Deliverables[1].Name != "build-landing-page.css" {
		t.Errorf("second deliverable = %q", res.Deliverables[1].Name)
	}
	content, err := os.ReadFile(filepath.Join(st.DeliverablesDir(pid), "build-landing-page.css"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "color: red") {
		t.Errorf("css content = %q", content)
	}
}

func TestExtractCollisionSuffixes(t *testing.T) {
	e, _, pid := newTestExtractor(t)

	raw := "```js\nconst a = 1;\n```\n```js\nconst b = 2;\n```\n```js\nconst c = 3;\n```\n"
	res, err := e.Extract(pid, task("t1", "Scripts"), raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Deliverables) != 3 {
		t.Fatalf("expected 3 deliverables, got %d", len(res.Deliverables))
	}
	want := []string{"scripts.js", "scripts_1.js", "scripts_1_2.js"}
	for i, w := range want {
		if res.Deliverables[i].Name != w {
			t.Errorf("deliverable[%d] = %q, want %q", i, res.Deliverables[i].Name, w)
		}
	}
}

func TestExtractDeterministicRerun(t *testing.T) {
	e, _, pid := newTestExtractor(t)
	raw := "```html\n<h1>stable</h1>\n```"

	first, err := e.Extract(pid, task("t1", "Page"), raw)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Extract(pid, task("t1", "Page"), raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Deliverables) != 1 || len(second.Deliverables) != 1 {
		t.Fatalf("deliverable counts: %d then %d", len(first.Deliverables), len(second.Deliverables))
	}
	if first.Deliverables[0].Name != second.Deliverables[0].Name {
		t.Errorf("rerun produced different name: %q vs %q", first.Deliverables[0].Name, second.Deliverables[0].Name)
	}
	if first.Deliverables[0].SHA != second.Deliverables[0].SHA {
		t.Errorf("rerun produced different sha")
	}
	if first.Raw.SHA != second.Raw.SHA {
		t.Errorf("raw sha changed across reruns")
	}
}

func TestExtractInlineHTML(t *testing.T) {
	e, _, pid := newTestExtractor(t)

	raw := "Here is your page.\n<!DOCTYPE html>\n<html><head><title>x</title></head><body><p>content here</p></body></html>\nDone."
	res, err := e.Extract(pid, task("t1", "Homepage"), raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Deliverables) != 1 {
		t.Fatalf("expected 1 deliverable, got %d", len(res.Deliverables))
	}
	if res.Deliverables[0].Name != "homepage.html" {
		t.Errorf("name = %q", res.Deliverables[0].Name)
	}
}

func TestExtractSanitizesWrittenBytes(t *testing.T) {
	e, st, pid := newTestExtractor(t)

	raw := "```html\n<p>status → ✅</p>\n```"
	_, err := e.Extract(pid, task("t1", "Status Page"), raw)
	if err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(filepath.Join(st.DeliverablesDir(pid), "status-page.html"))
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range string(content) {
		if r > 127 {
			t.Fatalf("non-ASCII byte in deliverable: %q", r)
		}
	}
	if !strings.Contains(string(content), "[PASS]") {
		t.Errorf("replacement table not applied: %q", content)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Build Landing Page", "build-landing-page"},
		{"  !!!  ", "code"},
		{"", "code"},
		{"CSS: grid & flexbox", "css-grid-flexbox"},
	}
	for _, tt := range tests {
		if got := slug(tt.in); got != tt.want {
			t.Errorf("slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCatalogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cat, err := OpenCatalog(CatalogPath(dir))
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	defer cat.Close()

	st, _ := state.NewStore(dir)
	p, _ := st.Create("objective", nil)
	e := NewExtractor(st, cat)

	if _, err := e.Extract(p.ID, task("t1", "Page"), "```html\n<h1>x</h1>\n```"); err != nil {
		t.Fatal(err)
	}

	arts, err := cat.ListByProject(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 2 {
		t.Fatalf("expected 2 catalog rows (deliverable + raw), got %d", len(arts))
	}

	n, err := cat.CountByKind(p.ID, models.KindDeliverable)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deliverable count = %d", n)
	}
}
