package agent

import (
	"fmt"
	"strings"

	"github.com/jcushman97/MAOFinal/pkg/models"
)

// templates holds the per-specialty prompt preambles. The preamble sets
// the role; the body is built from the task and its completed upstream
// context.
var templates = map[Specialty]string{
	SpecialtyGeneral: "You are a software specialist completing one focused task.",
	SpecialtyHTML: "You are an HTML specialist. Produce complete, semantic, accessible markup. " +
		"Emit full files in fenced code blocks tagged with their language.",
	SpecialtyCSS: "You are a CSS specialist. Produce clean, responsive stylesheets. " +
		"Emit full files in fenced code blocks tagged with their language.",
	SpecialtyJS: "You are a JavaScript specialist. Produce working, dependency-free browser code. " +
		"Emit full files in fenced code blocks tagged with their language.",
	SpecialtyAPI: "You are a backend API specialist. Design and implement endpoints with clear contracts. " +
		"Emit full files in fenced code blocks tagged with their language.",
	SpecialtyDB: "You are a database specialist. Produce schemas and queries that are correct and indexed sensibly. " +
		"Emit full files in fenced code blocks tagged with their language.",
	SpecialtySecurity: "You are a security specialist. Review and implement with attention to auth, injection and data exposure.",
	SpecialtyQAHTML: "You are an HTML validation specialist. Check structure, semantics and accessibility only. " +
		"Report findings as a concise list using [PASS] and [FAIL] markers. Keep validation atomic and time-bounded.",
	SpecialtyQACSS: "You are a CSS validation specialist. Check syntax, responsiveness and consistency only. " +
		"Report findings as a concise list using [PASS] and [FAIL] markers. Keep validation atomic and time-bounded.",
	SpecialtyQAJS: "You are a JavaScript validation specialist. Check behavior, errors and edge cases only. " +
		"Report findings as a concise list using [PASS] and [FAIL] markers. Keep validation atomic and time-bounded.",
	SpecialtyQAPerf: "You are a performance testing specialist. Check load weight, asset sizes and render cost only. " +
		"Report findings as a concise list using [PASS] and [FAIL] markers. Keep analysis atomic and time-bounded.",
}

// depContext is one completed dependency's contribution to a prompt.
type depContext struct {
	// Title is the dependency's task title.
	Title string
	// Summary is a bounded excerpt of its raw output.
	Summary string
}

// maxDepSummary bounds how much upstream output is quoted per dependency.
const maxDepSummary = 400

// BuildPrompt assembles the worker prompt from the specialty template,
// the project objective, the task fields, and summaries of completed
// dependencies.
func BuildPrompt(specialty Specialty, objective string, task *models.Task, deps []depContext) string {
	var b strings.Builder

	preamble, ok := templates[specialty]
	if !ok {
		preamble = templates[SpecialtyGeneral]
	}
	b.WriteString(preamble)
	b.WriteString("\n\nPROJECT OBJECTIVE:\n")
	b.WriteString(objective)
	b.WriteString("\n\nTASK: ")
	b.WriteString(task.Title)
	if task.Description != "" {
		b.WriteString("\n")
		b.WriteString(task.Description)
	}

	if len(deps) > 0 {
		b.WriteString("\n\nCOMPLETED UPSTREAM WORK:")
		for _, d := range deps {
			b.WriteString(fmt.Sprintf("\n- %s", d.Title))
			if d.Summary != "" {
				b.WriteString(": ")
				b.WriteString(d.Summary)
			}
		}
	}

	b.WriteString("\n\nExecute this task now and provide concrete output. " +
		"If the task produces code, emit complete files.")
	return b.String()
}

// truncateSummary bounds a dependency excerpt, cutting at a line break
// where possible.
func truncateSummary(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDepSummary {
		return s
	}
	cut := s[:maxDepSummary]
	if i := strings.LastIndexByte(cut, '\n'); i > maxDepSummary/2 {
		cut = cut[:i]
	}
	return cut + " ..."
}
