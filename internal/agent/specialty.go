// Package agent implements workers: the leaf executors that turn one
// ready task into artifacts by invoking an LLM CLI. A worker owns the
// full lifecycle of a single task attempt chain, including retries with
// backoff and the hard atomic ceiling for QA validation work.
package agent

import (
	"strings"
	"time"

	"github.com/jcushman97/MAOFinal/pkg/models"
)

// Specialty is a closed sub-tag under a team. It selects a prompt
// template and, for QA specialties, the atomic time bound; it never
// changes the worker contract.
type Specialty string

const (
	// SpecialtyGeneral is the fallback for unclassified work.
	SpecialtyGeneral Specialty = "general"
	// SpecialtyHTML builds page structure.
	SpecialtyHTML Specialty = "html"
	// SpecialtyCSS builds styling.
	SpecialtyCSS Specialty = "css"
	// SpecialtyJS builds client behavior.
	SpecialtyJS Specialty = "js"
	// SpecialtyAPI builds server endpoints.
	SpecialtyAPI Specialty = "api"
	// SpecialtyDB builds data models and queries.
	SpecialtyDB Specialty = "db"
	// SpecialtySecurity handles auth and hardening work.
	SpecialtySecurity Specialty = "security"
	// SpecialtyQAHTML validates HTML structure.
	SpecialtyQAHTML Specialty = "qa-html"
	// SpecialtyQACSS validates stylesheets.
	SpecialtyQACSS Specialty = "qa-css"
	// SpecialtyQAJS validates script behavior.
	SpecialtyQAJS Specialty = "qa-js"
	// SpecialtyQAPerf checks performance budgets.
	SpecialtyQAPerf Specialty = "qa-perf"
)

// AtomicCeiling is the hard wall-clock bound for QA specialties,
// overriding adaptive timeout scaling. Exceeding it fails the task
// without retry so validation loops stay bounded.
const AtomicCeiling = 180 * time.Second

// IsQA reports whether the specialty carries the atomic ceiling.
func (s Specialty) IsQA() bool {
	switch s {
	case SpecialtyQAHTML, SpecialtyQACSS, SpecialtyQAJS, SpecialtyQAPerf:
		return true
	default:
		return false
	}
}

// keywordRule maps description keywords to a specialty within a team.
type keywordRule struct {
	keywords  []string
	specialty Specialty
}

// Rules are ordered: the first match wins.
var specialtyRules = map[models.Team][]keywordRule{
	models.TeamFrontend: {
		{[]string{"css", "style", "styling", "layout"}, SpecialtyCSS},
		{[]string{"javascript", "js", "interactiv", "behavior"}, SpecialtyJS},
		{[]string{"html", "markup", "page", "structure"}, SpecialtyHTML},
	},
	models.TeamBackend: {
		{[]string{"database", "db", "schema", "sql", "storage"}, SpecialtyDB},
		{[]string{"security", "auth", "login", "permission"}, SpecialtySecurity},
		{[]string{"api", "endpoint", "server", "route"}, SpecialtyAPI},
	},
	models.TeamQA: {
		{[]string{"css", "style"}, SpecialtyQACSS},
		{[]string{"javascript", "js"}, SpecialtyQAJS},
		{[]string{"performance", "perf", "speed", "budget"}, SpecialtyQAPerf},
		{[]string{"html", "markup", "structure"}, SpecialtyQAHTML},
	},
}

// teamDefaults apply when no keyword rule matches.
var teamDefaults = map[models.Team]Specialty{
	models.TeamFrontend: SpecialtyHTML,
	models.TeamBackend:  SpecialtyAPI,
	models.TeamQA:       SpecialtyQAHTML,
	models.TeamGeneral:  SpecialtyGeneral,
}

// SelectSpecialty is the pure mapping (team, task text) -> specialty.
// Tasks carrying an explicit valid specialty tag keep it.
func SelectSpecialty(task *models.Task) Specialty {
	if task.Specialty != "" {
		s := Specialty(task.Specialty)
		if _, ok := templates[s]; ok {
			return s
		}
	}

	text := strings.ToLower(task.Title + " " + task.Description)
	for _, rule := range specialtyRules[task.Team] {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.specialty
			}
		}
	}
	if d, ok := teamDefaults[task.Team]; ok {
		return d
	}
	return SpecialtyGeneral
}

// atomicKeywords mark tasks the team lead must treat as atomic
// validation work: specialty-matched worker, hard time bound.
var atomicKeywords = []string{
	"validate", "check", "verify", "test", "audit",
	"html", "css", "javascript", "performance",
}

// IsAtomicValidation reports whether a task description matches the
// atomic-validation keyword set.
func IsAtomicValidation(task *models.Task) bool {
	text := strings.ToLower(task.Title + " " + task.Description)
	for _, kw := range atomicKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
