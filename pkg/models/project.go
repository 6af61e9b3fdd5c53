// Package models defines the shared domain types for the orchestration
// system: projects, tasks, artifacts, execution plans, and resource
// allocations. The on-disk state.json schema is the JSON encoding of
// Project.
package models

import (
	"sort"
	"time"
)

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	// StatusPlanning indicates the project manager has not yet produced
	// a validated task list.
	StatusPlanning ProjectStatus = "planning"
	// StatusExecuting indicates stages are being executed.
	StatusExecuting ProjectStatus = "executing"
	// StatusComplete indicates every task completed.
	StatusComplete ProjectStatus = "complete"
	// StatusFailed indicates at least one task failed permanently and no
	// task remains executable.
	StatusFailed ProjectStatus = "failed"
	// StatusPaused indicates execution is suspended; outstanding workers
	// ran to completion and no new work is admitted.
	StatusPaused ProjectStatus = "paused"
)

// Valid returns true if the status is a known value.
func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusPlanning, StatusExecuting, StatusComplete, StatusFailed, StatusPaused:
		return true
	default:
		return false
	}
}

// AgentUsage tracks per-agent token and call counts.
type AgentUsage struct {
	// Tokens is the estimated token count consumed by the agent.
	Tokens int64 `json:"tokens"`
	// Calls is the number of LLM CLI invocations made by the agent.
	Calls int64 `json:"calls"`
}

// Usage aggregates LLM consumption across a project.
type Usage struct {
	// Tokens is the estimated total token count.
	Tokens int64 `json:"tokens"`
	// Calls is the total number of LLM CLI invocations.
	Calls int64 `json:"calls"`
	// PerAgent breaks usage down by agent ID.
	PerAgent map[string]*AgentUsage `json:"per_agent,omitempty"`
}

// Project is the root of the persisted state tree. One state.json file
// holds exactly one Project.
type Project struct {
	// Version increases monotonically with every save. Readers refuse
	// files whose version is older than one they have already observed.
	Version int64 `json:"version"`
	// ID is the opaque unique project identifier.
	ID string `json:"project_id"`
	// Objective is the natural-language goal given by the caller.
	Objective string `json:"objective"`
	// Status is the lifecycle state.
	Status ProjectStatus `json:"status"`
	// CreatedAt is when the project was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is bumped on every mutation.
	UpdatedAt time.Time `json:"updated_at"`
	// Tasks holds all tasks keyed by insertion order. Lookup helpers
	// provide map semantics by ID.
	Tasks []*Task `json:"tasks"`
	// Usage aggregates LLM consumption.
	Usage Usage `json:"usage"`
	// ConfigSnapshot preserves the effective configuration at creation.
	ConfigSnapshot map[string]any `json:"config_snapshot,omitempty"`
}

// Task returns the task with the given ID, or nil if not found.
func (p *Project) Task(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// TaskMap returns the tasks indexed by ID.
func (p *Project) TaskMap() map[string]*Task {
	m := make(map[string]*Task, len(p.Tasks))
	for _, t := range p.Tasks {
		m[t.ID] = t
	}
	return m
}

// ReadyTasks returns queued tasks whose dependencies are all complete,
// sorted by ID for deterministic scheduling.
func (p *Project) ReadyTasks() []*Task {
	m := p.TaskMap()
	var ready []*Task
	for _, t := range p.Tasks {
		if t.ReadyIn(m) {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// IncompleteTasks returns tasks that have not completed.
func (p *Project) IncompleteTasks() []*Task {
	var out []*Task
	for _, t := range p.Tasks {
		if t.Status != TaskStatusComplete {
			out = append(out, t)
		}
	}
	return out
}

// AllComplete reports whether every task completed. An empty task list
// counts as complete.
func (p *Project) AllComplete() bool {
	for _, t := range p.Tasks {
		if t.Status != TaskStatusComplete {
			return false
		}
	}
	return true
}

// HasExecutable reports whether any task could still make progress: a
// ready task now, or a queued task whose dependencies have not failed.
func (p *Project) HasExecutable() bool {
	m := p.TaskMap()
	for _, t := range p.Tasks {
		if t.Status != TaskStatusQueued {
			continue
		}
		blocked := false
		for _, dep := range t.DependsOn {
			d, ok := m[dep]
			if !ok || d.Status == TaskStatusFailed || d.Status == TaskStatusBlocked {
				blocked = true
				break
			}
		}
		if !blocked {
			return true
		}
	}
	return false
}

// RecordUsage adds token and call counts for one agent to the aggregate.
func (p *Project) RecordUsage(agentID string, tokens int64) {
	p.Usage.Tokens += tokens
	p.Usage.Calls++
	if p.Usage.PerAgent == nil {
		p.Usage.PerAgent = make(map[string]*AgentUsage)
	}
	au := p.Usage.PerAgent[agentID]
	if au == nil {
		au = &AgentUsage{}
		p.Usage.PerAgent[agentID] = au
	}
	au.Tokens += tokens
	au.Calls++
	p.UpdatedAt = time.Now().UTC()
}

// Touch bumps the updated-at timestamp.
func (p *Project) Touch() {
	p.UpdatedAt = time.Now().UTC()
}
