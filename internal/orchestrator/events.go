package orchestrator

import (
	"sync/atomic"
	"time"
)

// EventType identifies an orchestrator progress event.
type EventType string

const (
	// EventPlanningStarted marks the start of the planning pass.
	EventPlanningStarted EventType = "planning_started"
	// EventPlanReady marks a validated plan.
	EventPlanReady EventType = "plan_ready"
	// EventPlanningError marks a failed or invalid plan.
	EventPlanningError EventType = "planning_error"
	// EventStageStarted marks the start of one stage pass.
	EventStageStarted EventType = "stage_started"
	// EventGroupCompleted marks one group summary.
	EventGroupCompleted EventType = "group_completed"
	// EventGroupDenied marks a group refused by resource admission.
	EventGroupDenied EventType = "group_denied"
	// EventProjectCompleted marks terminal success.
	EventProjectCompleted EventType = "project_completed"
	// EventProjectFailed marks terminal failure.
	EventProjectFailed EventType = "project_failed"
	// EventPaused marks a pause taking effect.
	EventPaused EventType = "paused"
	// EventResumed marks execution resuming.
	EventResumed EventType = "resumed"
)

// Event is one progress notification from the orchestrator. Events are
// advisory; the durable record is the project's event log on disk.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// ProjectID is the project the event belongs to.
	ProjectID string
	// GroupID names the related group, when applicable.
	GroupID string
	// Message carries human-readable context.
	Message string
	// Err carries failure detail for error events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// emitter fans events to a buffered channel, dropping (and counting)
// when the consumer falls behind rather than blocking execution.
type emitter struct {
	ch      chan Event
	dropped atomic.Uint64
}

func newEmitter(buffer int) *emitter {
	return &emitter{ch: make(chan Event, buffer)}
}

func (e *emitter) emit(ev Event) {
	ev.Timestamp = time.Now().UTC()
	select {
	case e.ch <- ev:
	default:
		e.dropped.Add(1)
	}
}

func (e *emitter) close() { close(e.ch) }
