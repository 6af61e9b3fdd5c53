package models

import "time"

// ArtifactKind distinguishes raw LLM output from extracted deliverables.
type ArtifactKind string

const (
	// KindRawOutput is the verbatim text emitted by an LLM CLI for one
	// task, persisted under artifacts/<task_id>/.
	KindRawOutput ArtifactKind = "raw_output"
	// KindDeliverable is a named file extracted from raw output,
	// persisted under deliverables/.
	KindDeliverable ArtifactKind = "deliverable"
)

// Valid returns true if the kind is a known value.
func (k ArtifactKind) Valid() bool {
	return k == KindRawOutput || k == KindDeliverable
}

// Artifact describes one persisted output file. The byte stream itself
// lives on disk; this record is its metadata.
type Artifact struct {
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// TaskID is the task that produced the artifact.
	TaskID string `json:"task_id"`
	// Kind is raw_output or deliverable.
	Kind ArtifactKind `json:"kind"`
	// Name is the file name, unique within its namespace.
	Name string `json:"name"`
	// CreatedAt is when the artifact was written.
	CreatedAt time.Time `json:"created_at"`
	// SHA is the hex SHA-256 of the file content.
	SHA string `json:"sha"`
}
