package domain

import (
	"context"
	"time"
)

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
)

// JobKind names what a Job executes.
type JobKind string

const (
	JobKindPrompt  JobKind = "prompt"
	JobKindCommand JobKind = "command"
)

// CancelledByUser is the error recorded on a job cancelled through the API.
const CancelledByUser = "Process cancelled by user"

// IsTerminal reports whether s is completed or error.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobError
}

// CanTransition reports whether a job in status s may move to next.
// Transitions are one-directional: pending -> running -> {completed, error}.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning
	case JobRunning:
		return next == JobCompleted || next == JobError
	default:
		return false
	}
}

// Job is a unit of asynchronous work submitted by a remote caller.
type Job struct {
	ID          string    `json:"id"`
	Kind        JobKind   `json:"kind"`
	Status      JobStatus `json:"status"`
	ProjectPath string    `json:"projectPath,omitempty"`
	Command     string    `json:"command,omitempty"`
	Args        []string  `json:"args,omitempty"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	DurationMs  int64     `json:"durationMs,omitempty"`
}

// JobArchive persists terminal jobs for later inspection.
type JobArchive interface {
	Archive(ctx context.Context, job Job) error
	Recent(ctx context.Context, limit int) ([]Job, error)
}
