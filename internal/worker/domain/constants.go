package domain

import "time"

// JobStatus is the lifecycle state of a job as reported to the status server
type JobStatus string

// Job status constants
const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Outcome values carried in ProcessingResult.Status
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Queue consumption policy. These are fixed and never taken from a job payload.
const (
	QueueName       = "ai_agents_queue"
	TaskTypeSearch  = "internet_search"
	LockDuration    = 180000 * time.Millisecond
	Concurrency     = 1
	LimiterMax      = 1
	LimiterDuration = 1000 * time.Millisecond
)

// Validation messages
const (
	MsgNoJobID = "No jobId provided in job data"
	MsgNoQuery = "No query provided in job data"
)

// IsValid reports whether s is one of the known statuses
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions may follow s
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the status
// monotonic. Terminal states are sinks.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next.IsTerminal()
	case JobStatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}
