package model

import (
	"time"

	workerdomain "github.com/cuongbtq/agent-worker/internal/worker/domain"
)

// Job is a row of the jobs table
type Job struct {
	JobID        string                 `db:"job_id"`
	QueueID      *string                `db:"queue_id"`
	UserID       string                 `db:"user_id"`
	JobType      string                 `db:"job_type"`
	Query        string                 `db:"query"`
	Status       workerdomain.JobStatus `db:"status"`
	Result       *string                `db:"result"`
	ErrorMessage *string                `db:"error_message"`
	ErrorType    *string                `db:"error_type"`
	CreatedAt    time.Time              `db:"created_at"`
	UpdatedAt    time.Time              `db:"updated_at"`
}
