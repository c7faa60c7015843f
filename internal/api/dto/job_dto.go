package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/agent-worker/internal/api/model"
	workerdomain "github.com/cuongbtq/agent-worker/internal/worker/domain"
)

type CreateJobRequest struct {
	Query  string `json:"query" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
}

type CreateJobResponse struct {
	JobID   string `json:"job_id"`
	QueueID string `json:"queue_id"`
	Status  string `json:"status"`
}

// UpdateJobRequest is the status update posted by workers. Error is either
// a plain message or a {message, type} object.
type UpdateJobRequest struct {
	JobID  string          `json:"jobId" binding:"required"`
	Status string          `json:"status" binding:"required"`
	Result *string         `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// StatusUpdate converts the request into the worker wire type
func (r *UpdateJobRequest) StatusUpdate() (workerdomain.StatusUpdate, error) {
	update := workerdomain.StatusUpdate{
		JobID:  r.JobID,
		Status: workerdomain.JobStatus(r.Status),
		Result: r.Result,
	}

	if len(r.Error) == 0 || string(r.Error) == "null" {
		return update, nil
	}

	var message string
	if err := json.Unmarshal(r.Error, &message); err == nil {
		update.Error = &workerdomain.JobError{Message: message, Type: workerdomain.ErrorKindAgent}
		return update, nil
	}

	var jobErr workerdomain.JobError
	if err := json.Unmarshal(r.Error, &jobErr); err != nil {
		return update, fmt.Errorf("error must be a string or {message, type}: %w", err)
	}
	update.Error = &jobErr
	return update, nil
}

type ListJobsRequest struct {
	UserID   string `form:"user_id"`
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID     string  `json:"job_id"`
	QueueID   *string `json:"queue_id,omitempty"`
	UserID    string  `json:"user_id"`
	JobType   string  `json:"job_type"`
	Query     string  `json:"query"`
	Status    string  `json:"status"`
	Result    *string `json:"result,omitempty"`
	Error     *string `json:"error,omitempty"`
	ErrorType *string `json:"error_type,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// NewJobDTO renders a stored job
func NewJobDTO(job *model.Job) JobDTO {
	return JobDTO{
		JobID:     job.JobID,
		QueueID:   job.QueueID,
		UserID:    job.UserID,
		JobType:   job.JobType,
		Query:     job.Query,
		Status:    string(job.Status),
		Result:    job.Result,
		Error:     job.ErrorMessage,
		ErrorType: job.ErrorType,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
