package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/agent-worker/internal/api/model"
	"github.com/cuongbtq/agent-worker/internal/api/queue"
	"github.com/cuongbtq/agent-worker/internal/api/storage"
)

// JobStore is the persistence the handlers need
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	SetQueueID(ctx context.Context, jobID, queueID string) error
	GetJobByID(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, change storage.StatusChange) (*model.Job, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Store    JobStore
	Enqueuer queue.Enqueuer
	// HealthCheck probes the database; nil reports healthy
	HealthCheck func(ctx context.Context) error
	// Now is overridable in tests
	Now func() time.Time
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger   *slog.Logger
	store    JobStore
	enqueuer queue.Enqueuer
	now      func() time.Time
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &JobHandler{
		logger:   deps.Logger,
		store:    deps.Store,
		enqueuer: deps.Enqueuer,
		now: func() time.Time {
			// Microseconds keep timestamps identical across drivers
			return now().UTC().Truncate(time.Microsecond)
		},
	}
}
