package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/agent-worker/internal/api/domain"
	"github.com/cuongbtq/agent-worker/internal/api/dto"
	"github.com/cuongbtq/agent-worker/internal/api/model"
	"github.com/cuongbtq/agent-worker/internal/api/storage"
	workerdomain "github.com/cuongbtq/agent-worker/internal/worker/domain"
)

// CreateJob handles POST /api/v1/jobs
// Creates an internet search job and queues it for the workers
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	ctx := c.Request.Context()
	now := h.now()

	// 1. Create the PENDING job record
	job := model.Job{
		JobID:     uuid.New().String(),
		UserID:    req.UserID,
		JobType:   domain.JobTypeInternetSearch,
		Query:     req.Query,
		Status:    workerdomain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateJob(ctx, &job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	// 2. Queue it; a job that never reached the broker is failed right away
	queueID, err := h.enqueuer.Enqueue(ctx, job.JobID, job.Query)
	if err != nil {
		h.logger.Error("Failed to queue job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)

		_, markErr := h.store.UpdateJobStatus(ctx, job.JobID, storage.StatusChange{
			Status: workerdomain.JobStatusFailed,
			Error: &workerdomain.JobError{
				Message: domain.ErrEnqueueFailed.Error(),
				Type:    workerdomain.ErrorKindTransport,
			},
			UpdatedAt: h.now(),
		})
		if markErr != nil {
			h.logger.Error("Failed to mark unqueued job as failed",
				slog.String("job_id", job.JobID),
				slog.String("error", markErr.Error()),
			)
		}

		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "Failed to queue job",
			"job_id": job.JobID,
		})
		return
	}

	// 3. Record the broker id
	if err := h.store.SetQueueID(ctx, job.JobID, queueID); err != nil {
		h.logger.Warn("Failed to record queue id",
			slog.String("job_id", job.JobID),
			slog.String("queue_id", queueID),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("queue_id", queueID),
		slog.String("user_id", job.UserID),
	)

	c.JSON(http.StatusCreated, dto.CreateJobResponse{
		JobID:   job.JobID,
		QueueID: queueID,
		Status:  string(job.Status),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" && !workerdomain.JobStatus(req.Status).IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status filter",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = domain.DefaultPageSize
	}

	if req.PageSize > domain.MaxPageSize {
		req.PageSize = domain.MaxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		UserID:   req.UserID,
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// One extra row means there is another page
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// UpdateJob handles POST /redis.updateJob
// Applies a worker status report. Statuses only move forward.
func (h *JobHandler) UpdateJob(c *gin.Context) {
	var req dto.UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid status update body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	update, err := req.StatusUpdate()
	if err == nil {
		err = update.Validate()
	}
	if err != nil {
		h.logger.Error("Invalid status update",
			slog.String("job_id", req.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	job, err := h.store.UpdateJobStatus(c.Request.Context(), update.JobID, storage.StatusChange{
		Status:    update.Status,
		Result:    update.Result,
		Error:     update.Error,
		UpdatedAt: h.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, domain.ErrInvalidTransition):
			h.logger.Warn("Rejected status update",
				slog.String("job_id", update.JobID),
				slog.String("status", string(update.Status)),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusConflict, gin.H{
				"error": err.Error(),
			})
		default:
			h.logger.Error("Failed to update job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update job",
			})
		}
		return
	}

	h.logger.Info("Job status updated",
		slog.String("job_id", job.JobID),
		slog.String("status", string(job.Status)),
	)

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}
