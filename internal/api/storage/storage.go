package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/agent-worker/internal/api/domain"
	"github.com/cuongbtq/agent-worker/internal/api/model"
	workerdomain "github.com/cuongbtq/agent-worker/internal/worker/domain"
)

// Schema creates the jobs table. Types are portable between PostgreSQL and
// SQLite.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id        VARCHAR(64)  PRIMARY KEY,
	queue_id      VARCHAR(128) NULL,
	user_id       VARCHAR(128) NOT NULL,
	job_type      VARCHAR(64)  NOT NULL,
	query         TEXT         NOT NULL,
	status        VARCHAR(32)  NOT NULL,
	result        TEXT         NULL,
	error_message TEXT         NULL,
	error_type    VARCHAR(32)  NULL,
	created_at    TIMESTAMP    NOT NULL,
	updated_at    TIMESTAMP    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs (user_id, created_at DESC, job_id DESC);
`

const jobColumns = `
	job_id, queue_id, user_id, job_type, query, status,
	result, error_message, error_type, created_at, updated_at
`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

// Migrate creates the schema if it does not exist
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Storage) CreateJob(ctx context.Context, job *model.Job) error {
	query := s.db.Rebind(`
		INSERT INTO jobs (` + jobColumns + `) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?
		)
	`)

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.QueueID,
		job.UserID,
		job.JobType,
		job.Query,
		job.Status,
		job.Result,
		job.ErrorMessage,
		job.ErrorType,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// SetQueueID records the broker's id for an enqueued job
func (s *Storage) SetQueueID(ctx context.Context, jobID, queueID string) error {
	query := s.db.Rebind(`UPDATE jobs SET queue_id = ? WHERE job_id = ?`)

	result, err := s.db.ExecContext(ctx, query, queueID, jobID)
	if err != nil {
		return fmt.Errorf("failed to set queue id: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE job_id = ?`)

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

type JobFilter struct {
	UserID   string
	JobType  string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}

	// Filters
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}

	if filter.JobType != "" {
		query += " AND job_type = ?"
		args = append(args, filter.JobType)
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND job_id < ?))"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.JobID)
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += " LIMIT ?"
	args = append(args, filter.PageSize+1)

	var jobs []model.Job
	err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// StatusChange is a status update reported by a worker
type StatusChange struct {
	Status    workerdomain.JobStatus
	Result    *string
	Error     *workerdomain.JobError
	UpdatedAt time.Time
}

// UpdateJobStatus applies a status change only if it moves the job forward.
// Repeating the terminal update a job already holds is a no-op.
func (s *Storage) UpdateJobStatus(ctx context.Context, jobID string, change StatusChange) (*model.Job, error) {
	var errMessage, errType *string
	if change.Error != nil {
		msg, kind := change.Error.Message, string(change.Error.Type)
		errMessage, errType = &msg, &kind
	}

	from := allowedPredecessors(change.Status)
	if len(from) > 0 {
		query, args, err := sqlx.In(`
			UPDATE jobs
			SET status = ?, result = ?, error_message = ?, error_type = ?, updated_at = ?
			WHERE job_id = ? AND status IN (?)
		`, change.Status, change.Result, errMessage, errType, change.UpdatedAt, jobID, from)
		if err != nil {
			return nil, fmt.Errorf("failed to build update query: %w", err)
		}

		result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to update job status: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rows == 1 {
			return s.GetJobByID(ctx, jobID)
		}
	}

	// Nothing changed: either the job does not exist or the move is not allowed
	job, err := s.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status == change.Status && change.Status.IsTerminal() &&
		equalPtr(job.Result, change.Result) &&
		equalPtr(job.ErrorMessage, errMessage) &&
		equalPtr(job.ErrorType, errType) {
		return job, nil
	}

	return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, change.Status)
}

// allowedPredecessors lists the statuses a job may hold before moving to next
func allowedPredecessors(next workerdomain.JobStatus) []workerdomain.JobStatus {
	var from []workerdomain.JobStatus
	for _, s := range []workerdomain.JobStatus{
		workerdomain.JobStatusPending,
		workerdomain.JobStatusProcessing,
		workerdomain.JobStatusCompleted,
		workerdomain.JobStatusFailed,
	} {
		// A redelivered job reports PROCESSING again
		if s.CanTransitionTo(next) || (s == next && !s.IsTerminal()) {
			from = append(from, s)
		}
	}
	return from
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
