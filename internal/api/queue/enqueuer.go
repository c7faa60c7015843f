package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	workerdomain "github.com/cuongbtq/agent-worker/internal/worker/domain"
)

// Enqueuer hands a job to the broker and returns the broker's id for it
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID, query string) (string, error)
	Close() error
}

// payload builds the {jobId, query} message the worker consumes
func payload(jobID, query string) ([]byte, error) {
	body, err := workerdomain.Job{JobID: jobID, Query: query}.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}
	return body, nil
}

// AsynqConfig holds the producer options for the Redis queue
type AsynqConfig struct {
	Queue    string
	TaskType string
	MaxRetry int
	// Timeout is the time a worker may hold the job before it is retried
	Timeout time.Duration
}

// AsynqEnqueuer enqueues jobs as asynq tasks
type AsynqEnqueuer struct {
	client *asynq.Client
	cfg    AsynqConfig
	logger *slog.Logger
}

// NewAsynqEnqueuer creates an enqueuer on the given Redis connection
func NewAsynqEnqueuer(opt asynq.RedisConnOpt, cfg AsynqConfig, logger *slog.Logger) *AsynqEnqueuer {
	if cfg.Queue == "" {
		cfg.Queue = workerdomain.QueueName
	}
	if cfg.TaskType == "" {
		cfg.TaskType = workerdomain.TaskTypeSearch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = workerdomain.LockDuration
	}

	return &AsynqEnqueuer{
		client: asynq.NewClient(opt),
		cfg:    cfg,
		logger: logger,
	}
}

func (e *AsynqEnqueuer) Enqueue(ctx context.Context, jobID, query string) (string, error) {
	body, err := payload(jobID, query)
	if err != nil {
		return "", err
	}

	info, err := e.client.EnqueueContext(ctx,
		asynq.NewTask(e.cfg.TaskType, body),
		asynq.Queue(e.cfg.Queue),
		asynq.MaxRetry(e.cfg.MaxRetry),
		asynq.Timeout(e.cfg.Timeout),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	e.logger.Info("Job enqueued",
		slog.String("job_id", jobID),
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
	)

	return info.ID, nil
}

func (e *AsynqEnqueuer) Close() error {
	return e.client.Close()
}

// Publisher is the part of the RabbitMQ client used to publish jobs
type Publisher interface {
	PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error
	Close() error
}

// RabbitMQEnqueuer publishes jobs to the RabbitMQ exchange
type RabbitMQEnqueuer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewRabbitMQEnqueuer creates an enqueuer over an established publisher
func NewRabbitMQEnqueuer(publisher Publisher, logger *slog.Logger) *RabbitMQEnqueuer {
	return &RabbitMQEnqueuer{
		publisher: publisher,
		logger:    logger,
	}
}

func (e *RabbitMQEnqueuer) Enqueue(ctx context.Context, jobID, query string) (string, error) {
	body, err := payload(jobID, query)
	if err != nil {
		return "", err
	}

	messageID := uuid.NewString()
	if err := e.publisher.PublishWithRetry(ctx, messageID, body, "application/json"); err != nil {
		return "", err
	}

	e.logger.Info("Job published",
		slog.String("job_id", jobID),
		slog.String("message_id", messageID),
	)

	return messageID, nil
}

func (e *RabbitMQEnqueuer) Close() error {
	return e.publisher.Close()
}
