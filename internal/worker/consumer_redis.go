package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cuongbtq/agent-worker/internal/worker/domain"
)

// RedisConsumerConfig holds the asynq consumer settings
type RedisConsumerConfig struct {
	Queue           string
	LockDuration    time.Duration
	ShutdownTimeout time.Duration
}

// RedisConsumer consumes the job queue through an asynq server with a
// single worker goroutine
type RedisConsumer struct {
	server       *asynq.Server
	queue        string
	lockDuration time.Duration
	logger       *slog.Logger
	closing      chan struct{}
	closeOnce    sync.Once
	// mu orders server start against Close
	mu      sync.Mutex
	started bool
}

// NewRedisConsumer creates a consumer for the given Redis connection
func NewRedisConsumer(opt asynq.RedisConnOpt, cfg RedisConsumerConfig, logger *slog.Logger) *RedisConsumer {
	if cfg.Queue == "" {
		cfg.Queue = domain.QueueName
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = domain.LockDuration
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency:     domain.Concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          &asynqLogger{logger: logger.With(slog.String("component", "asynq"))},
		// A job released before it started is put back without counting
		// against its retries.
		IsFailure: func(err error) bool {
			return !errors.Is(err, ErrNotStarted)
		},
	})

	return &RedisConsumer{
		server:       server,
		queue:        cfg.Queue,
		lockDuration: cfg.LockDuration,
		logger:       logger,
		closing:      make(chan struct{}),
	}
}

// Run starts the asynq server and blocks until ctx is done or Close is called
func (c *RedisConsumer) Run(ctx context.Context, handle HandlerFunc) error {
	c.mu.Lock()
	select {
	case <-c.closing:
		c.mu.Unlock()
		return nil
	default:
	}

	err := c.server.Start(asynq.HandlerFunc(func(taskCtx context.Context, t *asynq.Task) error {
		return c.process(taskCtx, t, handle)
	}))
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	c.started = true
	c.mu.Unlock()

	c.logger.Info("Redis consumer started",
		slog.String("queue", c.queue),
		slog.Duration("lock_duration", c.lockDuration),
	)

	select {
	case <-ctx.Done():
		return c.Close()
	case <-c.closing:
		return nil
	}
}

// Close shuts the asynq server down once, waiting for the active job
func (c *RedisConsumer) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		close(c.closing)
		if !c.started {
			return
		}
		c.logger.Info("Shutting down redis consumer", slog.String("queue", c.queue))
		c.server.Shutdown()
	})
	return nil
}

// process decodes one task and hands it to the worker
func (c *RedisConsumer) process(ctx context.Context, t *asynq.Task, handle HandlerFunc) error {
	taskID, _ := asynq.GetTaskID(ctx)
	logger := c.logger.With(
		slog.String("task_id", taskID),
		slog.String("task_type", t.Type()),
	)

	job, err := domain.DecodeJob(t.Payload())
	if err != nil {
		logger.Error("Failed to decode job payload", slog.Any("error", err))
		job = &domain.Job{}
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < c.lockDuration {
			logger.Warn("Task deadline is shorter than the lock duration",
				slog.Duration("remaining", remaining),
				slog.Duration("lock_duration", c.lockDuration),
			)
		}
	}

	result, err := handle(ctx, job)
	if err != nil {
		if errors.Is(err, ErrNotStarted) {
			return err
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if w := t.ResultWriter(); w != nil {
		body, err := json.Marshal(result)
		if err != nil {
			logger.Error("Failed to encode job result", slog.Any("error", err))
			return nil
		}
		if _, err := w.Write(body); err != nil {
			logger.Warn("Failed to store job result", slog.Any("error", err))
		}
	}

	return nil
}

// asynqLogger routes asynq's internal logging through slog
type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
