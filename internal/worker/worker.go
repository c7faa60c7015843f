package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuongbtq/agent-worker/internal/worker/domain"
)

// ErrNotStarted marks a delivery that was released without being processed,
// for example because shutdown began while it waited for the rate limiter.
// Consumers hand such jobs back to the broker instead of acknowledging them.
var ErrNotStarted = errors.New("job not started")

// HandlerFunc processes one delivered job. A nil error means the delivery
// was handled, whatever the business outcome in the result.
type HandlerFunc func(ctx context.Context, job *domain.Job) (domain.ProcessingResult, error)

// Consumer owns a queue subscription and feeds deliveries to a handler one
// at a time
type Consumer interface {
	// Run blocks until ctx is done or Close is called
	Run(ctx context.Context, handle HandlerFunc) error
	// Close stops accepting jobs, waits for the in-flight one and releases the
	// connection. Safe to call more than once.
	Close() error
}

// JobProcessor is the part of Processor the worker depends on
type JobProcessor interface {
	Process(ctx context.Context, job *domain.Job) (domain.ProcessingResult, error)
}

// Config holds worker configuration
type Config struct {
	Logger    *slog.Logger
	Processor JobProcessor
	Consumer  Consumer
	Limiter   *rate.Limiter
	WorkerID  string
}

// Worker represents the background job worker
type Worker struct {
	logger    *slog.Logger
	processor JobProcessor
	consumer  Consumer
	limiter   *rate.Limiter
	workerID  string
	stopOnce  sync.Once
	stopErr   error
	stopping  chan struct{}
	inFlight  sync.Mutex
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewStartLimiter(domain.LimiterMax, domain.LimiterDuration)
	}

	return &Worker{
		logger:    cfg.Logger,
		processor: cfg.Processor,
		consumer:  cfg.Consumer,
		limiter:   limiter,
		workerID:  cfg.WorkerID,
		stopping:  make(chan struct{}),
	}
}

// Start consumes jobs until ctx is canceled or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", domain.Concurrency),
		slog.Float64("limiter_rate", float64(w.limiter.Limit())),
	)

	if err := w.consumer.Run(ctx, w.handle); err != nil {
		return fmt.Errorf("consumer stopped: %w", err)
	}

	w.logger.Info("Worker consumer returned", slog.String("worker_id", w.workerID))
	return nil
}

// Stop closes the consumer exactly once and waits for the in-flight job
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...", slog.String("worker_id", w.workerID))
		close(w.stopping)
		w.stopErr = w.consumer.Close()
		w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	})
	return w.stopErr
}

// handle rate-limits job starts and runs the processor for one delivery
func (w *Worker) handle(ctx context.Context, job *domain.Job) (domain.ProcessingResult, error) {
	// Wait for a start slot; a canceled wait leaves the job untouched
	if err := w.waitForSlot(ctx); err != nil {
		w.logger.Warn("Job released before start",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return domain.ProcessingResult{}, fmt.Errorf("%w: %v", ErrNotStarted, err)
	}

	// Consumers are sequential already; the lock keeps Process from ever
	// overlapping should a consumer misbehave.
	w.inFlight.Lock()
	defer w.inFlight.Unlock()

	start := time.Now()
	result, err := w.processor.Process(ctx, job)
	if err != nil {
		w.logger.Error("Job processing failed",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return result, err
	}

	w.logger.Info("Job handled",
		slog.String("job_id", job.JobID),
		slog.String("outcome", result.Status),
		slog.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// waitForSlot blocks on the limiter until a start is admitted, ctx is done
// or Stop is called
func (w *Worker) waitForSlot(ctx context.Context) error {
	select {
	case <-w.stopping:
		return errors.New("worker is stopping")
	default:
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-w.stopping:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	return w.limiter.Wait(waitCtx)
}

// NewStartLimiter admits at most max job starts per window
func NewStartLimiter(max int, per time.Duration) *rate.Limiter {
	if max <= 0 {
		max = 1
	}
	return rate.NewLimiter(rate.Every(per/time.Duration(max)), max)
}
