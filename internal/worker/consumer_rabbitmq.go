package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/agent-worker/internal/worker/domain"
)

// DeliverySource is the part of the RabbitMQ client the consumer uses
type DeliverySource interface {
	SetQoS(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
	Close() error
}

// RabbitMQConsumer consumes the job queue with manual acknowledgment and a
// prefetch of one
type RabbitMQConsumer struct {
	source      DeliverySource
	consumerTag string
	queue       string
	logger      *slog.Logger
	closing     chan struct{}
	closeOnce   sync.Once
	closeErr    error

	// idle is held while a delivery is being handled
	idle sync.Mutex
}

// NewRabbitMQConsumer creates a consumer over an established client
func NewRabbitMQConsumer(source DeliverySource, consumerTag, queue string, logger *slog.Logger) *RabbitMQConsumer {
	return &RabbitMQConsumer{
		source:      source,
		consumerTag: consumerTag,
		queue:       queue,
		logger:      logger,
		closing:     make(chan struct{}),
	}
}

// Run dispatches deliveries one by one until ctx is done, Close is called
// or the broker closes the delivery channel
func (c *RabbitMQConsumer) Run(ctx context.Context, handle HandlerFunc) error {
	if err := c.source.SetQoS(domain.Concurrency); err != nil {
		return err
	}

	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.String("queue", c.queue),
		slog.Int("prefetch_count", domain.Concurrency),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Message dispatcher stopped - context canceled")
			return c.Close()

		case <-c.closing:
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				select {
				case <-c.closing:
					return nil
				default:
				}
				c.logger.Warn("RabbitMQ delivery channel closed")
				return errors.New("rabbitmq delivery channel closed")
			}

			c.dispatch(ctx, delivery, handle)
		}
	}
}

// dispatch handles one delivery and settles it with the broker
func (c *RabbitMQConsumer) dispatch(ctx context.Context, delivery amqp.Delivery, handle HandlerFunc) {
	c.idle.Lock()
	defer c.idle.Unlock()

	// A delivery that raced with Close goes straight back to the queue
	select {
	case <-c.closing:
		c.nack(delivery, "", true)
		return
	default:
	}

	job, err := domain.DecodeJob(delivery.Body)
	if err != nil {
		c.logger.Error("Failed to parse message JSON",
			slog.Any("error", err),
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
		)
		job = &domain.Job{}
	}

	c.logger.Info("Worker received job",
		slog.String("job_id", job.JobID),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
		slog.Bool("redelivered", delivery.Redelivered),
	)

	result, err := handle(ctx, job)
	switch {
	case errors.Is(err, ErrNotStarted):
		c.nack(delivery, job.JobID, true)
	case err != nil:
		c.nack(delivery, job.JobID, false)
	default:
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ACK message",
				slog.String("job_id", job.JobID),
				slog.Any("error", ackErr),
			)
			return
		}
		c.logger.Info("Message ACKed",
			slog.String("job_id", job.JobID),
			slog.String("outcome", result.Status),
		)
	}
}

func (c *RabbitMQConsumer) nack(delivery amqp.Delivery, jobID string, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK message",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}
	c.logger.Info("Message NACKed",
		slog.String("job_id", jobID),
		slog.Bool("requeue", requeue),
	)
}

// Close cancels the subscription, waits for the in-flight delivery to be
// settled and closes the connection. Only the first call has an effect.
func (c *RabbitMQConsumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)

		if err := c.source.Cancel(c.consumerTag); err != nil {
			c.logger.Warn("Failed to cancel consumer", slog.Any("error", err))
		}

		c.idle.Lock()
		defer c.idle.Unlock()

		c.closeErr = c.source.Close()
	})
	return c.closeErr
}
