package worker

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ShutdownController is a process-wide shutdown token. Trigger starts the
// asynchronous close of the worker and marks the token done; the main
// goroutine waits on Done.
type ShutdownController struct {
	logger  *slog.Logger
	stop    func() error
	once    sync.Once
	done    chan struct{}
	stopped chan struct{}
	reason  string
	mu      sync.Mutex
}

// NewShutdownController creates a controller that calls stop once on Trigger
func NewShutdownController(stop func() error, logger *slog.Logger) *ShutdownController {
	return &ShutdownController{
		logger:  logger,
		stop:    stop,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Trigger requests shutdown. Only the first call has an effect.
func (s *ShutdownController) Trigger(reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()

		s.logger.Info("Received shutdown signal, cleaning up...",
			slog.String("reason", reason),
		)

		go func() {
			defer close(s.stopped)
			if err := s.stop(); err != nil {
				s.logger.Error("Failed to close queue connection",
					slog.Any("error", err),
				)
			}
		}()

		close(s.done)
	})
}

// Done is closed once shutdown has been triggered
func (s *ShutdownController) Done() <-chan struct{} {
	return s.done
}

// Stopped is closed once the close started by Trigger has returned
func (s *ShutdownController) Stopped() <-chan struct{} {
	return s.stopped
}

// Triggered reports whether shutdown has begun
func (s *ShutdownController) Triggered() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Reason returns what triggered the shutdown
func (s *ShutdownController) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// ListenForSignals triggers shutdown on SIGINT or SIGTERM. The returned
// function unregisters the handler.
func (s *ShutdownController) ListenForSignals(ctx context.Context) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.logger.Info("Signal handlers registered for SIGINT and SIGTERM")

	go func() {
		select {
		case sig := <-sigCh:
			s.Trigger(sig.String())
		case <-ctx.Done():
		case <-s.done:
		}
	}()

	return func() { signal.Stop(sigCh) }
}
