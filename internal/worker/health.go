package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// healthProbeTimeout bounds a single broker probe
const healthProbeTimeout = 2 * time.Second

// HealthProbe checks the queue connection
type HealthProbe func(ctx context.Context) error

// HealthServer exposes GET /health for the worker process
type HealthServer struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewHealthRouter builds the gin engine serving the health check. The
// worker reports unhealthy once shutdown has begun.
func NewHealthRouter(probe HealthProbe, shutdown *ShutdownController, workerID string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		if shutdown != nil && shutdown.Triggered() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "shutting_down",
				"worker_id": workerID,
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
		defer cancel()

		if err := probe(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"queue":     "down",
				"error":     err.Error(),
				"worker_id": workerID,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"queue":     "up",
			"worker_id": workerID,
		})
	})

	return r
}

// NewHealthServer wraps the health router in an HTTP server on port
func NewHealthServer(port int, handler http.Handler, logger *slog.Logger) *HealthServer {
	return &HealthServer{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background
func (h *HealthServer) Start() {
	go func() {
		h.logger.Info("Health server listening", slog.String("address", h.srv.Addr))
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("Health server failed", slog.Any("error", err))
		}
	}()
}

// Shutdown stops the server gracefully
func (h *HealthServer) Shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
