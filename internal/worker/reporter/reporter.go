// Package reporter posts job lifecycle updates to the status server.
//
// Reporting is best effort: a failed report is logged and surfaced in the
// returned Outcome, never as an error, and is not retried.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/agent-worker/internal/worker/domain"
)

// UpdateJobPath is appended to the server URL
const UpdateJobPath = "/redis.updateJob"

// maxErrorBody bounds how much of a failed response is logged
const maxErrorBody = 512

// ErrReportingDisabled is set on the outcome when no server URL is configured
var ErrReportingDisabled = errors.New("SERVER_URL is not set, status reporting disabled")

// Config holds reporter configuration
type Config struct {
	ServerURL  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Reporter sends StatusUpdates over HTTP. It holds no per-job state.
type Reporter struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// Outcome describes what happened to one report. Callers may ignore it.
type Outcome struct {
	Delivered  bool
	Skipped    bool
	StatusCode int
	Err        error
}

// New creates a Reporter. An empty ServerURL yields a Reporter whose every
// call is skipped with a logged error.
func New(cfg Config) *Reporter {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var endpoint string
	if cfg.ServerURL != "" {
		endpoint = strings.TrimRight(cfg.ServerURL, "/") + UpdateJobPath
	}

	return &Reporter{
		endpoint: endpoint,
		client:   client,
		logger:   logger,
	}
}

// Enabled reports whether a server URL is configured
func (r *Reporter) Enabled() bool {
	return r.endpoint != ""
}

// Report posts update to the status server once
func (r *Reporter) Report(ctx context.Context, update domain.StatusUpdate) Outcome {
	if err := update.Validate(); err != nil {
		r.logger.Error("Refusing to send invalid status update",
			slog.String("job_id", update.JobID),
			slog.String("status", string(update.Status)),
			slog.Any("error", err),
		)
		return Outcome{Skipped: true, Err: err}
	}

	if !r.Enabled() {
		r.logger.Error("SERVER_URL environment variable is not set",
			slog.String("job_id", update.JobID),
			slog.String("status", string(update.Status)),
		)
		return Outcome{Skipped: true, Err: ErrReportingDisabled}
	}

	body, err := json.Marshal(update)
	if err != nil {
		r.logger.Error("Failed to encode status update",
			slog.String("job_id", update.JobID),
			slog.Any("error", err),
		)
		return Outcome{Err: fmt.Errorf("failed to encode status update: %w", err)}
	}

	r.logger.Info("Updating job status",
		slog.String("job_id", update.JobID),
		slog.String("status", string(update.Status)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		r.logger.Error("Failed to build status update request",
			slog.String("job_id", update.JobID),
			slog.Any("error", err),
		)
		return Outcome{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("Error updating job status",
			slog.String("job_id", update.JobID),
			slog.String("status", string(update.Status)),
			slog.Any("error", err),
		)
		return Outcome{Err: fmt.Errorf("failed to send status update: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		r.logger.Error("Failed to update job status",
			slog.String("job_id", update.JobID),
			slog.String("status", string(update.Status)),
			slog.Int("status_code", resp.StatusCode),
			slog.String("response", string(text)),
		)
		return Outcome{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status server returned %d", resp.StatusCode),
		}
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	r.logger.Info("Successfully updated job status",
		slog.String("job_id", update.JobID),
		slog.String("status", string(update.Status)),
	)

	return Outcome{Delivered: true, StatusCode: resp.StatusCode}
}
