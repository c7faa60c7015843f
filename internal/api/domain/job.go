package domain

import (
	"errors"

	workerdomain "github.com/cuongbtq/agent-worker/internal/worker/domain"
)

// Job types accepted by the API
const (
	JobTypeInternetSearch = workerdomain.TaskTypeSearch
)

// Default page sizes for job listings
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrEnqueueFailed     = errors.New("failed to enqueue job")
)
