package domain

import (
	"context"
	"errors"
	"net"
	"net/url"
)

var (
	// ErrNilJob is returned when the processor is invoked without a job
	ErrNilJob = errors.New("nil job")

	// ErrInvalidPayload is returned when a delivery body cannot be decoded
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrMissingJobID is returned for status updates without a job id
	ErrMissingJobID = errors.New("jobId is required")

	// ErrInvalidStatus is returned for unknown job statuses
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrResultAndError is returned when an update carries both result and error
	ErrResultAndError = errors.New("status update cannot carry both result and error")

	// ErrInvalidUpdate is returned when result/error does not match the status
	ErrInvalidUpdate = errors.New("invalid status update")

	// ErrMalformedResponse is returned when the agent answer has no final message
	ErrMalformedResponse = errors.New("malformed agent response")
)

// ErrorKind is the closed set of failure categories attached to a failed job
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "VALIDATION_ERROR"
	ErrorKindAgent      ErrorKind = "AGENT_ERROR"
	ErrorKindTransport  ErrorKind = "TRANSPORT_ERROR"
)

// JobError is the {message, type} pair reported for FAILED jobs
type JobError struct {
	Message string    `json:"message"`
	Type    ErrorKind `json:"type"`
}

func (e *JobError) Error() string {
	return string(e.Type) + ": " + e.Message
}

// NewValidationError creates a VALIDATION_ERROR with the given message
func NewValidationError(msg string) *JobError {
	return &JobError{Message: msg, Type: ErrorKindValidation}
}

// TransportError marks a failure of the network call underneath the agent
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err as a transport failure
func NewTransportError(err error) error {
	return &TransportError{Err: err}
}

// ClassifyError maps an agent failure to its ErrorKind
func ClassifyError(err error) ErrorKind {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Type
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return ErrorKindTransport
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTransport
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorKindTransport
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindTransport
	}

	return ErrorKindAgent
}

// NewAgentFailure converts an agent error into the reported JobError
func NewAgentFailure(err error) *JobError {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}
	return &JobError{Message: err.Error(), Type: ClassifyError(err)}
}
