package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/agent-worker/internal/worker/agent"
	"github.com/cuongbtq/agent-worker/internal/worker/domain"
	"github.com/cuongbtq/agent-worker/internal/worker/reporter"
)

// answerPreviewLen bounds how much of an answer is logged
const answerPreviewLen = 100

// StatusReporter delivers status updates on a best-effort basis
type StatusReporter interface {
	Report(ctx context.Context, update domain.StatusUpdate) reporter.Outcome
}

// Processor runs the state machine of a single job:
// validate, PROCESSING, agent call, COMPLETED or FAILED.
type Processor struct {
	agent    agent.QueryAgent
	reporter StatusReporter
	logger   *slog.Logger
}

// NewProcessor creates a Processor around an injected agent and reporter
func NewProcessor(a agent.QueryAgent, r StatusReporter, logger *slog.Logger) *Processor {
	return &Processor{
		agent:    a,
		reporter: r,
		logger:   logger,
	}
}

// Process handles one job. Validation and agent failures come back as an
// error result; the returned error is reserved for a nil job.
func (p *Processor) Process(ctx context.Context, job *domain.Job) (domain.ProcessingResult, error) {
	if job == nil {
		return domain.ProcessingResult{}, domain.ErrNilJob
	}

	// Step 1: Validate. Without a job id there is nothing to report against.
	if job.JobID == "" {
		p.logger.Error(domain.MsgNoJobID)
		return domain.NewErrorResult(domain.NewValidationError(domain.MsgNoJobID)), nil
	}

	logger := p.logger.With(slog.String("job_id", job.JobID))

	// Reports outlive a canceled delivery context; the reporter has its own timeout.
	reportCtx := context.WithoutCancel(ctx)

	if job.Query == "" {
		jobErr := domain.NewValidationError(domain.MsgNoQuery)
		logger.Error("Job validation failed", slog.String("error", jobErr.Message))
		p.reportFailed(reportCtx, job.JobID, jobErr)
		return domain.NewErrorResult(jobErr), nil
	}

	logger.Info("Starting to process job")

	// Step 2: Mark PROCESSING before the agent runs
	p.reporter.Report(reportCtx, domain.StatusUpdate{
		JobID:  job.JobID,
		Status: domain.JobStatusProcessing,
	})

	// Step 3: Ask the agent. No timeout is added here.
	logger.Info("Executing search", slog.String("query", job.Query))
	answer, err := p.answer(ctx, job.Query)
	if err != nil {
		jobErr := domain.NewAgentFailure(err)
		logger.Error("Error during processing",
			slog.String("error", jobErr.Message),
			slog.String("error_type", string(jobErr.Type)),
		)
		p.reportFailed(reportCtx, job.JobID, jobErr)
		return domain.NewErrorResult(jobErr), nil
	}

	// Step 4: Mark COMPLETED with the answer
	logger.Info("Search completed", slog.String("response_preview", preview(answer)))

	p.reporter.Report(reportCtx, domain.StatusUpdate{
		JobID:  job.JobID,
		Status: domain.JobStatusCompleted,
		Result: &answer,
	})

	return domain.NewSuccessResult(job.Query, answer), nil
}

// answer calls the agent, turning a panic or an empty answer into an error
func (p *Processor) answer(ctx context.Context, query string) (answer string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()

	answer, err = p.agent.Answer(ctx, query)
	if err != nil {
		return "", err
	}

	if answer == "" {
		return "", fmt.Errorf("%w: empty answer", domain.ErrMalformedResponse)
	}

	return answer, nil
}

func (p *Processor) reportFailed(ctx context.Context, jobID string, jobErr *domain.JobError) {
	p.reporter.Report(ctx, domain.StatusUpdate{
		JobID:  jobID,
		Status: domain.JobStatusFailed,
		Error:  jobErr,
	})
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= answerPreviewLen {
		return s
	}
	return string(r[:answerPreviewLen]) + "..."
}
