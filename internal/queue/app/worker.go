// Package app runs the durable job queue: a pool of workers claim leased jobs,
// dispatch them to registered handlers, and apply the retry policy on failure.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/polarpost/mailroom/internal/queue/domain"
)

// Handler processes one job. A nil return completes the job; an error wrapped
// with domain.Permanent dead-letters it immediately; any other error requeues
// it until max attempts are exhausted.
type Handler func(ctx context.Context, job *domain.Job) error

// Worker polls the job table and dispatches claimed jobs to handlers
// registered per job type. Multiple Worker instances (and multiple processes)
// can run against the same table; the claim query guarantees each job is
// executed by at most one of them per lease window.
type Worker struct {
	repo         domain.JobRepository
	logger       *slog.Logger
	handlers     map[domain.JobType]Handler
	handledTypes []domain.JobType
	pollInterval time.Duration
	batchSize    int
	leaseFor     time.Duration
	retry        RetryPolicy
}

func NewWorker(repo domain.JobRepository, logger *slog.Logger, pollInterval time.Duration, batchSize int, leaseFor time.Duration, retry RetryPolicy) *Worker {
	return &Worker{
		repo:         repo,
		logger:       logger.With("service", "queue_worker"),
		handlers:     make(map[domain.JobType]Handler),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		leaseFor:     leaseFor,
		retry:        retry,
	}
}

// Register binds a handler to a job type. Must be called before Run.
func (w *Worker) Register(typ domain.JobType, h Handler) {
	if _, exists := w.handlers[typ]; !exists {
		w.handledTypes = append(w.handledTypes, typ)
	}
	w.handlers[typ] = h
}

// Run polls until ctx is cancelled. When a poll drains a full batch it polls
// again immediately instead of sleeping, so a backlog is worked off at full
// speed.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Worker starting", "poll_interval", w.pollInterval.String(), "batch_size", w.batchSize)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		n, err := w.PollOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "Poll cycle failed", "error", err)
		}
		if n >= w.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce claims one batch of due jobs and processes them sequentially.
// Returns the number of jobs processed.
func (w *Worker) PollOnce(ctx context.Context) (int, error) {
	leaseToken := uuid.New()
	// Only types with a registered handler are claimed; jobs for other types
	// stay in the queue for the workers that run them.
	jobs, err := w.repo.Claim(ctx, w.handledTypes, w.batchSize, leaseToken, w.leaseFor)
	if err != nil {
		if errors.Is(err, domain.ErrNoEligibleJobs) {
			return 0, nil
		}
		return 0, fmt.Errorf("claiming jobs: %w", err)
	}

	for _, job := range jobs {
		jobsClaimedTotal.WithLabelValues(string(job.Type)).Inc()
		w.process(ctx, job, leaseToken)
	}
	return len(jobs), nil
}

func (w *Worker) process(ctx context.Context, job *domain.Job, leaseToken uuid.UUID) {
	logger := w.logger.With("job_id", job.ID, "job_type", job.Type, "attempt", job.Attempts)

	handler, ok := w.handlers[job.Type]
	if !ok {
		logger.ErrorContext(ctx, "No handler registered for job type")
		w.fail(ctx, job, leaseToken, domain.Permanent(fmt.Errorf("no handler for job type %q", job.Type)), logger)
		return
	}

	start := time.Now()
	err := handler(ctx, job)
	jobDurationSeconds.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		w.fail(ctx, job, leaseToken, err, logger)
		return
	}

	if err := w.repo.Complete(ctx, job.ID, leaseToken); err != nil {
		logger.ErrorContext(ctx, "Error marking job complete", "error", err)
		return
	}
	jobsCompletedTotal.WithLabelValues(string(job.Type)).Inc()
	logger.InfoContext(ctx, "Job completed", "duration", time.Since(start).String())
}

// fail applies the retry policy: permanent errors and exhausted attempts
// dead-letter the job, anything else requeues it with backoff.
func (w *Worker) fail(ctx context.Context, job *domain.Job, leaseToken uuid.UUID, jobErr error, logger *slog.Logger) {
	if domain.IsPermanent(jobErr) {
		logger.ErrorContext(ctx, "Job failed permanently", "error", jobErr)
		if err := w.repo.MarkDead(ctx, job.ID, leaseToken, jobErr.Error()); err != nil {
			logger.ErrorContext(ctx, "Error dead-lettering job", "error", err)
		}
		jobsFailedTotal.WithLabelValues(string(job.Type), "dead").Inc()
		return
	}

	if job.Attempts >= job.MaxAttempts {
		logger.ErrorContext(ctx, "Job exhausted attempts", "error", jobErr, "max_attempts", job.MaxAttempts)
		if err := w.repo.MarkDead(ctx, job.ID, leaseToken, jobErr.Error()); err != nil {
			logger.ErrorContext(ctx, "Error dead-lettering job", "error", err)
		}
		jobsFailedTotal.WithLabelValues(string(job.Type), "dead").Inc()
		return
	}

	delay := w.retry.NextDelay(job.Attempts)
	runAt := time.Now().UTC().Add(delay)
	logger.WarnContext(ctx, "Job failed, scheduling retry", "error", jobErr, "next_run_at", runAt)
	if err := w.repo.Requeue(ctx, job.ID, leaseToken, runAt, jobErr.Error()); err != nil {
		logger.ErrorContext(ctx, "Error requeuing job", "error", err)
	}
	jobsFailedTotal.WithLabelValues(string(job.Type), "retry").Inc()
}
