package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusQueued JobStatus = "queued"
	JobStatusLeased JobStatus = "leased"
	JobStatusDone   JobStatus = "done"
	JobStatusFailed JobStatus = "failed" // transient failure, waiting for retry
	JobStatusDead   JobStatus = "dead"   // exhausted or permanent, needs operator action
)

// JobType names the handler a job is dispatched to.
type JobType string

const (
	JobTypeProcessLetter      JobType = "process_letter"
	JobTypeSendReply          JobType = "send_reply"
	JobTypeSendDeedSuggestion JobType = "send_deed_suggestion"
	JobTypeSendDeedCongrats   JobType = "send_deed_congrats"
)

var (
	// ErrNoEligibleJobs is returned by Claim when no queued job is due, and by
	// the lease-guarded mutations when the lease was lost to a reclaim.
	ErrNoEligibleJobs = errors.New("no eligible jobs found")
	// ErrJobNotFound is returned when a job id does not match the expected row.
	ErrJobNotFound = errors.New("job not found")
)

// Job is one unit of asynchronous work, persisted so that a crash between
// claim and completion loses nothing. Attempts is incremented when the job is
// claimed, so a worker that dies mid-flight still consumes an attempt.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAt       time.Time       `json:"run_at"`
	LeaseToken  *uuid.UUID      `json:"-"`
	LeaseExpiry *time.Time      `json:"lease_expiry,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LetterPayload is the payload for process_letter and send_reply jobs.
type LetterPayload struct {
	LetterID uuid.UUID `json:"letter_id"`
}

// DeedPayload is the payload for send_deed_suggestion and send_deed_congrats jobs.
type DeedPayload struct {
	DeedID uuid.UUID `json:"deed_id"`
}

// NewJob builds a queued job due immediately.
func NewJob(typ JobType, payload any, maxAttempts int) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling payload for %s job: %w", typ, err)
	}
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		Type:        typ,
		Payload:     raw,
		Status:      JobStatusQueued,
		MaxAttempts: maxAttempts,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// PermanentError wraps an error that must not be retried; the worker
// dead-letters the job immediately regardless of remaining attempts.
// Errors are transient by default.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// JobRepository persists and leases jobs. Claim must be safe under concurrent
// workers: each due job is handed to exactly one claimant per lease window.
type JobRepository interface {
	Enqueue(ctx context.Context, job *Job) error
	// Claim leases up to limit due jobs of the given types for leaseFor,
	// stamping them with leaseToken and incrementing attempts. Jobs of other
	// types are left for workers that handle them. Returns ErrNoEligibleJobs
	// when nothing is due.
	Claim(ctx context.Context, types []JobType, limit int, leaseToken uuid.UUID, leaseFor time.Duration) ([]*Job, error)
	// Complete marks a leased job done. The lease token must still match.
	Complete(ctx context.Context, jobID, leaseToken uuid.UUID) error
	// Requeue returns a leased job to the queue with a new due time after a
	// transient failure. The lease token must still match.
	Requeue(ctx context.Context, jobID, leaseToken uuid.UUID, runAt time.Time, lastError string) error
	// MarkDead dead-letters a leased job. The lease token must still match.
	MarkDead(ctx context.Context, jobID, leaseToken uuid.UUID, lastError string) error
	// ReclaimExpiredLeases returns leased jobs whose lease expired to the
	// queued state so another worker can claim them.
	ReclaimExpiredLeases(ctx context.Context) (int64, error)
	ListDead(ctx context.Context, limit, offset int) ([]*Job, error)
	// RequeueDead resets a dead job for a fresh round of attempts.
	RequeueDead(ctx context.Context, jobID uuid.UUID) error
}

// Enqueuer is the narrow enqueue-only view handed to services that create
// follow-up work but never consume it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job) error
}
