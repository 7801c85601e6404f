package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/polarpost/mailroom/internal/queue/domain"
)

type PgJobRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgJobRepository(db *pgxpool.Pool, logger *slog.Logger) *PgJobRepository {
	return &PgJobRepository{db: db, logger: logger}
}

func (r *PgJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (id, job_type, payload, status, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		job.ID, job.Type, job.Payload, job.Status, job.Attempts, job.MaxAttempts,
		job.RunAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error enqueuing job", "error", err, "job_id", job.ID, "job_type", job.Type)
		return err
	}
	r.logger.InfoContext(ctx, "Job enqueued", "job_id", job.ID, "job_type", job.Type, "run_at", job.RunAt)
	return nil
}

// Claim leases up to limit due jobs of the given types in a single statement.
// SKIP LOCKED keeps concurrent claimants from blocking on or double-claiming
// the same rows. Attempts is incremented here so a crash before completion
// still counts.
func (r *PgJobRepository) Claim(ctx context.Context, types []domain.JobType, limit int, leaseToken uuid.UUID, leaseFor time.Duration) ([]*domain.Job, error) {
	if len(types) == 0 {
		return nil, domain.ErrNoEligibleJobs
	}
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}
	query := `
		WITH due_job_ids AS (
			SELECT id
			FROM jobs
			WHERE status IN ($1, $2) AND run_at <= $3 AND job_type = ANY($4)
			ORDER BY run_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET status = $6, attempts = j.attempts + 1, lease_token = $7, lease_expiry = $8, updated_at = $9
		FROM due_job_ids d
		WHERE j.id = d.id
		RETURNING j.id, j.job_type, j.payload, j.status, j.attempts, j.max_attempts, j.run_at,
		          j.lease_token, j.lease_expiry, j.last_error, j.created_at, j.updated_at
	`
	now := time.Now().UTC()
	rows, err := r.db.Query(ctx, query,
		domain.JobStatusQueued, domain.JobStatusFailed, now, typeNames, limit,
		domain.JobStatusLeased, leaseToken, now.Add(leaseFor), now,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error claiming due jobs", "error", err)
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job := &domain.Job{}
		if err := rows.Scan(
			&job.ID, &job.Type, &job.Payload, &job.Status, &job.Attempts, &job.MaxAttempts,
			&job.RunAt, &job.LeaseToken, &job.LeaseExpiry, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			r.logger.ErrorContext(ctx, "Error scanning claimed job row", "error", err)
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating claimed job rows", "error", err)
		return nil, err
	}

	if len(jobs) == 0 {
		return nil, domain.ErrNoEligibleJobs
	}
	r.logger.InfoContext(ctx, "Claimed jobs for processing", "count", len(jobs))
	return jobs, nil
}

func (r *PgJobRepository) Complete(ctx context.Context, jobID, leaseToken uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $1, lease_token = NULL, lease_expiry = NULL, last_error = NULL, updated_at = $2
		WHERE id = $3 AND lease_token = $4
	`
	tag, err := r.db.Exec(ctx, query, domain.JobStatusDone, time.Now().UTC(), jobID, leaseToken)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error completing job", "error", err, "job_id", jobID)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Job not found or lease lost on complete", "job_id", jobID)
		return domain.ErrNoEligibleJobs
	}
	return nil
}

func (r *PgJobRepository) Requeue(ctx context.Context, jobID, leaseToken uuid.UUID, runAt time.Time, lastError string) error {
	query := `
		UPDATE jobs
		SET status = $1, run_at = $2, last_error = $3, lease_token = NULL, lease_expiry = NULL, updated_at = $4
		WHERE id = $5 AND lease_token = $6
	`
	tag, err := r.db.Exec(ctx, query, domain.JobStatusFailed, runAt, lastError, time.Now().UTC(), jobID, leaseToken)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error requeuing job", "error", err, "job_id", jobID)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Job not found or lease lost on requeue", "job_id", jobID)
		return domain.ErrNoEligibleJobs
	}
	r.logger.InfoContext(ctx, "Job requeued for retry", "job_id", jobID, "next_run_at", runAt)
	return nil
}

func (r *PgJobRepository) MarkDead(ctx context.Context, jobID, leaseToken uuid.UUID, lastError string) error {
	query := `
		UPDATE jobs
		SET status = $1, last_error = $2, lease_token = NULL, lease_expiry = NULL, updated_at = $3
		WHERE id = $4 AND lease_token = $5
	`
	tag, err := r.db.Exec(ctx, query, domain.JobStatusDead, lastError, time.Now().UTC(), jobID, leaseToken)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error dead-lettering job", "error", err, "job_id", jobID)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Job not found or lease lost on dead-letter", "job_id", jobID)
		return domain.ErrNoEligibleJobs
	}
	r.logger.WarnContext(ctx, "Job dead-lettered", "job_id", jobID, "last_error", lastError)
	return nil
}

// ReclaimExpiredLeases returns expired leased jobs to the queue. The attempt
// consumed at claim time is kept, so a crashed run still counts against
// max_attempts.
func (r *PgJobRepository) ReclaimExpiredLeases(ctx context.Context) (int64, error) {
	query := `
		UPDATE jobs
		SET status = $1, lease_token = NULL, lease_expiry = NULL, updated_at = $2
		WHERE status = $3 AND lease_expiry < $2
	`
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, query, domain.JobStatusQueued, now, domain.JobStatusLeased)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error reclaiming expired leases", "error", err)
		return 0, err
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.WarnContext(ctx, "Reclaimed expired job leases", "count", n)
		return n, nil
	}
	return 0, nil
}

func (r *PgJobRepository) ListDead(ctx context.Context, limit, offset int) ([]*domain.Job, error) {
	query := `
		SELECT id, job_type, payload, status, attempts, max_attempts, run_at,
		       lease_token, lease_expiry, last_error, created_at, updated_at
		FROM jobs
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, domain.JobStatusDead, limit, offset)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing dead jobs", "error", err)
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job := &domain.Job{}
		if err := rows.Scan(
			&job.ID, &job.Type, &job.Payload, &job.Status, &job.Attempts, &job.MaxAttempts,
			&job.RunAt, &job.LeaseToken, &job.LeaseExpiry, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			r.logger.ErrorContext(ctx, "Error scanning dead job row", "error", err)
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RequeueDead resets a dead job for a fresh round of attempts.
func (r *PgJobRepository) RequeueDead(ctx context.Context, jobID uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $1, attempts = 0, run_at = $2, last_error = NULL, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, query, domain.JobStatusQueued, now, jobID, domain.JobStatusDead)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error requeuing dead job", "error", err, "job_id", jobID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	r.logger.InfoContext(ctx, "Dead job requeued", "job_id", jobID)
	return nil
}
