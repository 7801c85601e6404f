package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
)

type PgModerationFlagRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgModerationFlagRepository(db *pgxpool.Pool, logger *slog.Logger) *PgModerationFlagRepository {
	return &PgModerationFlagRepository{db: db, logger: logger}
}

const flagColumns = `id, letter_id, flag_type, severity, excerpt, confidence, explanation,
	reviewed, reviewed_at, reviewer_note, created_at`

func (r *PgModerationFlagRepository) CreateBatch(ctx context.Context, flags []*domain.ModerationFlag) error {
	if len(flags) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `
		INSERT INTO moderation_flags (` + flagColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, f := range flags {
		batch.Queue(query,
			f.ID, f.LetterID, f.FlagType, f.Severity, f.Excerpt, f.Confidence,
			f.Explanation, f.Reviewed, f.ReviewedAt, f.ReviewerNote, f.CreatedAt,
		)
	}
	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range flags {
		if _, err := results.Exec(); err != nil {
			r.logger.ErrorContext(ctx, "Error inserting moderation flag batch", "error", err)
			return err
		}
	}
	r.logger.WarnContext(ctx, "Moderation flags created", "count", len(flags), "letter_id", flags[0].LetterID)
	return nil
}

func (r *PgModerationFlagRepository) ExistsForLetter(ctx context.Context, letterID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM moderation_flags WHERE letter_id = $1)`, letterID).Scan(&exists)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error checking moderation flags for letter", "error", err, "letter_id", letterID)
		return false, err
	}
	return exists, nil
}

func (r *PgModerationFlagRepository) scanFlags(rows pgx.Rows) ([]*domain.ModerationFlag, error) {
	defer rows.Close()
	var flags []*domain.ModerationFlag
	for rows.Next() {
		f := &domain.ModerationFlag{}
		if err := rows.Scan(
			&f.ID, &f.LetterID, &f.FlagType, &f.Severity, &f.Excerpt, &f.Confidence,
			&f.Explanation, &f.Reviewed, &f.ReviewedAt, &f.ReviewerNote, &f.CreatedAt,
		); err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

func (r *PgModerationFlagRepository) ListByLetterID(ctx context.Context, letterID uuid.UUID) ([]*domain.ModerationFlag, error) {
	query := `SELECT ` + flagColumns + ` FROM moderation_flags WHERE letter_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, letterID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing moderation flags by letter", "error", err, "letter_id", letterID)
		return nil, err
	}
	return r.scanFlags(rows)
}

func (r *PgModerationFlagRepository) ListUnreviewed(ctx context.Context, limit, offset int) ([]*domain.ModerationFlag, error) {
	query := `
		SELECT ` + flagColumns + ` FROM moderation_flags
		WHERE reviewed = FALSE
		ORDER BY CASE severity WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at ASC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing unreviewed moderation flags", "error", err)
		return nil, err
	}
	return r.scanFlags(rows)
}

func (r *PgModerationFlagRepository) MarkReviewed(ctx context.Context, id uuid.UUID, note *string) error {
	query := `
		UPDATE moderation_flags
		SET reviewed = TRUE, reviewed_at = $1, reviewer_note = $2
		WHERE id = $3
	`
	tag, err := r.db.Exec(ctx, query, time.Now().UTC(), note, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking moderation flag reviewed", "error", err, "flag_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
