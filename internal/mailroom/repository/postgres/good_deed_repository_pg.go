package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
)

type PgGoodDeedRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgGoodDeedRepository(db *pgxpool.Pool, logger *slog.Logger) *PgGoodDeedRepository {
	return &PgGoodDeedRepository{db: db, logger: logger}
}

const deedColumns = `id, recipient_id, description, suggested_at, completed, completed_at,
	parent_note, suggested_in_reply_id, acknowledged_in_reply_id`

func (r *PgGoodDeedRepository) Create(ctx context.Context, deed *domain.GoodDeed) error {
	query := `
		INSERT INTO good_deeds (` + deedColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		deed.ID, deed.RecipientID, deed.Description, deed.SuggestedAt, deed.Completed,
		deed.CompletedAt, deed.ParentNote, deed.SuggestedInReplyID, deed.AcknowledgedReplyID,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating good deed", "error", err, "deed_id", deed.ID)
		return err
	}
	r.logger.InfoContext(ctx, "Good deed created", "deed_id", deed.ID, "recipient_id", deed.RecipientID)
	return nil
}

func (r *PgGoodDeedRepository) scanDeeds(rows pgx.Rows) ([]*domain.GoodDeed, error) {
	defer rows.Close()
	var deeds []*domain.GoodDeed
	for rows.Next() {
		d := &domain.GoodDeed{}
		if err := rows.Scan(
			&d.ID, &d.RecipientID, &d.Description, &d.SuggestedAt, &d.Completed,
			&d.CompletedAt, &d.ParentNote, &d.SuggestedInReplyID, &d.AcknowledgedReplyID,
		); err != nil {
			return nil, err
		}
		deeds = append(deeds, d)
	}
	return deeds, rows.Err()
}

func (r *PgGoodDeedRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.GoodDeed, error) {
	query := `SELECT ` + deedColumns + ` FROM good_deeds WHERE id = $1`
	d := &domain.GoodDeed{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.RecipientID, &d.Description, &d.SuggestedAt, &d.Completed,
		&d.CompletedAt, &d.ParentNote, &d.SuggestedInReplyID, &d.AcknowledgedReplyID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting good deed by ID", "error", err, "deed_id", id)
		return nil, err
	}
	return d, nil
}

func (r *PgGoodDeedRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID) ([]*domain.GoodDeed, error) {
	query := `SELECT ` + deedColumns + ` FROM good_deeds WHERE recipient_id = $1 ORDER BY suggested_at DESC`
	rows, err := r.db.Query(ctx, query, recipientID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing good deeds by recipient", "error", err, "recipient_id", recipientID)
		return nil, err
	}
	return r.scanDeeds(rows)
}

func (r *PgGoodDeedRepository) RecentSuggestions(ctx context.Context, recipientID uuid.UUID, n int) ([]string, error) {
	query := `
		SELECT description FROM good_deeds
		WHERE recipient_id = $1
		ORDER BY suggested_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, recipientID, n)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing recent deed suggestions", "error", err, "recipient_id", recipientID)
		return nil, err
	}
	defer rows.Close()

	var descriptions []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		descriptions = append(descriptions, d)
	}
	return descriptions, rows.Err()
}

func (r *PgGoodDeedRepository) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time, parentNote *string) error {
	query := `
		UPDATE good_deeds
		SET completed = TRUE, completed_at = $1, parent_note = $2
		WHERE id = $3
	`
	tag, err := r.db.Exec(ctx, query, completedAt, parentNote, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking good deed completed", "error", err, "deed_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Good deed marked completed", "deed_id", id)
	return nil
}

func (r *PgGoodDeedRepository) ListCompletedUnacknowledged(ctx context.Context, recipientID uuid.UUID) ([]*domain.GoodDeed, error) {
	query := `
		SELECT ` + deedColumns + ` FROM good_deeds
		WHERE recipient_id = $1 AND completed = TRUE AND acknowledged_in_reply_id IS NULL
		ORDER BY completed_at ASC
	`
	rows, err := r.db.Query(ctx, query, recipientID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing unacknowledged completed deeds", "error", err, "recipient_id", recipientID)
		return nil, err
	}
	return r.scanDeeds(rows)
}

func (r *PgGoodDeedRepository) AcknowledgeInReply(ctx context.Context, deedID, replyID uuid.UUID) error {
	query := `UPDATE good_deeds SET acknowledged_in_reply_id = $1 WHERE id = $2`
	tag, err := r.db.Exec(ctx, query, replyID, deedID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error acknowledging deed in reply", "error", err, "deed_id", deedID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
