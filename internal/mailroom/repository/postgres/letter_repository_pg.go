package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
)

type PgLetterRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgLetterRepository(db *pgxpool.Pool, logger *slog.Logger) *PgLetterRepository {
	return &PgLetterRepository{db: db, logger: logger}
}

const letterColumns = `id, recipient_id, year, subject, body_text, body_html, received_at, message_id, from_address, status, processed_at, error_message, created_at`

func (r *PgLetterRepository) Create(ctx context.Context, letter *domain.Letter) error {
	query := `
		INSERT INTO letters (` + letterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		letter.ID, letter.RecipientID, letter.Year, letter.Subject, letter.BodyText,
		letter.BodyHTML, letter.ReceivedAt, letter.MessageID, letter.FromAddress,
		letter.Status, letter.ProcessedAt, letter.ErrorMsg, letter.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.logger.WarnContext(ctx, "Duplicate letter for message id", "message_id", letter.MessageID)
			return domain.ErrDuplicate
		}
		r.logger.ErrorContext(ctx, "Error creating letter", "error", err, "letter_id", letter.ID)
		return err
	}
	r.logger.InfoContext(ctx, "Letter created", "letter_id", letter.ID, "recipient_id", letter.RecipientID)
	return nil
}

func (r *PgLetterRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Letter, error) {
	query := `SELECT ` + letterColumns + ` FROM letters WHERE id = $1`
	letter := &domain.Letter{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&letter.ID, &letter.RecipientID, &letter.Year, &letter.Subject, &letter.BodyText,
		&letter.BodyHTML, &letter.ReceivedAt, &letter.MessageID, &letter.FromAddress,
		&letter.Status, &letter.ProcessedAt, &letter.ErrorMsg, &letter.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting letter by ID", "error", err, "letter_id", id)
		return nil, err
	}
	return letter, nil
}

func (r *PgLetterRepository) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM letters WHERE message_id = $1)`, messageID).Scan(&exists)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error checking letter existence by message id", "error", err)
		return false, err
	}
	return exists, nil
}

func (r *PgLetterRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.LetterStatus, errorMsg *string) error {
	var processedAt *time.Time
	if status == domain.LetterStatusProcessed || status == domain.LetterStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}
	query := `
		UPDATE letters
		SET status = $1, error_message = $2, processed_at = COALESCE($3, processed_at)
		WHERE id = $4
	`
	tag, err := r.db.Exec(ctx, query, status, errorMsg, processedAt, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating letter status", "error", err, "letter_id", id, "new_status", status)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgLetterRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, status *domain.LetterStatus, limit, offset int) ([]*domain.Letter, error) {
	query := `
		SELECT ` + letterColumns + ` FROM letters
		WHERE recipient_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY received_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, recipientID, status, limit, offset)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing letters by recipient", "error", err, "recipient_id", recipientID)
		return nil, err
	}
	defer rows.Close()

	var letters []*domain.Letter
	for rows.Next() {
		letter := &domain.Letter{}
		if err := rows.Scan(
			&letter.ID, &letter.RecipientID, &letter.Year, &letter.Subject, &letter.BodyText,
			&letter.BodyHTML, &letter.ReceivedAt, &letter.MessageID, &letter.FromAddress,
			&letter.Status, &letter.ProcessedAt, &letter.ErrorMsg, &letter.CreatedAt,
		); err != nil {
			return nil, err
		}
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

func (r *PgLetterRepository) LatestFromAddress(ctx context.Context, recipientID uuid.UUID) (string, error) {
	query := `
		SELECT from_address FROM letters
		WHERE recipient_id = $1
		ORDER BY received_at DESC
		LIMIT 1
	`
	var addr string
	err := r.db.QueryRow(ctx, query, recipientID).Scan(&addr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting latest from address", "error", err, "recipient_id", recipientID)
		return "", err
	}
	return addr, nil
}
