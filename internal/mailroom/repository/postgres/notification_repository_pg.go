package postgres

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
)

type PgNotificationRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgNotificationRepository(db *pgxpool.Pool, logger *slog.Logger) *PgNotificationRepository {
	return &PgNotificationRepository{db: db, logger: logger}
}

func (r *PgNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, recipient_id, notification_type, title, message, read, related_letter_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		n.ID, n.RecipientID, n.Type, n.Title, n.Message, n.Read, n.RelatedLetterID, n.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating notification", "error", err, "notification_id", n.ID)
		return err
	}
	return nil
}

func (r *PgNotificationRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]*domain.Notification, error) {
	query := `
		SELECT id, recipient_id, notification_type, title, message, read, related_letter_id, created_at
		FROM notifications
		WHERE recipient_id = $1 AND ($2 = FALSE OR read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, recipientID, unreadOnly, limit, offset)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing notifications", "error", err, "recipient_id", recipientID)
		return nil, err
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		n := &domain.Notification{}
		if err := rows.Scan(
			&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message, &n.Read, &n.RelatedLetterID, &n.CreatedAt,
		); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *PgNotificationRepository) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking notification read", "error", err, "notification_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
