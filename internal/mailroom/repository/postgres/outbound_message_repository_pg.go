package postgres

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
)

type PgOutboundMessageRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgOutboundMessageRepository(db *pgxpool.Pool, logger *slog.Logger) *PgOutboundMessageRepository {
	return &PgOutboundMessageRepository{db: db, logger: logger}
}

func (r *PgOutboundMessageRepository) Create(ctx context.Context, msg *domain.OutboundMessage) error {
	query := `
		INSERT INTO outbound_messages (id, recipient_id, message_type, letter_id, deed_id, subject, body_text, status, error_message, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.RecipientID, msg.MessageType, msg.LetterID, msg.DeedID,
		msg.Subject, msg.BodyText, msg.Status, msg.ErrorMsg, msg.SentAt, msg.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording outbound message", "error", err, "message_id", msg.ID)
		return err
	}
	return nil
}

func (r *PgOutboundMessageRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*domain.OutboundMessage, error) {
	query := `
		SELECT id, recipient_id, message_type, letter_id, deed_id, subject, body_text, status, error_message, sent_at, created_at
		FROM outbound_messages
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, recipientID, limit, offset)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing outbound messages", "error", err, "recipient_id", recipientID)
		return nil, err
	}
	defer rows.Close()

	var msgs []*domain.OutboundMessage
	for rows.Next() {
		m := &domain.OutboundMessage{}
		if err := rows.Scan(
			&m.ID, &m.RecipientID, &m.MessageType, &m.LetterID, &m.DeedID,
			&m.Subject, &m.BodyText, &m.Status, &m.ErrorMsg, &m.SentAt, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
