package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgSeenMessageRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgSeenMessageRepository(db *pgxpool.Pool, logger *slog.Logger) *PgSeenMessageRepository {
	return &PgSeenMessageRepository{db: db, logger: logger}
}

func (r *PgSeenMessageRepository) IsSeen(ctx context.Context, messageID string) (bool, error) {
	var seen bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM seen_messages WHERE message_id = $1)`, messageID).Scan(&seen)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error checking seen message", "error", err)
		return false, err
	}
	return seen, nil
}

// MarkSeen is idempotent: re-recording an already seen message id is a no-op.
func (r *PgSeenMessageRepository) MarkSeen(ctx context.Context, messageID string, seenAt time.Time) error {
	query := `
		INSERT INTO seen_messages (message_id, seen_at)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, messageID, seenAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking message seen", "error", err)
		return err
	}
	return nil
}
