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

type PgReplyRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgReplyRepository(db *pgxpool.Pool, logger *slog.Logger) *PgReplyRepository {
	return &PgReplyRepository{db: db, logger: logger}
}

const replyColumns = `id, letter_id, body_text, body_html, suggested_deed, status,
	safety_checked, safety_is_safe, safety_issues, safety_severity, safety_explanation,
	sent_at, delivery_error, created_at`

func (r *PgReplyRepository) Create(ctx context.Context, reply *domain.Reply) error {
	query := `
		INSERT INTO replies (` + replyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	var checked, isSafe *bool
	var issues []string
	var severity, explanation *string
	if reply.Safety != nil {
		checked = &reply.Safety.Checked
		isSafe = &reply.Safety.IsSafe
		issues = reply.Safety.Issues
		if reply.Safety.Severity != "" {
			severity = &reply.Safety.Severity
		}
		if reply.Safety.Explanation != "" {
			explanation = &reply.Safety.Explanation
		}
	}
	_, err := r.db.Exec(ctx, query,
		reply.ID, reply.LetterID, reply.BodyText, reply.BodyHTML, reply.SuggestedDeed,
		reply.Status, checked, isSafe, issues, severity, explanation,
		reply.SentAt, reply.DeliveryError, reply.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating reply", "error", err, "reply_id", reply.ID)
		return err
	}
	r.logger.InfoContext(ctx, "Reply created", "reply_id", reply.ID, "letter_id", reply.LetterID)
	return nil
}

func (r *PgReplyRepository) scanReply(row pgx.Row) (*domain.Reply, error) {
	reply := &domain.Reply{}
	var checked, isSafe *bool
	var issues []string
	var severity, explanation *string
	err := row.Scan(
		&reply.ID, &reply.LetterID, &reply.BodyText, &reply.BodyHTML, &reply.SuggestedDeed,
		&reply.Status, &checked, &isSafe, &issues, &severity, &explanation,
		&reply.SentAt, &reply.DeliveryError, &reply.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if checked != nil {
		verdict := &domain.SafetyVerdict{Checked: *checked, Issues: issues}
		if isSafe != nil {
			verdict.IsSafe = *isSafe
		}
		if severity != nil {
			verdict.Severity = *severity
		}
		if explanation != nil {
			verdict.Explanation = *explanation
		}
		reply.Safety = verdict
	}
	return reply, nil
}

func (r *PgReplyRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Reply, error) {
	query := `SELECT ` + replyColumns + ` FROM replies WHERE id = $1`
	reply, err := r.scanReply(r.db.QueryRow(ctx, query, id))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.ErrorContext(ctx, "Error getting reply by ID", "error", err, "reply_id", id)
	}
	return reply, err
}

func (r *PgReplyRepository) GetByLetterID(ctx context.Context, letterID uuid.UUID) (*domain.Reply, error) {
	query := `SELECT ` + replyColumns + ` FROM replies WHERE letter_id = $1`
	reply, err := r.scanReply(r.db.QueryRow(ctx, query, letterID))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.ErrorContext(ctx, "Error getting reply by letter ID", "error", err, "letter_id", letterID)
	}
	return reply, err
}

func (r *PgReplyRepository) DeleteDraftByLetterID(ctx context.Context, letterID uuid.UUID) error {
	query := `DELETE FROM replies WHERE letter_id = $1 AND status = $2`
	tag, err := r.db.Exec(ctx, query, letterID, domain.ReplyStatusDrafted)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error deleting drafted reply", "error", err, "letter_id", letterID)
		return err
	}
	if tag.RowsAffected() > 0 {
		r.logger.InfoContext(ctx, "Cleared drafted reply for recompose", "letter_id", letterID)
	}
	return nil
}

func (r *PgReplyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ReplyStatus, deliveryError *string) error {
	query := `UPDATE replies SET status = $1, delivery_error = $2 WHERE id = $3`
	tag, err := r.db.Exec(ctx, query, status, deliveryError, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating reply status", "error", err, "reply_id", id, "new_status", status)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgReplyRepository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	query := `UPDATE replies SET status = $1, sent_at = $2, delivery_error = NULL WHERE id = $3`
	tag, err := r.db.Exec(ctx, query, domain.ReplyStatusSent, sentAt, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking reply sent", "error", err, "reply_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Reply marked sent", "reply_id", id)
	return nil
}

func (r *PgReplyRepository) SetSafetyVerdict(ctx context.Context, id uuid.UUID, verdict domain.SafetyVerdict, status domain.ReplyStatus) error {
	query := `
		UPDATE replies
		SET safety_checked = $1, safety_is_safe = $2, safety_issues = $3,
		    safety_severity = $4, safety_explanation = $5, status = $6
		WHERE id = $7
	`
	tag, err := r.db.Exec(ctx, query,
		verdict.Checked, verdict.IsSafe, verdict.Issues,
		verdict.Severity, verdict.Explanation, status, id,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error setting reply safety verdict", "error", err, "reply_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Reply safety verdict recorded", "reply_id", id, "is_safe", verdict.IsSafe, "new_status", status)
	return nil
}
