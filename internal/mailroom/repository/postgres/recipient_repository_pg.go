// Package postgres implements the mailroom repository ports on pgx.
package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
)

type PgRecipientRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgRecipientRepository(db *pgxpool.Pool, logger *slog.Logger) *PgRecipientRepository {
	return &PgRecipientRepository{db: db, logger: logger}
}

func (r *PgRecipientRepository) Create(ctx context.Context, recipient *domain.Recipient) error {
	query := `
		INSERT INTO recipients (id, display_name, email_hash, country, birth_year, language, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	now := time.Now().UTC()
	recipient.CreatedAt = now
	recipient.UpdatedAt = now
	_, err := r.db.Exec(ctx, query,
		recipient.ID, recipient.DisplayName, recipient.EmailHash,
		recipient.Country, recipient.BirthYear, recipient.Language,
		recipient.CreatedAt, recipient.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.logger.WarnContext(ctx, "Duplicate recipient email hash", "recipient_id", recipient.ID)
			return domain.ErrDuplicate
		}
		r.logger.ErrorContext(ctx, "Error creating recipient", "error", err, "recipient_id", recipient.ID)
		return err
	}
	return nil
}

const recipientColumns = `id, display_name, email_hash, country, birth_year, language, created_at, updated_at`

func (r *PgRecipientRepository) scanRecipient(row pgx.Row) (*domain.Recipient, error) {
	rec := &domain.Recipient{}
	err := row.Scan(
		&rec.ID, &rec.DisplayName, &rec.EmailHash, &rec.Country,
		&rec.BirthYear, &rec.Language, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *PgRecipientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`
	rec, err := r.scanRecipient(r.db.QueryRow(ctx, query, id))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.ErrorContext(ctx, "Error getting recipient by ID", "error", err, "recipient_id", id)
	}
	return rec, err
}

func (r *PgRecipientRepository) GetByEmailHash(ctx context.Context, emailHash string) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE email_hash = $1`
	rec, err := r.scanRecipient(r.db.QueryRow(ctx, query, emailHash))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.ErrorContext(ctx, "Error getting recipient by email hash", "error", err)
	}
	return rec, err
}

func (r *PgRecipientRepository) List(ctx context.Context, limit, offset int) ([]*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing recipients", "error", err)
		return nil, err
	}
	defer rows.Close()

	var recipients []*domain.Recipient
	for rows.Next() {
		rec := &domain.Recipient{}
		if err := rows.Scan(
			&rec.ID, &rec.DisplayName, &rec.EmailHash, &rec.Country,
			&rec.BirthYear, &rec.Language, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}
