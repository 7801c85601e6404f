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

type PgWishItemRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgWishItemRepository(db *pgxpool.Pool, logger *slog.Logger) *PgWishItemRepository {
	return &PgWishItemRepository{db: db, logger: logger}
}

const wishItemColumns = `id, letter_id, raw_text, normalized_name, category, status, denial_reason, denial_note,
	estimated_price, currency, product_url, product_image_url, product_description, created_at, updated_at`

func (r *PgWishItemRepository) CreateBatch(ctx context.Context, items []*domain.WishItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `
		INSERT INTO wish_items (` + wishItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	for _, item := range items {
		batch.Queue(query,
			item.ID, item.LetterID, item.RawText, item.NormalizedName, item.Category,
			item.Status, item.DenialReason, item.DenialNote, item.EstimatedPrice,
			item.Currency, item.ProductURL, item.ProductImage, item.ProductDesc,
			item.CreatedAt, item.UpdatedAt,
		)
	}
	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range items {
		if _, err := results.Exec(); err != nil {
			r.logger.ErrorContext(ctx, "Error inserting wish item batch", "error", err)
			return err
		}
	}
	r.logger.InfoContext(ctx, "Wish items created", "count", len(items), "letter_id", items[0].LetterID)
	return nil
}

func (r *PgWishItemRepository) scanItems(rows pgx.Rows) ([]*domain.WishItem, error) {
	defer rows.Close()
	var items []*domain.WishItem
	for rows.Next() {
		item := &domain.WishItem{}
		if err := rows.Scan(
			&item.ID, &item.LetterID, &item.RawText, &item.NormalizedName, &item.Category,
			&item.Status, &item.DenialReason, &item.DenialNote, &item.EstimatedPrice,
			&item.Currency, &item.ProductURL, &item.ProductImage, &item.ProductDesc,
			&item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *PgWishItemRepository) ListByLetterID(ctx context.Context, letterID uuid.UUID) ([]*domain.WishItem, error) {
	query := `SELECT ` + wishItemColumns + ` FROM wish_items WHERE letter_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, letterID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing wish items by letter", "error", err, "letter_id", letterID)
		return nil, err
	}
	return r.scanItems(rows)
}

func (r *PgWishItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WishItem, error) {
	query := `SELECT ` + wishItemColumns + ` FROM wish_items WHERE id = $1`
	item := &domain.WishItem{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&item.ID, &item.LetterID, &item.RawText, &item.NormalizedName, &item.Category,
		&item.Status, &item.DenialReason, &item.DenialNote, &item.EstimatedPrice,
		&item.Currency, &item.ProductURL, &item.ProductImage, &item.ProductDesc,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting wish item by ID", "error", err, "wish_item_id", id)
		return nil, err
	}
	return item, nil
}

func (r *PgWishItemRepository) SetReview(ctx context.Context, id uuid.UUID, status domain.WishItemStatus, reason *domain.DenialReason, note *string) error {
	query := `
		UPDATE wish_items
		SET status = $1, denial_reason = $2, denial_note = $3, updated_at = $4
		WHERE id = $5
	`
	tag, err := r.db.Exec(ctx, query, status, reason, note, time.Now().UTC(), id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error setting wish item review", "error", err, "wish_item_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Wish item reviewed", "wish_item_id", id, "status", status)
	return nil
}

func (r *PgWishItemRepository) UpdateEnrichment(ctx context.Context, item *domain.WishItem) error {
	query := `
		UPDATE wish_items
		SET estimated_price = $1, currency = $2, product_url = $3, product_image_url = $4,
		    product_description = $5, updated_at = $6
		WHERE id = $7
	`
	item.UpdatedAt = time.Now().UTC()
	tag, err := r.db.Exec(ctx, query,
		item.EstimatedPrice, item.Currency, item.ProductURL, item.ProductImage,
		item.ProductDesc, item.UpdatedAt, item.ID,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating wish item enrichment", "error", err, "wish_item_id", item.ID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
