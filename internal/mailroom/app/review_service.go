package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
	"github.com/polarpost/mailroom/internal/mailroom/repository"
)

// ReviewService applies reviewer decisions to wish items and moderation flags.
type ReviewService struct {
	wishItems repository.WishItemRepository
	flags     repository.ModerationFlagRepository
	logger    *slog.Logger
}

func NewReviewService(
	wishItems repository.WishItemRepository,
	flags repository.ModerationFlagRepository,
	logger *slog.Logger,
) *ReviewService {
	return &ReviewService{
		wishItems: wishItems,
		flags:     flags,
		logger:    logger.With("service", "review_service"),
	}
}

// ReviewWishItem sets the review outcome of one wish item. A denial must name
// a reason; non-denials must not carry one.
func (s *ReviewService) ReviewWishItem(ctx context.Context, id uuid.UUID, status domain.WishItemStatus, reason *domain.DenialReason, note *string) error {
	if status == domain.WishItemStatusDenied && reason == nil {
		return fmt.Errorf("denial requires a reason")
	}
	if status != domain.WishItemStatusDenied {
		reason = nil
		note = nil
	}
	return s.wishItems.SetReview(ctx, id, status, reason, note)
}

// ReviewFlag marks a moderation flag as handled by a reviewer.
func (s *ReviewService) ReviewFlag(ctx context.Context, id uuid.UUID, note *string) error {
	return s.flags.MarkReviewed(ctx, id, note)
}
