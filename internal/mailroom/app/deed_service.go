// Package app holds the reviewer-facing services behind the HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
	"github.com/polarpost/mailroom/internal/mailroom/repository"
	queuedomain "github.com/polarpost/mailroom/internal/queue/domain"
)

// DeedService drives the kindness mechanic: suggesting deeds and reacting to
// their completion. Email delivery happens asynchronously through the queue.
type DeedService struct {
	deeds          repository.GoodDeedRepository
	notifications  repository.NotificationRepository
	enqueuer       queuedomain.Enqueuer
	logger         *slog.Logger
	maxJobAttempts int
}

func NewDeedService(
	deeds repository.GoodDeedRepository,
	notifications repository.NotificationRepository,
	enqueuer queuedomain.Enqueuer,
	logger *slog.Logger,
	maxJobAttempts int,
) *DeedService {
	return &DeedService{
		deeds:          deeds,
		notifications:  notifications,
		enqueuer:       enqueuer,
		logger:         logger.With("service", "deed_service"),
		maxJobAttempts: maxJobAttempts,
	}
}

// ListDeeds returns the recipient's full deed history, newest first.
func (s *DeedService) ListDeeds(ctx context.Context, recipientID uuid.UUID) ([]*domain.GoodDeed, error) {
	return s.deeds.ListByRecipient(ctx, recipientID)
}

// SuggestDeed records a reviewer-initiated deed suggestion and queues the
// suggestion email.
func (s *DeedService) SuggestDeed(ctx context.Context, recipientID uuid.UUID, description string) (*domain.GoodDeed, error) {
	deed := domain.NewGoodDeed(recipientID, description, nil)
	if err := s.deeds.Create(ctx, deed); err != nil {
		return nil, fmt.Errorf("creating deed: %w", err)
	}

	job, err := queuedomain.NewJob(queuedomain.JobTypeSendDeedSuggestion, queuedomain.DeedPayload{DeedID: deed.ID}, s.maxJobAttempts)
	if err != nil {
		return nil, err
	}
	if err := s.enqueuer.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueuing suggestion email: %w", err)
	}
	s.logger.InfoContext(ctx, "Deed suggested", "deed_id", deed.ID, "recipient_id", recipientID)
	return deed, nil
}

// CompleteDeed marks a deed done, notifies the dashboard, and queues exactly
// one congratulations email. Completing an already completed deed is rejected
// so repeated form submissions cannot mail the child twice.
func (s *DeedService) CompleteDeed(ctx context.Context, deedID uuid.UUID, parentNote *string) (*domain.GoodDeed, error) {
	deed, err := s.deeds.GetByID(ctx, deedID)
	if err != nil {
		return nil, err
	}
	if deed.Completed {
		return nil, fmt.Errorf("deed %s: %w", deedID, domain.ErrDuplicate)
	}

	now := time.Now().UTC()
	if err := s.deeds.MarkCompleted(ctx, deed.ID, now, parentNote); err != nil {
		return nil, fmt.Errorf("marking deed completed: %w", err)
	}
	deed.Completed = true
	deed.CompletedAt = &now
	deed.ParentNote = parentNote

	notification := domain.NewNotification(deed.RecipientID, domain.NotificationDeedCompleted,
		"Good deed completed", &deed.Description, nil)
	if err := s.notifications.Create(ctx, notification); err != nil {
		s.logger.WarnContext(ctx, "Error creating deed-completed notification", "error", err)
	}

	job, err := queuedomain.NewJob(queuedomain.JobTypeSendDeedCongrats, queuedomain.DeedPayload{DeedID: deed.ID}, s.maxJobAttempts)
	if err != nil {
		return nil, err
	}
	if err := s.enqueuer.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueuing congratulations email: %w", err)
	}
	s.logger.InfoContext(ctx, "Deed completed", "deed_id", deed.ID, "recipient_id", deed.RecipientID)
	return deed, nil
}
