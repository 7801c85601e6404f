// Package repository defines the persistence ports for the mailroom entities.
// Implementations live in the postgres subpackage.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
)

type RecipientRepository interface {
	Create(ctx context.Context, recipient *domain.Recipient) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Recipient, error)
	// GetByEmailHash looks a recipient up by the salted hash of a sending
	// address. Returns domain.ErrNotFound for unknown senders.
	GetByEmailHash(ctx context.Context, emailHash string) (*domain.Recipient, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Recipient, error)
}

type LetterRepository interface {
	Create(ctx context.Context, letter *domain.Letter) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Letter, error)
	// ExistsByMessageID is the durable dedup check behind the fast-path cache.
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.LetterStatus, errorMsg *string) error
	// ListByRecipient pages the recipient's letters, newest first. A non-nil
	// status narrows the query before paging so page boundaries stay stable.
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, status *domain.LetterStatus, limit, offset int) ([]*domain.Letter, error)
	// LatestFromAddress returns the from_address of the recipient's most
	// recent letter, for deed mail that has no letter of its own.
	LatestFromAddress(ctx context.Context, recipientID uuid.UUID) (string, error)
}

type WishItemRepository interface {
	// CreateBatch inserts freshly extracted items. Existing rows for a letter
	// are never replaced; they carry reviewer decisions.
	CreateBatch(ctx context.Context, items []*domain.WishItem) error
	ListByLetterID(ctx context.Context, letterID uuid.UUID) ([]*domain.WishItem, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WishItem, error)
	// SetReview updates the reviewer-owned fields of one wish item.
	SetReview(ctx context.Context, id uuid.UUID, status domain.WishItemStatus, reason *domain.DenialReason, note *string) error
	UpdateEnrichment(ctx context.Context, item *domain.WishItem) error
}

type ReplyRepository interface {
	Create(ctx context.Context, reply *domain.Reply) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Reply, error)
	GetByLetterID(ctx context.Context, letterID uuid.UUID) (*domain.Reply, error)
	// DeleteDraftByLetterID removes a drafted reply so re-processing can
	// compose a fresh one. Replies past drafted are left alone.
	DeleteDraftByLetterID(ctx context.Context, letterID uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ReplyStatus, deliveryError *string) error
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	SetSafetyVerdict(ctx context.Context, id uuid.UUID, verdict domain.SafetyVerdict, status domain.ReplyStatus) error
}

type ModerationFlagRepository interface {
	CreateBatch(ctx context.Context, flags []*domain.ModerationFlag) error
	// ExistsForLetter lets re-processing skip the moderation stage rather than
	// duplicate flags that may already carry reviewer state.
	ExistsForLetter(ctx context.Context, letterID uuid.UUID) (bool, error)
	ListByLetterID(ctx context.Context, letterID uuid.UUID) ([]*domain.ModerationFlag, error)
	ListUnreviewed(ctx context.Context, limit, offset int) ([]*domain.ModerationFlag, error)
	MarkReviewed(ctx context.Context, id uuid.UUID, note *string) error
}

type GoodDeedRepository interface {
	Create(ctx context.Context, deed *domain.GoodDeed) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.GoodDeed, error)
	ListByRecipient(ctx context.Context, recipientID uuid.UUID) ([]*domain.GoodDeed, error)
	// RecentSuggestions returns the last n deed descriptions suggested to the
	// recipient, newest first, for the composer's repeat-avoidance list.
	RecentSuggestions(ctx context.Context, recipientID uuid.UUID, n int) ([]string, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time, parentNote *string) error
	// ListCompletedUnacknowledged returns deeds completed but not yet
	// congratulated in any reply.
	ListCompletedUnacknowledged(ctx context.Context, recipientID uuid.UUID) ([]*domain.GoodDeed, error)
	AcknowledgeInReply(ctx context.Context, deedID, replyID uuid.UUID) error
}

type OutboundMessageRepository interface {
	Create(ctx context.Context, msg *domain.OutboundMessage) error
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*domain.OutboundMessage, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]*domain.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

// SeenMessageRepository is the durable record of mailbox messages already
// ingested, keyed by transport Message-ID.
type SeenMessageRepository interface {
	IsSeen(ctx context.Context, messageID string) (bool, error)
	MarkSeen(ctx context.Context, messageID string, seenAt time.Time) error
}
