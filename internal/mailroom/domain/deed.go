package domain

import (
	"time"

	"github.com/google/uuid"
)

// GoodDeed is the kindness mechanic: a deed suggested to a recipient either by
// the reply composer or by an external reviewer, and later marked complete.
type GoodDeed struct {
	ID                  uuid.UUID  `json:"id"`
	RecipientID         uuid.UUID  `json:"recipient_id"`
	Description         string     `json:"description"`
	SuggestedAt         time.Time  `json:"suggested_at"`
	Completed           bool       `json:"completed"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	ParentNote          *string    `json:"parent_note,omitempty"`
	SuggestedInReplyID  *uuid.UUID `json:"suggested_in_reply_id,omitempty"`
	AcknowledgedReplyID *uuid.UUID `json:"acknowledged_in_reply_id,omitempty"`
}

// NewGoodDeed builds a fresh, uncompleted deed.
func NewGoodDeed(recipientID uuid.UUID, description string, suggestedInReplyID *uuid.UUID) *GoodDeed {
	return &GoodDeed{
		ID:                 uuid.New(),
		RecipientID:        recipientID,
		Description:        description,
		SuggestedAt:        time.Now().UTC(),
		SuggestedInReplyID: suggestedInReplyID,
	}
}
