package domain

import (
	"time"

	"github.com/google/uuid"
)

// OutboundMessageType classifies what kind of mail was attempted.
type OutboundMessageType string

const (
	OutboundTypeReply          OutboundMessageType = "reply"
	OutboundTypeDeedSuggestion OutboundMessageType = "deed_suggestion"
	OutboundTypeDeedCongrats   OutboundMessageType = "deed_congrats"
)

// OutboundStatus is the final state of one delivery attempt.
type OutboundStatus string

const (
	OutboundStatusSent   OutboundStatus = "sent"
	OutboundStatusFailed OutboundStatus = "failed"
)

// OutboundMessage is the append-only audit trail of delivery attempts: exactly
// one row per attempt, success or failure.
type OutboundMessage struct {
	ID          uuid.UUID           `json:"id"`
	RecipientID uuid.UUID           `json:"recipient_id"`
	MessageType OutboundMessageType `json:"message_type"`
	LetterID    *uuid.UUID          `json:"letter_id,omitempty"`
	DeedID      *uuid.UUID          `json:"deed_id,omitempty"`
	Subject     string              `json:"subject"`
	BodyText    string              `json:"body_text"`
	Status      OutboundStatus      `json:"status"`
	ErrorMsg    *string             `json:"error_message,omitempty"`
	SentAt      *time.Time          `json:"sent_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}
