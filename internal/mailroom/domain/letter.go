package domain

import (
	"time"

	"github.com/google/uuid"
)

// LetterStatus represents the processing lifecycle of an inbound letter.
// Transitions are monotonic: pending -> processing -> processed | failed.
type LetterStatus string

const (
	LetterStatusPending    LetterStatus = "pending"
	LetterStatusProcessing LetterStatus = "processing"
	LetterStatusProcessed  LetterStatus = "processed"
	LetterStatusFailed     LetterStatus = "failed"
)

// Letter is one inbound message from a recipient, deduplicated by the
// transport-level Message-ID.
type Letter struct {
	ID          uuid.UUID    `json:"id"`
	RecipientID uuid.UUID    `json:"recipient_id"`
	Year        int          `json:"year"`
	Subject     string       `json:"subject"`
	BodyText    string       `json:"body_text"`
	BodyHTML    *string      `json:"body_html,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
	MessageID   string       `json:"message_id"`
	FromAddress string       `json:"-"` // delivery address for the reply; not exposed
	Status      LetterStatus `json:"status"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
	ErrorMsg    *string      `json:"error_message,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewLetter builds a pending letter for an inbound message.
func NewLetter(recipientID uuid.UUID, subject, bodyText string, bodyHTML *string, messageID, fromAddress string, receivedAt time.Time) *Letter {
	return &Letter{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Year:        receivedAt.UTC().Year(),
		Subject:     subject,
		BodyText:    bodyText,
		BodyHTML:    bodyHTML,
		ReceivedAt:  receivedAt.UTC(),
		MessageID:   messageID,
		FromAddress: fromAddress,
		Status:      LetterStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}
