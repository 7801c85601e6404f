package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReplyStatus is the delivery lifecycle of a composed reply.
// "blocked" is terminal: a reply rejected by the safety gate is never
// re-queued with the same content.
type ReplyStatus string

const (
	ReplyStatusDrafted ReplyStatus = "drafted"
	ReplyStatusBlocked ReplyStatus = "blocked"
	ReplyStatusQueued  ReplyStatus = "queued"
	ReplyStatusSent    ReplyStatus = "sent"
	ReplyStatusFailed  ReplyStatus = "failed"
)

// SafetyVerdict records the outcome of the independent safety check over a
// generated body.
type SafetyVerdict struct {
	Checked     bool     `json:"checked"`
	IsSafe      bool     `json:"is_safe"`
	Issues      []string `json:"issues,omitempty"`
	Severity    string   `json:"severity,omitempty"` // none / low / medium / high
	Explanation string   `json:"explanation,omitempty"`
}

// Reply is the generated answer to a letter (1:1 with Letter).
type Reply struct {
	ID            uuid.UUID   `json:"id"`
	LetterID      uuid.UUID   `json:"letter_id"`
	BodyText      string      `json:"body_text"`
	BodyHTML      *string     `json:"body_html,omitempty"`
	SuggestedDeed *string     `json:"suggested_deed,omitempty"`
	Status        ReplyStatus `json:"status"`
	Safety        *SafetyVerdict `json:"safety,omitempty"`
	SentAt        *time.Time  `json:"sent_at,omitempty"`
	DeliveryError *string     `json:"delivery_error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NewReply builds a drafted reply for a letter.
func NewReply(letterID uuid.UUID, bodyText string, suggestedDeed *string) *Reply {
	return &Reply{
		ID:            uuid.New(),
		LetterID:      letterID,
		BodyText:      bodyText,
		SuggestedDeed: suggestedDeed,
		Status:        ReplyStatusDrafted,
		CreatedAt:     time.Now().UTC(),
	}
}
