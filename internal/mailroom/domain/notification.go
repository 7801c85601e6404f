package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies reviewer-facing notifications.
type NotificationType string

const (
	NotificationNewLetter      NotificationType = "new_letter"
	NotificationModerationFlag NotificationType = "moderation_flag"
	NotificationDeedCompleted  NotificationType = "deed_completed"
)

// Notification alerts the reviewing adult about pipeline events. Consumed by
// the external dashboard through the read API.
type Notification struct {
	ID              uuid.UUID        `json:"id"`
	RecipientID     uuid.UUID        `json:"recipient_id"`
	Type            NotificationType `json:"type"`
	Title           string           `json:"title"`
	Message         *string          `json:"message,omitempty"`
	Read            bool             `json:"read"`
	RelatedLetterID *uuid.UUID       `json:"related_letter_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// NewNotification builds an unread notification.
func NewNotification(recipientID uuid.UUID, typ NotificationType, title string, message *string, letterID *uuid.UUID) *Notification {
	return &Notification{
		ID:              uuid.New(),
		RecipientID:     recipientID,
		Type:            typ,
		Title:           title,
		Message:         message,
		RelatedLetterID: letterID,
		CreatedAt:       time.Now().UTC(),
	}
}
