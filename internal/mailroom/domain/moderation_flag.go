package domain

import (
	"time"

	"github.com/google/uuid"
)

// FlagSeverity grades how concerning a moderation flag is.
type FlagSeverity string

const (
	SeverityLow    FlagSeverity = "low"
	SeverityMedium FlagSeverity = "medium"
	SeverityHigh   FlagSeverity = "high"
)

// ModerationFlag marks concerning content found in a letter. Flags are
// append-only from the pipeline's perspective; only reviewers update the
// review fields.
type ModerationFlag struct {
	ID           uuid.UUID    `json:"id"`
	LetterID     uuid.UUID    `json:"letter_id"`
	FlagType     string       `json:"flag_type"` // self_harm, abuse, bullying, sad, anxious, family_issues, violence
	Severity     FlagSeverity `json:"severity"`
	Excerpt      *string      `json:"excerpt,omitempty"`
	Confidence   *float64     `json:"confidence,omitempty"`
	Explanation  *string      `json:"explanation,omitempty"`
	Reviewed     bool         `json:"reviewed"`
	ReviewedAt   *time.Time   `json:"reviewed_at,omitempty"`
	ReviewerNote *string      `json:"reviewer_note,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
