package domain

import (
	"time"

	"github.com/google/uuid"
)

// Recipient is a registered child who can write to the mailroom. The sending
// address is kept only as a salted hash; the raw address is never persisted here.
type Recipient struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	EmailHash   string    `json:"-"` // hex-encoded salted SHA3-256
	Country     *string   `json:"country,omitempty"` // ISO 3166-1 alpha-2
	BirthYear   *int      `json:"birth_year,omitempty"`
	Language    *string   `json:"language,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Age derives the recipient's approximate age from the birth year, or nil if unknown.
func (r *Recipient) Age(now time.Time) *int {
	if r.BirthYear == nil {
		return nil
	}
	age := now.Year() - *r.BirthYear
	return &age
}
