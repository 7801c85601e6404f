package domain

import (
	"time"

	"github.com/google/uuid"
)

// WishItemStatus is the review state of an extracted wish.
type WishItemStatus string

const (
	WishItemStatusPending   WishItemStatus = "pending"
	WishItemStatusApproved  WishItemStatus = "approved"
	WishItemStatusDenied    WishItemStatus = "denied"
	WishItemStatusFulfilled WishItemStatus = "fulfilled"
)

// DenialReason enumerates why a reviewer denied a wish item.
type DenialReason string

const (
	DenialTooExpensive     DenialReason = "too_expensive"
	DenialViolent          DenialReason = "violent"
	DenialAgeInappropriate DenialReason = "age_inappropriate"
	DenialNotAvailable     DenialReason = "not_available"
	DenialOther            DenialReason = "other"
)

// WishItem is a wish candidate extracted from a letter. Pricing fields are
// filled by enrichment; status and denial fields are written by the reviewer.
type WishItem struct {
	ID             uuid.UUID      `json:"id"`
	LetterID       uuid.UUID      `json:"letter_id"`
	RawText        string         `json:"raw_text"`
	NormalizedName *string        `json:"normalized_name,omitempty"`
	Category       *string        `json:"category,omitempty"`
	Status         WishItemStatus `json:"status"`
	DenialReason   *DenialReason  `json:"denial_reason,omitempty"`
	DenialNote     *string        `json:"denial_note,omitempty"`
	EstimatedPrice *float64       `json:"estimated_price,omitempty"`
	Currency       *string        `json:"currency,omitempty"`
	ProductURL     *string        `json:"product_url,omitempty"`
	ProductImage   *string        `json:"product_image_url,omitempty"`
	ProductDesc    *string        `json:"product_description,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// DisplayName is the name used in reply context: the normalized product name
// when enrichment resolved one, otherwise the raw extracted text.
func (w *WishItem) DisplayName() string {
	if w.NormalizedName != nil && *w.NormalizedName != "" {
		return *w.NormalizedName
	}
	return w.RawText
}
