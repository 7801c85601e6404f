package http

// Request DTOs for the reviewer API. Validation tags are enforced with
// go-playground/validator before any service call.

type CreateRecipientRequest struct {
	DisplayName string  `json:"display_name" validate:"required,min=1,max=100"`
	Email       string  `json:"email" validate:"required,email"`
	Country     *string `json:"country" validate:"omitempty,iso3166_1_alpha2"`
	BirthYear   *int    `json:"birth_year" validate:"omitempty,gte=1990,lte=2100"`
	Language    *string `json:"language" validate:"omitempty,bcp47_language_tag"`
}

type ReviewWishItemRequest struct {
	Status       string  `json:"status" validate:"required,oneof=pending approved denied fulfilled"`
	DenialReason *string `json:"denial_reason" validate:"omitempty,oneof=too_expensive violent age_inappropriate not_available other"`
	DenialNote   *string `json:"denial_note" validate:"omitempty,max=500"`
}

type ReviewFlagRequest struct {
	Note *string `json:"note" validate:"omitempty,max=1000"`
}

type SuggestDeedRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,uuid4"`
	Description string `json:"description" validate:"required,min=1,max=500"`
}

type CompleteDeedRequest struct {
	ParentNote *string `json:"parent_note" validate:"omitempty,max=1000"`
}

type errorResponse struct {
	Error string `json:"error"`
}
