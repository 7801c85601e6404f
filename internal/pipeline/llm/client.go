// Package llm wraps the language model behind typed operations with strict
// output validation. Every operation that expects structured output treats a
// response that fails to parse or validate as ErrMalformedOutput, which the
// queue retries like any other transient failure.
package llm

import (
	"context"
	"errors"
)

// ErrMalformedOutput marks a model response that did not match the expected
// schema. Retryable: regeneration usually produces valid output.
var ErrMalformedOutput = errors.New("malformed model output")

// ExtractedItem is one wish candidate pulled out of a letter.
type ExtractedItem struct {
	RawText        string  `json:"raw_text" validate:"required"`
	NormalizedName *string `json:"normalized_name"`
	Category       *string `json:"category"`
}

// ContentFlag is one concerning-content finding from classification.
type ContentFlag struct {
	FlagType    string   `json:"flag_type" validate:"required,oneof=self_harm abuse bullying sad anxious family_issues violence"`
	Severity    string   `json:"severity" validate:"required,oneof=low medium high"`
	Excerpt     *string  `json:"excerpt"`
	Confidence  *float64 `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	Explanation *string  `json:"explanation"`
}

// ProductInfo is the enrichment result for a single wish item. All fields are
// optional; the model returns what it can.
type ProductInfo struct {
	EstimatedPrice *float64 `json:"estimated_price" validate:"omitempty,gte=0"`
	Currency       *string  `json:"currency" validate:"omitempty,len=3"`
	ProductURL     *string  `json:"product_url" validate:"omitempty,url"`
	ImageURL       *string  `json:"image_url" validate:"omitempty,url"`
	Description    *string  `json:"description"`
}

// ReplyInput is everything the composer may reference. Denied wishes are
// excluded before this struct is built; the composer never sees them.
type ReplyInput struct {
	RecipientName  string
	Age            *int
	Language       *string
	LetterSubject  string
	LetterBody     string
	WishItems      []string // display names of non-denied items
	CompletedDeeds []string // deeds to congratulate in this reply
	AvoidDeeds     []string // recently suggested deeds, not to repeat
}

// ComposedReply is the composer's output: the reply body plus an optional
// deed suggestion parsed from the trailer.
type ComposedReply struct {
	BodyText      string
	SuggestedDeed *string
}

// ComposedEmail is a standalone deed email (suggestion or congratulations).
type ComposedEmail struct {
	Subject  string
	BodyText string
}

// SafetyResult is the verdict of the independent safety check.
type SafetyResult struct {
	IsSafe      *bool    `json:"is_safe" validate:"required"`
	Issues      []string `json:"issues"`
	Severity    string   `json:"severity" validate:"omitempty,oneof=none low medium high"`
	Explanation string   `json:"explanation"`
}

// Client is the model-backed operations surface of the pipeline.
type Client interface {
	// ExtractWishItems pulls wish candidates from a letter. An empty slice is
	// a valid outcome (a letter with no wishes).
	ExtractWishItems(ctx context.Context, letterText string) ([]ExtractedItem, error)
	// ClassifyContent scans a letter for concerning content at the configured
	// strictness.
	ClassifyContent(ctx context.Context, letterText, strictness string) ([]ContentFlag, error)
	// SearchProduct estimates pricing and product details for one wish item
	// in the recipient's market.
	SearchProduct(ctx context.Context, itemName, country string) (*ProductInfo, error)
	// ComposeReply writes the persona reply, optionally suggesting a deed.
	ComposeReply(ctx context.Context, input ReplyInput) (*ComposedReply, error)
	// ComposeDeedEmail writes a standalone deed-suggestion email.
	ComposeDeedEmail(ctx context.Context, recipientName, deedDescription string, language *string) (*ComposedEmail, error)
	// ComposeDeedCongrats writes a congratulations email for a completed deed.
	ComposeDeedCongrats(ctx context.Context, recipientName, deedDescription string, parentNote, language *string) (*ComposedEmail, error)
	// CheckSafety runs the independent gate over a generated body.
	CheckSafety(ctx context.Context, bodyText string) (*SafetyResult, error)
}
