package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client on the OpenAI chat completions API.
type OpenAIClient struct {
	api             *openai.Client
	validate        *validator.Validate
	logger          *slog.Logger
	extractionModel string
	replyModel      string
	safetyModel     string
}

func NewOpenAIClient(apiKey, extractionModel, replyModel, safetyModel string, logger *slog.Logger) *OpenAIClient {
	return &OpenAIClient{
		api:             openai.NewClient(apiKey),
		validate:        validator.New(),
		logger:          logger.With("service", "llm_client"),
		extractionModel: extractionModel,
		replyModel:      replyModel,
		safetyModel:     safetyModel,
	}
}

// completeJSON runs a chat completion in JSON mode and unmarshals the single
// response object into out. Parse failures map to ErrMalformedOutput.
func (c *OpenAIClient) completeJSON(ctx context.Context, model, systemPrompt, userPrompt string, out any) error {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: empty choices", ErrMalformedOutput)
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		c.logger.WarnContext(ctx, "Model returned unparseable JSON", "model", model, "error", err)
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// completeText runs a plain chat completion and returns the response text.
func (c *OpenAIClient) completeText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrMalformedOutput)
	}
	return resp.Choices[0].Message.Content, nil
}

type extractionEnvelope struct {
	// Pointer so a response missing the key entirely is distinguishable from
	// a deliberate empty list.
	Items *[]ExtractedItem `json:"items"`
}

func (c *OpenAIClient) ExtractWishItems(ctx context.Context, letterText string) ([]ExtractedItem, error) {
	var envelope extractionEnvelope
	if err := c.completeJSON(ctx, c.extractionModel, extractionSystemPrompt, letterText, &envelope); err != nil {
		return nil, err
	}
	if envelope.Items == nil {
		return nil, fmt.Errorf("%w: missing items key", ErrMalformedOutput)
	}
	for i, item := range *envelope.Items {
		if err := c.validate.Struct(item); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrMalformedOutput, i, err)
		}
	}
	return *envelope.Items, nil
}

type classificationEnvelope struct {
	Flags *[]ContentFlag `json:"flags"`
}

func (c *OpenAIClient) ClassifyContent(ctx context.Context, letterText, strictness string) ([]ContentFlag, error) {
	var envelope classificationEnvelope
	systemPrompt := fmt.Sprintf(classificationSystemPrompt, strictness)
	if err := c.completeJSON(ctx, c.extractionModel, systemPrompt, letterText, &envelope); err != nil {
		return nil, err
	}
	if envelope.Flags == nil {
		return nil, fmt.Errorf("%w: missing flags key", ErrMalformedOutput)
	}
	for i, flag := range *envelope.Flags {
		if err := c.validate.Struct(flag); err != nil {
			return nil, fmt.Errorf("%w: flag %d: %v", ErrMalformedOutput, i, err)
		}
	}
	return *envelope.Flags, nil
}

func (c *OpenAIClient) SearchProduct(ctx context.Context, itemName, country string) (*ProductInfo, error) {
	userPrompt := fmt.Sprintf("Product: %s\nMarket country code: %s", itemName, country)
	info := &ProductInfo{}
	if err := c.completeJSON(ctx, c.extractionModel, productSearchSystemPrompt, userPrompt, info); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return info, nil
}

const deedTrailerPrefix = "GOOD_DEED:"

func (c *OpenAIClient) ComposeReply(ctx context.Context, input ReplyInput) (*ComposedReply, error) {
	text, err := c.completeText(ctx, c.replyModel, replySystemPrompt, buildReplyUserPrompt(input))
	if err != nil {
		return nil, err
	}
	body, deed := splitDeedTrailer(text)
	if body == "" {
		return nil, fmt.Errorf("%w: empty reply body", ErrMalformedOutput)
	}
	// Discard a suggestion the model repeated despite the avoid list.
	if deed != nil {
		for _, avoid := range input.AvoidDeeds {
			if strings.EqualFold(strings.TrimSpace(*deed), strings.TrimSpace(avoid)) {
				c.logger.InfoContext(ctx, "Discarding repeated deed suggestion", "deed", *deed)
				deed = nil
				break
			}
		}
	}
	return &ComposedReply{BodyText: body, SuggestedDeed: deed}, nil
}

func buildReplyUserPrompt(input ReplyInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Child's name: %s\n", input.RecipientName)
	if input.Age != nil {
		fmt.Fprintf(&b, "Age: %d\n", *input.Age)
	}
	if input.Language != nil {
		fmt.Fprintf(&b, "Language: %s\n", *input.Language)
	}
	if len(input.WishItems) > 0 {
		fmt.Fprintf(&b, "Wishes mentioned in the letter: %s\n", strings.Join(input.WishItems, "; "))
	}
	if len(input.CompletedDeeds) > 0 {
		fmt.Fprintf(&b, "Good deeds the child recently completed (congratulate them): %s\n", strings.Join(input.CompletedDeeds, "; "))
	}
	if len(input.AvoidDeeds) > 0 {
		fmt.Fprintf(&b, "Deeds already suggested before (do not repeat): %s\n", strings.Join(input.AvoidDeeds, "; "))
	}
	fmt.Fprintf(&b, "\nSubject: %s\n\nLetter:\n%s\n", input.LetterSubject, input.LetterBody)
	return b.String()
}

// splitDeedTrailer removes a trailing GOOD_DEED line from the body, returning
// the cleaned body and the deed text if present.
func splitDeedTrailer(text string) (string, *string) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, deedTrailerPrefix) {
			deed := strings.TrimSpace(strings.TrimPrefix(line, deedTrailerPrefix))
			body := strings.TrimSpace(strings.Join(lines[:i], "\n"))
			if deed == "" {
				return body, nil
			}
			return body, &deed
		}
		break
	}
	return strings.TrimSpace(text), nil
}

type composedEmailEnvelope struct {
	Subject  string `json:"subject" validate:"required"`
	BodyText string `json:"body_text" validate:"required"`
}

func (c *OpenAIClient) composeEmail(ctx context.Context, systemPrompt, userPrompt string) (*ComposedEmail, error) {
	var envelope composedEmailEnvelope
	if err := c.completeJSON(ctx, c.replyModel, systemPrompt, userPrompt, &envelope); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return &ComposedEmail{Subject: envelope.Subject, BodyText: envelope.BodyText}, nil
}

func (c *OpenAIClient) ComposeDeedEmail(ctx context.Context, recipientName, deedDescription string, language *string) (*ComposedEmail, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Child's name: %s\n", recipientName)
	if language != nil {
		fmt.Fprintf(&b, "Language: %s\n", *language)
	}
	fmt.Fprintf(&b, "Deed to suggest: %s\n", deedDescription)
	return c.composeEmail(ctx, deedSuggestionSystemPrompt, b.String())
}

func (c *OpenAIClient) ComposeDeedCongrats(ctx context.Context, recipientName, deedDescription string, parentNote, language *string) (*ComposedEmail, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Child's name: %s\n", recipientName)
	if language != nil {
		fmt.Fprintf(&b, "Language: %s\n", *language)
	}
	fmt.Fprintf(&b, "Completed deed: %s\n", deedDescription)
	if parentNote != nil {
		fmt.Fprintf(&b, "Note from the family: %s\n", *parentNote)
	}
	return c.composeEmail(ctx, deedCongratsSystemPrompt, b.String())
}

func (c *OpenAIClient) CheckSafety(ctx context.Context, bodyText string) (*SafetyResult, error) {
	result := &SafetyResult{}
	if err := c.completeJSON(ctx, c.safetyModel, safetySystemPrompt, bodyText, result); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return result, nil
}
