package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/polarpost/mailroom/internal/mailroom/domain"
	"github.com/polarpost/mailroom/internal/pipeline/llm"
	queuedomain "github.com/polarpost/mailroom/internal/queue/domain"
)

type MockLetterRepository struct{ mock.Mock }

func (m *MockLetterRepository) Create(ctx context.Context, letter *domain.Letter) error {
	return m.Called(ctx, letter).Error(0)
}
func (m *MockLetterRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Letter, error) {
	args := m.Called(ctx, id)
	if l, ok := args.Get(0).(*domain.Letter); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockLetterRepository) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}
func (m *MockLetterRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.LetterStatus, errorMsg *string) error {
	return m.Called(ctx, id, status, errorMsg).Error(0)
}
func (m *MockLetterRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, status *domain.LetterStatus, limit, offset int) ([]*domain.Letter, error) {
	args := m.Called(ctx, recipientID, status, limit, offset)
	if l, ok := args.Get(0).([]*domain.Letter); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockLetterRepository) LatestFromAddress(ctx context.Context, recipientID uuid.UUID) (string, error) {
	args := m.Called(ctx, recipientID)
	return args.String(0), args.Error(1)
}

type MockRecipientRepository struct{ mock.Mock }

func (m *MockRecipientRepository) Create(ctx context.Context, r *domain.Recipient) error {
	return m.Called(ctx, r).Error(0)
}
func (m *MockRecipientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Recipient, error) {
	args := m.Called(ctx, id)
	if r, ok := args.Get(0).(*domain.Recipient); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRecipientRepository) GetByEmailHash(ctx context.Context, hash string) (*domain.Recipient, error) {
	args := m.Called(ctx, hash)
	if r, ok := args.Get(0).(*domain.Recipient); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRecipientRepository) List(ctx context.Context, limit, offset int) ([]*domain.Recipient, error) {
	args := m.Called(ctx, limit, offset)
	if r, ok := args.Get(0).([]*domain.Recipient); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockWishItemRepository struct{ mock.Mock }

func (m *MockWishItemRepository) CreateBatch(ctx context.Context, items []*domain.WishItem) error {
	return m.Called(ctx, items).Error(0)
}
func (m *MockWishItemRepository) ListByLetterID(ctx context.Context, letterID uuid.UUID) ([]*domain.WishItem, error) {
	args := m.Called(ctx, letterID)
	if items, ok := args.Get(0).([]*domain.WishItem); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockWishItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WishItem, error) {
	args := m.Called(ctx, id)
	if item, ok := args.Get(0).(*domain.WishItem); ok {
		return item, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockWishItemRepository) SetReview(ctx context.Context, id uuid.UUID, status domain.WishItemStatus, reason *domain.DenialReason, note *string) error {
	return m.Called(ctx, id, status, reason, note).Error(0)
}
func (m *MockWishItemRepository) UpdateEnrichment(ctx context.Context, item *domain.WishItem) error {
	return m.Called(ctx, item).Error(0)
}

type MockModerationFlagRepository struct{ mock.Mock }

func (m *MockModerationFlagRepository) CreateBatch(ctx context.Context, flags []*domain.ModerationFlag) error {
	return m.Called(ctx, flags).Error(0)
}
func (m *MockModerationFlagRepository) ExistsForLetter(ctx context.Context, letterID uuid.UUID) (bool, error) {
	args := m.Called(ctx, letterID)
	return args.Bool(0), args.Error(1)
}
func (m *MockModerationFlagRepository) ListByLetterID(ctx context.Context, letterID uuid.UUID) ([]*domain.ModerationFlag, error) {
	args := m.Called(ctx, letterID)
	if flags, ok := args.Get(0).([]*domain.ModerationFlag); ok {
		return flags, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockModerationFlagRepository) ListUnreviewed(ctx context.Context, limit, offset int) ([]*domain.ModerationFlag, error) {
	args := m.Called(ctx, limit, offset)
	if flags, ok := args.Get(0).([]*domain.ModerationFlag); ok {
		return flags, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockModerationFlagRepository) MarkReviewed(ctx context.Context, id uuid.UUID, note *string) error {
	return m.Called(ctx, id, note).Error(0)
}

type MockReplyRepository struct{ mock.Mock }

func (m *MockReplyRepository) Create(ctx context.Context, reply *domain.Reply) error {
	return m.Called(ctx, reply).Error(0)
}
func (m *MockReplyRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Reply, error) {
	args := m.Called(ctx, id)
	if r, ok := args.Get(0).(*domain.Reply); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockReplyRepository) GetByLetterID(ctx context.Context, letterID uuid.UUID) (*domain.Reply, error) {
	args := m.Called(ctx, letterID)
	if r, ok := args.Get(0).(*domain.Reply); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockReplyRepository) DeleteDraftByLetterID(ctx context.Context, letterID uuid.UUID) error {
	return m.Called(ctx, letterID).Error(0)
}
func (m *MockReplyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ReplyStatus, deliveryError *string) error {
	return m.Called(ctx, id, status, deliveryError).Error(0)
}
func (m *MockReplyRepository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	return m.Called(ctx, id, sentAt).Error(0)
}
func (m *MockReplyRepository) SetSafetyVerdict(ctx context.Context, id uuid.UUID, verdict domain.SafetyVerdict, status domain.ReplyStatus) error {
	return m.Called(ctx, id, verdict, status).Error(0)
}

type MockGoodDeedRepository struct{ mock.Mock }

func (m *MockGoodDeedRepository) Create(ctx context.Context, deed *domain.GoodDeed) error {
	return m.Called(ctx, deed).Error(0)
}
func (m *MockGoodDeedRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.GoodDeed, error) {
	args := m.Called(ctx, id)
	if d, ok := args.Get(0).(*domain.GoodDeed); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoodDeedRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID) ([]*domain.GoodDeed, error) {
	args := m.Called(ctx, recipientID)
	if d, ok := args.Get(0).([]*domain.GoodDeed); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoodDeedRepository) RecentSuggestions(ctx context.Context, recipientID uuid.UUID, n int) ([]string, error) {
	args := m.Called(ctx, recipientID, n)
	if s, ok := args.Get(0).([]string); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoodDeedRepository) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time, parentNote *string) error {
	return m.Called(ctx, id, completedAt, parentNote).Error(0)
}
func (m *MockGoodDeedRepository) ListCompletedUnacknowledged(ctx context.Context, recipientID uuid.UUID) ([]*domain.GoodDeed, error) {
	args := m.Called(ctx, recipientID)
	if d, ok := args.Get(0).([]*domain.GoodDeed); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoodDeedRepository) AcknowledgeInReply(ctx context.Context, deedID, replyID uuid.UUID) error {
	return m.Called(ctx, deedID, replyID).Error(0)
}

type MockNotificationRepository struct{ mock.Mock }

func (m *MockNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	return m.Called(ctx, n).Error(0)
}
func (m *MockNotificationRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit, offset int) ([]*domain.Notification, error) {
	args := m.Called(ctx, recipientID, unreadOnly, limit, offset)
	if n, ok := args.Get(0).([]*domain.Notification); ok {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockNotificationRepository) MarkRead(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockLLMClient struct{ mock.Mock }

func (m *MockLLMClient) ExtractWishItems(ctx context.Context, letterText string) ([]llm.ExtractedItem, error) {
	args := m.Called(ctx, letterText)
	if items, ok := args.Get(0).([]llm.ExtractedItem); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockLLMClient) ClassifyContent(ctx context.Context, letterText, strictness string) ([]llm.ContentFlag, error) {
	args := m.Called(ctx, letterText, strictness)
	if flags, ok := args.Get(0).([]llm.ContentFlag); ok {
		return flags, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockLLMClient) SearchProduct(ctx context.Context, itemName, country string) (*llm.ProductInfo, error) {
	args := m.Called(ctx, itemName, country)
	if info, ok := args.Get(0).(*llm.ProductInfo); ok {
		return info, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockLLMClient) ComposeReply(ctx context.Context, input llm.ReplyInput) (*llm.ComposedReply, error) {
	args := m.Called(ctx, input)
	if r, ok := args.Get(0).(*llm.ComposedReply); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockLLMClient) ComposeDeedEmail(ctx context.Context, recipientName, deedDescription string, language *string) (*llm.ComposedEmail, error) {
	args := m.Called(ctx, recipientName, deedDescription, language)
	if e, ok := args.Get(0).(*llm.ComposedEmail); ok {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockLLMClient) ComposeDeedCongrats(ctx context.Context, recipientName, deedDescription string, parentNote, language *string) (*llm.ComposedEmail, error) {
	args := m.Called(ctx, recipientName, deedDescription, parentNote, language)
	if e, ok := args.Get(0).(*llm.ComposedEmail); ok {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockLLMClient) CheckSafety(ctx context.Context, bodyText string) (*llm.SafetyResult, error) {
	args := m.Called(ctx, bodyText)
	if r, ok := args.Get(0).(*llm.SafetyResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockEnqueuer struct{ mock.Mock }

func (m *MockEnqueuer) Enqueue(ctx context.Context, job *queuedomain.Job) error {
	return m.Called(ctx, job).Error(0)
}

type processorMocks struct {
	letters       *MockLetterRepository
	recipients    *MockRecipientRepository
	wishItems     *MockWishItemRepository
	flags         *MockModerationFlagRepository
	replies       *MockReplyRepository
	deeds         *MockGoodDeedRepository
	notifications *MockNotificationRepository
	model         *MockLLMClient
	enqueuer      *MockEnqueuer
}

func newTestProcessor(cfg ProcessorConfig) (*Processor, *processorMocks) {
	m := &processorMocks{
		letters:       new(MockLetterRepository),
		recipients:    new(MockRecipientRepository),
		wishItems:     new(MockWishItemRepository),
		flags:         new(MockModerationFlagRepository),
		replies:       new(MockReplyRepository),
		deeds:         new(MockGoodDeedRepository),
		notifications: new(MockNotificationRepository),
		model:         new(MockLLMClient),
		enqueuer:      new(MockEnqueuer),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewProcessor(m.letters, m.recipients, m.wishItems, m.flags, m.replies, m.deeds, m.notifications, m.model, m.enqueuer, logger, cfg)
	return p, m
}

func defaultConfig() ProcessorConfig {
	return ProcessorConfig{
		SafetyCheckEnabled:   true,
		ModerationStrictness: "medium",
		DefaultCountry:       "US",
		MaxJobAttempts:       3,
	}
}

func processJob(t *testing.T, letterID uuid.UUID, attempts int) *queuedomain.Job {
	t.Helper()
	payload, err := json.Marshal(queuedomain.LetterPayload{LetterID: letterID})
	require.NoError(t, err)
	return &queuedomain.Job{
		ID:          uuid.New(),
		Type:        queuedomain.JobTypeProcessLetter,
		Payload:     payload,
		Attempts:    attempts,
		MaxAttempts: 3,
	}
}

func testLetter(recipientID uuid.UUID) *domain.Letter {
	return &domain.Letter{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Subject:     "My wishlist",
		BodyText:    "Dear Santa, I would like a red bicycle and a drone.",
		Status:      domain.LetterStatusPending,
	}
}

func strptr(s string) *string { return &s }
func boolptr(b bool) *bool    { return &b }

func TestProcessor_HappyPath(t *testing.T) {
	p, m := newTestProcessor(defaultConfig())
	recipient := &domain.Recipient{ID: uuid.New(), DisplayName: "Noa"}
	letter := testLetter(recipient.ID)

	m.letters.On("GetByID", mock.Anything, letter.ID).Return(letter, nil).Once()
	m.replies.On("GetByLetterID", mock.Anything, letter.ID).Return(nil, domain.ErrNotFound).Once()
	m.recipients.On("GetByID", mock.Anything, recipient.ID).Return(recipient, nil).Once()
	m.letters.On("UpdateStatus", mock.Anything, letter.ID, domain.LetterStatusProcessing, (*string)(nil)).Return(nil).Once()

	m.model.On("ExtractWishItems", mock.Anything, letter.BodyText).Return([]llm.ExtractedItem{
		{RawText: "a red bicycle", NormalizedName: strptr("red bicycle")},
		{RawText: "a drone", NormalizedName: strptr("camera drone")},
	}, nil).Once()
	m.wishItems.On("ListByLetterID", mock.Anything, letter.ID).Return([]*domain.WishItem{}, nil).Once()
	m.wishItems.On("CreateBatch", mock.Anything, mock.MatchedBy(func(items []*domain.WishItem) bool {
		return len(items) == 2 && items[0].Status == domain.WishItemStatusPending
	})).Return(nil).Once()
	m.wishItems.On("ListByLetterID", mock.Anything, letter.ID).Return([]*domain.WishItem{
		{ID: uuid.New(), LetterID: letter.ID, RawText: "a red bicycle", NormalizedName: strptr("red bicycle"), Status: domain.WishItemStatusPending},
		{ID: uuid.New(), LetterID: letter.ID, RawText: "a drone", NormalizedName: strptr("camera drone"), Status: domain.WishItemStatusPending},
	}, nil).Once()

	m.flags.On("ExistsForLetter", mock.Anything, letter.ID).Return(false, nil).Once()
	m.model.On("ClassifyContent", mock.Anything, letter.BodyText, "medium").Return([]llm.ContentFlag{}, nil).Once()

	m.model.On("SearchProduct", mock.Anything, "red bicycle", "US").Return(&llm.ProductInfo{EstimatedPrice: float64ptr(149.99), Currency: strptr("USD")}, nil).Once()
	m.model.On("SearchProduct", mock.Anything, "camera drone", "US").Return(&llm.ProductInfo{}, nil).Once()
	m.wishItems.On("UpdateEnrichment", mock.Anything, mock.Anything).Return(nil).Twice()

	m.replies.On("DeleteDraftByLetterID", mock.Anything, letter.ID).Return(nil).Once()
	m.deeds.On("ListCompletedUnacknowledged", mock.Anything, recipient.ID).Return([]*domain.GoodDeed{}, nil).Once()
	m.deeds.On("RecentSuggestions", mock.Anything, recipient.ID, 5).Return([]string{}, nil).Once()
	m.model.On("ComposeReply", mock.Anything, mock.MatchedBy(func(input llm.ReplyInput) bool {
		return len(input.WishItems) == 2 && input.RecipientName == "Noa"
	})).Return(&llm.ComposedReply{BodyText: "Ho ho ho!", SuggestedDeed: strptr("Help set the table.")}, nil).Once()
	m.replies.On("Create", mock.Anything, mock.MatchedBy(func(r *domain.Reply) bool {
		return r.Status == domain.ReplyStatusDrafted && r.LetterID == letter.ID
	})).Return(nil).Once()
	m.deeds.On("Create", mock.Anything, mock.MatchedBy(func(d *domain.GoodDeed) bool {
		return d.Description == "Help set the table." && d.RecipientID == recipient.ID
	})).Return(nil).Once()

	m.model.On("CheckSafety", mock.Anything, "Ho ho ho!").Return(&llm.SafetyResult{IsSafe: boolptr(true), Severity: "none"}, nil).Once()
	m.replies.On("SetSafetyVerdict", mock.Anything, mock.AnythingOfType("uuid.UUID"), mock.MatchedBy(func(v domain.SafetyVerdict) bool {
		return v.Checked && v.IsSafe
	}), domain.ReplyStatusQueued).Return(nil).Once()
	m.enqueuer.On("Enqueue", mock.Anything, mock.MatchedBy(func(j *queuedomain.Job) bool {
		return j.Type == queuedomain.JobTypeSendReply
	})).Return(nil).Once()

	m.letters.On("UpdateStatus", mock.Anything, letter.ID, domain.LetterStatusProcessed, (*string)(nil)).Return(nil).Once()

	err := p.HandleProcessLetter(context.Background(), processJob(t, letter.ID, 1))

	require.NoError(t, err)
	m.model.AssertExpectations(t)
	m.replies.AssertExpectations(t)
	m.enqueuer.AssertExpectations(t)
}

func TestProcessor_SafetyBlockIsTerminal(t *testing.T) {
	p, m := newTestProcessor(defaultConfig())
	recipient := &domain.Recipient{ID: uuid.New(), DisplayName: "Noa"}
	letter := testLetter(recipient.ID)

	m.letters.On("GetByID", mock.Anything, letter.ID).Return(letter, nil).Once()
	m.replies.On("GetByLetterID", mock.Anything, letter.ID).Return(nil, domain.ErrNotFound).Once()
	m.recipients.On("GetByID", mock.Anything, recipient.ID).Return(recipient, nil).Once()
	m.letters.On("UpdateStatus", mock.Anything, letter.ID, domain.LetterStatusProcessing, (*string)(nil)).Return(nil).Once()

	m.model.On("ExtractWishItems", mock.Anything, mock.Anything).Return([]llm.ExtractedItem{}, nil).Once()
	m.wishItems.On("ListByLetterID", mock.Anything, letter.ID).Return([]*domain.WishItem{}, nil)
	m.wishItems.On("CreateBatch", mock.Anything, mock.Anything).Return(nil).Once()
	m.flags.On("ExistsForLetter", mock.Anything, letter.ID).Return(false, nil).Once()
	m.model.On("ClassifyContent", mock.Anything, mock.Anything, "medium").Return([]llm.ContentFlag{}, nil).Once()

	m.replies.On("DeleteDraftByLetterID", mock.Anything, letter.ID).Return(nil).Once()
	m.deeds.On("ListCompletedUnacknowledged", mock.Anything, recipient.ID).Return([]*domain.GoodDeed{}, nil).Once()
	m.deeds.On("RecentSuggestions", mock.Anything, recipient.ID, 5).Return([]string{}, nil).Once()
	m.model.On("ComposeReply", mock.Anything, mock.Anything).Return(&llm.ComposedReply{BodyText: "Questionable content"}, nil).Once()
	m.replies.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	m.model.On("CheckSafety", mock.Anything, "Questionable content").Return(&llm.SafetyResult{
		IsSafe:   boolptr(false),
		Issues:   []string{"mentions a specific gift promise"},
		Severity: "medium",
	}, nil).Once()
	m.replies.On("SetSafetyVerdict", mock.Anything, mock.AnythingOfType("uuid.UUID"), mock.MatchedBy(func(v domain.SafetyVerdict) bool {
		return v.Checked && !v.IsSafe
	}), domain.ReplyStatusBlocked).Return(nil).Once()

	m.letters.On("UpdateStatus", mock.Anything, letter.ID, domain.LetterStatusProcessed, (*string)(nil)).Return(nil).Once()

	err := p.HandleProcessLetter(context.Background(), processJob(t, letter.ID, 1))

	require.NoError(t, err)
	m.enqueuer.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	m.replies.AssertExpectations(t)
}

func TestProcessor_MalformedExtractionIsTransient(t *testing.T) {
	p, m := newTestProcessor(defaultConfig())
	recipient := &domain.Recipient{ID: uuid.New(), DisplayName: "Noa"}
	letter := testLetter(recipient.ID)

	m.letters.On("GetByID", mock.Anything, letter.ID).Return(letter, nil).Once()
	m.replies.On("GetByLetterID", mock.Anything, letter.ID).Return(nil, domain.ErrNotFound).Once()
	m.recipients.On("GetByID", mock.Anything, recipient.ID).Return(recipient, nil).Once()
	m.letters.On("UpdateStatus", mock.Anything, letter.ID, domain.LetterStatusProcessing, (*string)(nil)).Return(nil).Once()
	m.wishItems.On("ListByLetterID", mock.Anything, letter.ID).Return([]*domain.WishItem{}, nil)
	m.model.On("ExtractWishItems", mock.Anything, mock.Anything).Return(nil, llm.ErrMalformedOutput).Once()

	err := p.HandleProcessLetter(context.Background(), processJob(t, letter.ID, 1))

	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrMalformedOutput)
	assert.False(t, queuedomain.IsPermanent(err))
	// Not the last attempt: letter is left for the retry, not failed.
	m.letters.AssertNotCalled(t, "UpdateStatus", mock.Anything, letter.ID, domain.LetterStatusFailed, mock.Anything)
}

func TestProcessor_LastAttemptFailureMarksLetterFailed(t *testing.T) {
	p, m := newTestProcessor(defaultConfig())
	recipient := &domain.Recipient{ID: uuid.New(), DisplayName: "Noa"}
	letter := testLetter(recipient.ID)

	m.letters.On("GetByID", mock.Anything, letter.ID).Return(letter, nil).Once()
	m.replies.On("GetByLetterID", mock.Anything, letter.ID).Return(nil, domain.ErrNotFound).Once()
	m.recipients.On("GetByID", mock.Anything, recipient.ID).Return(recipient, nil).Once()
	m.letters.On("UpdateStatus", mock.Anything, letter.ID, domain.LetterStatusProcessing, (*string)(nil)).Return(nil).Once()
	m.wishItems.On("ListByLetterID", mock.Anything, letter.ID).Return([]*domain.WishItem{}, nil)
	m.model.On("ExtractWishItems", mock.Anything, mock.Anything).Return(nil, llm.ErrMalformedOutput).Once()
	m.letters.On("UpdateStatus", mock.Anything, letter.ID, domain.LetterStatusFailed, mock.AnythingOfType("*string")).Return(nil).Once()

	err := p.HandleProcessLetter(context.Background(), processJob(t, letter.ID, 3))

	require.Error(t, err)
	m.letters.AssertExpectations(t)
}

func TestProcessor_ModerationFlagsCreateNotification(t *testing.T) {
	p, m := newTestProcessor(defaultConfig())
	recipient := &domain.Recipient{ID: uuid.New(), DisplayName: "Noa"}
	letter := testLetter(recipient.ID)
	letter.BodyText = "Dear Santa, kids at school keep pushing me around."

	m.letters.On("GetByID", mock.Anything, letter.ID).Return(letter, nil).Once()
	m.replies.On("GetByLetterID", mock.Anything, letter.ID).Return(nil, domain.ErrNotFound).Once()
	m.recipients.On("GetByID", mock.Anything, recipient.ID).Return(recipient, nil).Once()
	m.letters.On("UpdateStatus", mock.Anything, letter.ID, mock.Anything, mock.Anything).Return(nil)

	m.model.On("ExtractWishItems", mock.Anything, mock.Anything).Return([]llm.ExtractedItem{}, nil).Once()
	m.wishItems.On("ListByLetterID", mock.Anything, letter.ID).Return([]*domain.WishItem{}, nil)
	m.wishItems.On("CreateBatch", mock.Anything, mock.Anything).Return(nil).Once()

	m.flags.On("ExistsForLetter", mock.Anything, letter.ID).Return(false, nil).Once()
	m.model.On("ClassifyContent", mock.Anything, letter.BodyText, "medium").Return([]llm.ContentFlag{
		{FlagType: "bullying", Severity: "high", Excerpt: strptr("kids at school keep pushing me around")},
	}, nil).Once()
	m.flags.On("CreateBatch", mock.Anything, mock.MatchedBy(func(flags []*domain.ModerationFlag) bool {
		return len(flags) == 1 && flags[0].FlagType == "bullying" && flags[0].Severity == domain.SeverityHigh
	})).Return(nil).Once()
	m.notifications.On("Create", mock.Anything, mock.MatchedBy(func(n *domain.Notification) bool {
		return n.Type == domain.NotificationModerationFlag
	})).Return(nil).Once()

	m.replies.On("DeleteDraftByLetterID", mock.Anything, letter.ID).Return(nil).Once()
	m.deeds.On("ListCompletedUnacknowledged", mock.Anything, recipient.ID).Return([]*domain.GoodDeed{}, nil).Once()
	m.deeds.On("RecentSuggestions", mock.Anything, recipient.ID, 5).Return([]string{}, nil).Once()
	m.model.On("ComposeReply", mock.Anything, mock.Anything).Return(&llm.ComposedReply{BodyText: "Ho ho ho!"}, nil).Once()
	m.replies.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	m.model.On("CheckSafety", mock.Anything, mock.Anything).Return(&llm.SafetyResult{IsSafe: boolptr(true)}, nil).Once()
	m.replies.On("SetSafetyVerdict", mock.Anything, mock.Anything, mock.Anything, domain.ReplyStatusQueued).Return(nil).Once()
	m.enqueuer.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()

	err := p.HandleProcessLetter(context.Background(), processJob(t, letter.ID, 1))

	require.NoError(t, err)
	m.flags.AssertExpectations(t)
	m.notifications.AssertExpectations(t)
}

func TestProcessor_ExistingFlagsSkipClassification(t *testing.T) {
	p, m := newTestProcessor(defaultConfig())
	recipient := &domain.Recipient{ID: uuid.New(), DisplayName: "Noa"}
	letter := testLetter(recipient.ID)

	m.letters.On("GetByID", mock.Anything, letter.ID).Return(letter, nil).Once()
	m.replies.On("GetByLetterID", mock.Anything, letter.ID).Return(nil, domain.ErrNotFound).Once()
	m.recipients.On("GetByID", mock.Anything, recipient.ID).Return(recipient, nil).Once()
	m.letters.On("UpdateStatus", mock.Anything, letter.ID, mock.Anything, mock.Anything).Return(nil)

	m.model.On("ExtractWishItems", mock.Anything, mock.Anything).Return([]llm.ExtractedItem{}, nil).Once()
	m.wishItems.On("ListByLetterID", mock.Anything, letter.ID).Return([]*domain.WishItem{}, nil)
	m.wishItems.On("CreateBatch", mock.Anything, mock.Anything).Return(nil).Once()

	m.flags.On("ExistsForLetter", mock.Anything, letter.ID).Return(true, nil).Once()

	m.replies.On("DeleteDraftByLetterID", mock.Anything, letter.ID).Return(nil).Once()
	m.deeds.On("ListCompletedUnacknowledged", mock.Anything, recipient.ID).Return([]*domain.GoodDeed{}, nil).Once()
	m.deeds.On("RecentSuggestions", mock.Anything, recipient.ID, 5).Return([]string{}, nil).Once()
	m.model.On("ComposeReply", mock.Anything, mock.Anything).Return(&llm.ComposedReply{BodyText: "Ho ho ho!"}, nil).Once()
	m.replies.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	m.model.On("CheckSafety", mock.Anything, mock.Anything).Return(&llm.SafetyResult{IsSafe: boolptr(true)}, nil).Once()
	m.replies.On("SetSafetyVerdict", mock.Anything, mock.Anything, mock.Anything, domain.ReplyStatusQueued).Return(nil).Once()
	m.enqueuer.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()

	err := p.HandleProcessLetter(context.Background(), processJob(t, letter.ID, 1))

	require.NoError(t, err)
	m.model.AssertNotCalled(t, "ClassifyContent", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_EnrichmentFailureIsNonFatal(t *testing.T) {
	p, m := newTestProcessor(defaultConfig())
	recipient := &domain.Recipient{ID: uuid.New(), DisplayName: "Noa", Country: strptr("DE")}
	letter := testLetter(recipient.ID)

	m.letters.On("GetByID", mock.Anything, letter.ID).Return(letter, nil).Once()
	m.replies.On("GetByLetterID", mock.Anything, letter.ID).Return(nil, domain.ErrNotFound).Once()
	m.recipients.On("GetByID", mock.Anything, recipient.ID).Return(recipient, nil).Once()
	m.letters.On("UpdateStatus", mock.Anything, letter.ID, mock.Anything, mock.Anything).Return(nil)

	m.model.On("ExtractWishItems", mock.Anything, mock.Anything).Return([]llm.ExtractedItem{
		{RawText: "a puzzle"},
	}, nil).Once()
	m.wishItems.On("ListByLetterID", mock.Anything, letter.ID).Return([]*domain.WishItem{}, nil)
	m.wishItems.On("CreateBatch", mock.Anything, mock.Anything).Return(nil).Once()
	m.flags.On("ExistsForLetter", mock.Anything, letter.ID).Return(false, nil).Once()
	m.model.On("ClassifyContent", mock.Anything, mock.Anything, "medium").Return([]llm.ContentFlag{}, nil).Once()

	// Recipient country routes the lookup; its failure must not stop the letter.
	m.model.On("SearchProduct", mock.Anything, "a puzzle", "DE").Return(nil, assert.AnError).Once()

	m.replies.On("DeleteDraftByLetterID", mock.Anything, letter.ID).Return(nil).Once()
	m.deeds.On("ListCompletedUnacknowledged", mock.Anything, recipient.ID).Return([]*domain.GoodDeed{}, nil).Once()
	m.deeds.On("RecentSuggestions", mock.Anything, recipient.ID, 5).Return([]string{}, nil).Once()
	m.model.On("ComposeReply", mock.Anything, mock.Anything).Return(&llm.ComposedReply{BodyText: "Ho ho ho!"}, nil).Once()
	m.replies.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	m.model.On("CheckSafety", mock.Anything, mock.Anything).Return(&llm.SafetyResult{IsSafe: boolptr(true)}, nil).Once()
	m.replies.On("SetSafetyVerdict", mock.Anything, mock.Anything, mock.Anything, domain.ReplyStatusQueued).Return(nil).Once()
	m.enqueuer.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()

	err := p.HandleProcessLetter(context.Background(), processJob(t, letter.ID, 1))

	require.NoError(t, err)
	m.wishItems.AssertNotCalled(t, "UpdateEnrichment", mock.Anything, mock.Anything)
}

func TestProcessor_DeniedItemExcludedOnRetry(t *testing.T) {
	p, m := newTestProcessor(defaultConfig())
	recipient := &domain.Recipient{ID: uuid.New(), DisplayName: "Noa"}
	letter := testLetter(recipient.ID)

	// Attempt 1 extracted two items; between attempts a reviewer denied the
	// drone. The retry must keep the reviewed rows and compose without the
	// denied item's text.
	reason := domain.DenialTooExpensive
	reviewed := []*domain.WishItem{
		{ID: uuid.New(), LetterID: letter.ID, RawText: "a red bicycle", NormalizedName: strptr("red bicycle"),
			Status: domain.WishItemStatusApproved, EstimatedPrice: float64ptr(149.99)},
		{ID: uuid.New(), LetterID: letter.ID, RawText: "a drone", NormalizedName: strptr("camera drone"),
			Status: domain.WishItemStatusDenied, DenialReason: &reason},
	}

	m.letters.On("GetByID", mock.Anything, letter.ID).Return(letter, nil).Once()
	m.replies.On("GetByLetterID", mock.Anything, letter.ID).Return(&domain.Reply{
		ID: uuid.New(), LetterID: letter.ID, Status: domain.ReplyStatusDrafted,
	}, nil).Once()
	m.recipients.On("GetByID", mock.Anything, recipient.ID).Return(recipient, nil).Once()
	m.letters.On("UpdateStatus", mock.Anything, letter.ID, mock.Anything, mock.Anything).Return(nil)

	m.wishItems.On("ListByLetterID", mock.Anything, letter.ID).Return(reviewed, nil)
	m.flags.On("ExistsForLetter", mock.Anything, letter.ID).Return(true, nil).Once()

	m.replies.On("DeleteDraftByLetterID", mock.Anything, letter.ID).Return(nil).Once()
	m.deeds.On("ListCompletedUnacknowledged", mock.Anything, recipient.ID).Return([]*domain.GoodDeed{}, nil).Once()
	m.deeds.On("RecentSuggestions", mock.Anything, recipient.ID, 5).Return([]string{}, nil).Once()
	m.model.On("ComposeReply", mock.Anything, mock.MatchedBy(func(input llm.ReplyInput) bool {
		if len(input.WishItems) != 1 || input.WishItems[0] != "red bicycle" {
			return false
		}
		for _, name := range input.WishItems {
			if name == "camera drone" || name == "a drone" {
				return false
			}
		}
		return true
	})).Return(&llm.ComposedReply{BodyText: "Ho ho ho!"}, nil).Once()
	m.replies.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	m.model.On("CheckSafety", mock.Anything, mock.Anything).Return(&llm.SafetyResult{IsSafe: boolptr(true)}, nil).Once()
	m.replies.On("SetSafetyVerdict", mock.Anything, mock.Anything, mock.Anything, domain.ReplyStatusQueued).Return(nil).Once()
	m.enqueuer.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()

	err := p.HandleProcessLetter(context.Background(), processJob(t, letter.ID, 2))

	require.NoError(t, err)
	// Reviewed rows survive: no re-extraction, no rewrite, no re-enrichment.
	m.model.AssertNotCalled(t, "ExtractWishItems", mock.Anything, mock.Anything)
	m.wishItems.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	m.model.AssertNotCalled(t, "SearchProduct", mock.Anything, mock.Anything, mock.Anything)
	m.model.AssertExpectations(t)
}

func TestProcessor_FinalizedReplySkipsReprocessing(t *testing.T) {
	p, m := newTestProcessor(defaultConfig())
	letter := testLetter(uuid.New())

	m.letters.On("GetByID", mock.Anything, letter.ID).Return(letter, nil).Once()
	m.replies.On("GetByLetterID", mock.Anything, letter.ID).Return(&domain.Reply{
		ID: uuid.New(), LetterID: letter.ID, Status: domain.ReplyStatusSent,
	}, nil).Once()

	err := p.HandleProcessLetter(context.Background(), processJob(t, letter.ID, 2))

	require.NoError(t, err)
	m.model.AssertNotCalled(t, "ExtractWishItems", mock.Anything, mock.Anything)
	m.model.AssertNotCalled(t, "ComposeReply", mock.Anything, mock.Anything)
}

func TestProcessor_MissingLetterIsPermanent(t *testing.T) {
	p, m := newTestProcessor(defaultConfig())
	letterID := uuid.New()

	m.letters.On("GetByID", mock.Anything, letterID).Return(nil, domain.ErrNotFound).Once()
	m.letters.On("UpdateStatus", mock.Anything, letterID, domain.LetterStatusFailed, mock.Anything).Return(nil).Once()

	err := p.HandleProcessLetter(context.Background(), processJob(t, letterID, 1))

	require.Error(t, err)
	assert.True(t, queuedomain.IsPermanent(err))
}

func TestProcessor_SafetyDisabledQueuesUnchecked(t *testing.T) {
	cfg := defaultConfig()
	cfg.SafetyCheckEnabled = false
	p, m := newTestProcessor(cfg)
	recipient := &domain.Recipient{ID: uuid.New(), DisplayName: "Noa"}
	letter := testLetter(recipient.ID)

	m.letters.On("GetByID", mock.Anything, letter.ID).Return(letter, nil).Once()
	m.replies.On("GetByLetterID", mock.Anything, letter.ID).Return(nil, domain.ErrNotFound).Once()
	m.recipients.On("GetByID", mock.Anything, recipient.ID).Return(recipient, nil).Once()
	m.letters.On("UpdateStatus", mock.Anything, letter.ID, mock.Anything, mock.Anything).Return(nil)

	m.model.On("ExtractWishItems", mock.Anything, mock.Anything).Return([]llm.ExtractedItem{}, nil).Once()
	m.wishItems.On("ListByLetterID", mock.Anything, letter.ID).Return([]*domain.WishItem{}, nil)
	m.wishItems.On("CreateBatch", mock.Anything, mock.Anything).Return(nil).Once()
	m.flags.On("ExistsForLetter", mock.Anything, letter.ID).Return(false, nil).Once()
	m.model.On("ClassifyContent", mock.Anything, mock.Anything, "medium").Return([]llm.ContentFlag{}, nil).Once()
	m.replies.On("DeleteDraftByLetterID", mock.Anything, letter.ID).Return(nil).Once()
	m.deeds.On("ListCompletedUnacknowledged", mock.Anything, recipient.ID).Return([]*domain.GoodDeed{}, nil).Once()
	m.deeds.On("RecentSuggestions", mock.Anything, recipient.ID, 5).Return([]string{}, nil).Once()
	m.model.On("ComposeReply", mock.Anything, mock.Anything).Return(&llm.ComposedReply{BodyText: "Ho ho ho!"}, nil).Once()
	m.replies.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	m.replies.On("SetSafetyVerdict", mock.Anything, mock.Anything, mock.MatchedBy(func(v domain.SafetyVerdict) bool {
		return !v.Checked
	}), domain.ReplyStatusQueued).Return(nil).Once()
	m.enqueuer.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()

	err := p.HandleProcessLetter(context.Background(), processJob(t, letter.ID, 1))

	require.NoError(t, err)
	m.model.AssertNotCalled(t, "CheckSafety", mock.Anything, mock.Anything)
}

func float64ptr(f float64) *float64 { return &f }
