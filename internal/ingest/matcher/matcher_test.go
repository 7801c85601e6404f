package matcher

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/polarpost/mailroom/internal/mailroom/domain"
)

type MockRecipientRepository struct {
	mock.Mock
}

func (m *MockRecipientRepository) Create(ctx context.Context, recipient *domain.Recipient) error {
	args := m.Called(ctx, recipient)
	return args.Error(0)
}

func (m *MockRecipientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Recipient, error) {
	args := m.Called(ctx, id)
	if rec, ok := args.Get(0).(*domain.Recipient); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecipientRepository) GetByEmailHash(ctx context.Context, emailHash string) (*domain.Recipient, error) {
	args := m.Called(ctx, emailHash)
	if rec, ok := args.Get(0).(*domain.Recipient); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecipientRepository) List(ctx context.Context, limit, offset int) ([]*domain.Recipient, error) {
	args := m.Called(ctx, limit, offset)
	if recs, ok := args.Get(0).([]*domain.Recipient); ok {
		return recs, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestMatcher_HashAddress_NormalizesCaseAndWhitespace(t *testing.T) {
	m := New(nil, "test-salt")

	canonical := m.HashAddress("kid@example.com")
	assert.Equal(t, canonical, m.HashAddress("KID@Example.COM"))
	assert.Equal(t, canonical, m.HashAddress("  kid@example.com  "))
	assert.Len(t, canonical, 64)
}

func TestMatcher_HashAddress_SaltChangesDigest(t *testing.T) {
	a := New(nil, "salt-a")
	b := New(nil, "salt-b")

	assert.NotEqual(t, a.HashAddress("kid@example.com"), b.HashAddress("kid@example.com"))
}

func TestMatcher_Match_KnownSender(t *testing.T) {
	mockRepo := new(MockRecipientRepository)
	m := New(mockRepo, "test-salt")

	want := &domain.Recipient{ID: uuid.New(), DisplayName: "Noa"}
	mockRepo.On("GetByEmailHash", mock.Anything, m.HashAddress("noa@example.com")).
		Return(want, nil).Once()

	got, err := m.Match(context.Background(), "Noa@Example.com")

	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	mockRepo.AssertExpectations(t)
}

func TestMatcher_Match_UnknownSender(t *testing.T) {
	mockRepo := new(MockRecipientRepository)
	m := New(mockRepo, "test-salt")

	mockRepo.On("GetByEmailHash", mock.Anything, mock.AnythingOfType("string")).
		Return(nil, domain.ErrNotFound).Once()

	got, err := m.Match(context.Background(), "stranger@example.com")

	assert.Nil(t, got)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
