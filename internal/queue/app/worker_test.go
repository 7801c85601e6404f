package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/polarpost/mailroom/internal/queue/domain"
)

type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobRepository) Claim(ctx context.Context, types []domain.JobType, limit int, leaseToken uuid.UUID, leaseFor time.Duration) ([]*domain.Job, error) {
	args := m.Called(ctx, types, limit, leaseToken, leaseFor)
	if jobs, ok := args.Get(0).([]*domain.Job); ok {
		return jobs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobRepository) Complete(ctx context.Context, jobID, leaseToken uuid.UUID) error {
	args := m.Called(ctx, jobID, leaseToken)
	return args.Error(0)
}

func (m *MockJobRepository) Requeue(ctx context.Context, jobID, leaseToken uuid.UUID, runAt time.Time, lastError string) error {
	args := m.Called(ctx, jobID, leaseToken, runAt, lastError)
	return args.Error(0)
}

func (m *MockJobRepository) MarkDead(ctx context.Context, jobID, leaseToken uuid.UUID, lastError string) error {
	args := m.Called(ctx, jobID, leaseToken, lastError)
	return args.Error(0)
}

func (m *MockJobRepository) ReclaimExpiredLeases(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockJobRepository) ListDead(ctx context.Context, limit, offset int) ([]*domain.Job, error) {
	args := m.Called(ctx, limit, offset)
	if jobs, ok := args.Get(0).([]*domain.Job); ok {
		return jobs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobRepository) RequeueDead(ctx context.Context, jobID uuid.UUID) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func newTestWorker(repo domain.JobRepository) *Worker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWorker(repo, logger, time.Second, 10, time.Minute, RetryPolicy{Base: time.Second, Cap: time.Minute})
}

func newLeasedJob(typ domain.JobType, attempts, maxAttempts int) *domain.Job {
	job, _ := domain.NewJob(typ, domain.LetterPayload{LetterID: uuid.New()}, maxAttempts)
	job.Status = domain.JobStatusLeased
	job.Attempts = attempts
	return job
}

func TestWorker_PollOnce_NoJobs(t *testing.T) {
	mockRepo := new(MockJobRepository)
	worker := newTestWorker(mockRepo)

	mockRepo.On("Claim", mock.Anything, mock.Anything, 10, mock.AnythingOfType("uuid.UUID"), time.Minute).
		Return(nil, domain.ErrNoEligibleJobs).Once()

	n, err := worker.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, n)
	mockRepo.AssertExpectations(t)
}

func TestWorker_PollOnce_ClaimsOnlyRegisteredTypes(t *testing.T) {
	mockRepo := new(MockJobRepository)
	worker := newTestWorker(mockRepo)
	worker.Register(domain.JobTypeProcessLetter, func(ctx context.Context, j *domain.Job) error { return nil })
	worker.Register(domain.JobTypeSendReply, func(ctx context.Context, j *domain.Job) error { return nil })

	// A processing-only worker must leave outbound jobs for the senders.
	mockRepo.On("Claim", mock.Anything, mock.MatchedBy(func(types []domain.JobType) bool {
		return assert.ObjectsAreEqual([]domain.JobType{domain.JobTypeProcessLetter, domain.JobTypeSendReply}, types)
	}), 10, mock.AnythingOfType("uuid.UUID"), time.Minute).
		Return(nil, domain.ErrNoEligibleJobs).Once()

	n, err := worker.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, n)
	mockRepo.AssertExpectations(t)
}

func TestWorker_PollOnce_CompletesSuccessfulJob(t *testing.T) {
	mockRepo := new(MockJobRepository)
	worker := newTestWorker(mockRepo)

	job := newLeasedJob(domain.JobTypeProcessLetter, 1, 3)
	var handled bool
	worker.Register(domain.JobTypeProcessLetter, func(ctx context.Context, j *domain.Job) error {
		handled = true
		assert.Equal(t, job.ID, j.ID)
		return nil
	})

	mockRepo.On("Claim", mock.Anything, mock.Anything, 10, mock.AnythingOfType("uuid.UUID"), time.Minute).
		Return([]*domain.Job{job}, nil).Once()
	mockRepo.On("Complete", mock.Anything, job.ID, mock.AnythingOfType("uuid.UUID")).
		Return(nil).Once()

	n, err := worker.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, handled)
	mockRepo.AssertExpectations(t)
}

func TestWorker_PollOnce_TransientFailureRequeuesWithBackoff(t *testing.T) {
	mockRepo := new(MockJobRepository)
	worker := newTestWorker(mockRepo)

	job := newLeasedJob(domain.JobTypeSendReply, 1, 3)
	worker.Register(domain.JobTypeSendReply, func(ctx context.Context, j *domain.Job) error {
		return errors.New("smtp connection refused")
	})

	mockRepo.On("Claim", mock.Anything, mock.Anything, 10, mock.AnythingOfType("uuid.UUID"), time.Minute).
		Return([]*domain.Job{job}, nil).Once()
	mockRepo.On("Requeue", mock.Anything, job.ID, mock.AnythingOfType("uuid.UUID"),
		mock.MatchedBy(func(runAt time.Time) bool { return runAt.After(time.Now()) }),
		"smtp connection refused").
		Return(nil).Once()

	_, err := worker.PollOnce(context.Background())

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "MarkDead", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_PollOnce_PermanentFailureDeadLettersImmediately(t *testing.T) {
	mockRepo := new(MockJobRepository)
	worker := newTestWorker(mockRepo)

	// First attempt out of three: permanence must override remaining attempts.
	job := newLeasedJob(domain.JobTypeSendReply, 1, 3)
	worker.Register(domain.JobTypeSendReply, func(ctx context.Context, j *domain.Job) error {
		return domain.Permanent(errors.New("550 mailbox does not exist"))
	})

	mockRepo.On("Claim", mock.Anything, mock.Anything, 10, mock.AnythingOfType("uuid.UUID"), time.Minute).
		Return([]*domain.Job{job}, nil).Once()
	mockRepo.On("MarkDead", mock.Anything, job.ID, mock.AnythingOfType("uuid.UUID"), "550 mailbox does not exist").
		Return(nil).Once()

	_, err := worker.PollOnce(context.Background())

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "Requeue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_PollOnce_ExhaustedAttemptsDeadLetters(t *testing.T) {
	mockRepo := new(MockJobRepository)
	worker := newTestWorker(mockRepo)

	job := newLeasedJob(domain.JobTypeProcessLetter, 3, 3)
	worker.Register(domain.JobTypeProcessLetter, func(ctx context.Context, j *domain.Job) error {
		return errors.New("model endpoint timeout")
	})

	mockRepo.On("Claim", mock.Anything, mock.Anything, 10, mock.AnythingOfType("uuid.UUID"), time.Minute).
		Return([]*domain.Job{job}, nil).Once()
	mockRepo.On("MarkDead", mock.Anything, job.ID, mock.AnythingOfType("uuid.UUID"), "model endpoint timeout").
		Return(nil).Once()

	_, err := worker.PollOnce(context.Background())

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestWorker_PollOnce_UnknownJobTypeDeadLetters(t *testing.T) {
	mockRepo := new(MockJobRepository)
	worker := newTestWorker(mockRepo)

	job := newLeasedJob(domain.JobType("mystery"), 1, 3)

	mockRepo.On("Claim", mock.Anything, mock.Anything, 10, mock.AnythingOfType("uuid.UUID"), time.Minute).
		Return([]*domain.Job{job}, nil).Once()
	mockRepo.On("MarkDead", mock.Anything, job.ID, mock.AnythingOfType("uuid.UUID"), mock.AnythingOfType("string")).
		Return(nil).Once()

	_, err := worker.PollOnce(context.Background())

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestPermanentError_WrapsAndUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := domain.Permanent(base)

	assert.True(t, domain.IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, domain.IsPermanent(base))
	assert.NoError(t, domain.Permanent(nil))
}
