package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"Agora/internal/core/jobs"
	"Agora/internal/worker"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Create(ctx context.Context, n *Notification) (*Notification, error) {
	args := m.Called(ctx, n)
	if fn, ok := args.Get(0).(func(context.Context, *Notification) *Notification); ok {
		return fn(ctx, n), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Notification), args.Error(1)
}

func (m *mockRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Notification), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(userID string, n *Notification) error {
	args := m.Called(userID, n)
	return args.Error(0)
}

func echoCreate(repo *mockRepository) {
	repo.On("Create", mock.Anything, mock.AnythingOfType("*notifications.Notification")).
		Return(func(_ context.Context, n *Notification) *Notification { return n }, nil)
}

func TestTypeFor(t *testing.T) {
	tests := []struct {
		kind    jobs.Kind
		outcome jobs.Outcome
		want    Type
		wantErr bool
	}{
		{jobs.KindImport, nil, TypeImportStarted, false},
		{jobs.KindImport, jobs.Completed{}, TypeImportCompleted, false},
		{jobs.KindImport, jobs.Failed{Reason: jobs.ReasonTimeout}, TypeImportFailed, false},
		{jobs.KindImport, jobs.Cancelled{}, "", true},
		{jobs.KindExport, nil, TypeExportStarted, false},
		{jobs.KindExport, jobs.Completed{}, TypeExportCompleted, false},
		{jobs.KindExport, jobs.Failed{}, TypeExportFailed, false},
		{jobs.KindExport, jobs.Cancelled{}, TypeExportCancelled, false},
		{jobs.Kind("unknown"), jobs.Completed{}, "", true},
	}

	for _, tt := range tests {
		got, err := TypeFor(tt.kind, tt.outcome)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedOutcome, "%s/%T", tt.kind, tt.outcome)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestDispatcher_NotifyFailure(t *testing.T) {
	repo := &mockRepository{}
	pub := &mockPublisher{}
	echoCreate(repo)
	pub.On("Publish", "user-1", mock.AnythingOfType("*notifications.Notification")).Return(nil)

	d := NewDispatcher(repo, pub, nil)
	err := d.Notify(context.Background(), FromOutcome(jobs.KindImport, "user-1", "imp-1",
		jobs.Failed{Reason: jobs.ReasonServerRestart, Message: "stale"}))
	require.NoError(t, err)

	created := repo.Calls[0].Arguments.Get(1).(*Notification)
	assert.Equal(t, TypeImportFailed, created.Type)
	assert.Equal(t, "server_restart", created.FailureReason)
	assert.Equal(t, "imp-1", created.JobSlugID)
	assert.NotEmpty(t, created.SlugID)
	pub.AssertExpectations(t)
}

func TestDispatcher_NotifyCompletedCarriesConversation(t *testing.T) {
	repo := &mockRepository{}
	echoCreate(repo)

	d := NewDispatcher(repo, nil, nil)
	err := d.Notify(context.Background(), FromOutcome(jobs.KindImport, "user-1", "imp-1",
		jobs.Completed{ConversationSlugID: "conv-9"}))
	require.NoError(t, err)

	created := repo.Calls[0].Arguments.Get(1).(*Notification)
	assert.Equal(t, TypeImportCompleted, created.Type)
	assert.Equal(t, "conv-9", created.ConversationSlugID)
}

func TestDispatcher_PublishFailureIsNotFatal(t *testing.T) {
	repo := &mockRepository{}
	pub := &mockPublisher{}
	echoCreate(repo)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("socket closed"))

	d := NewDispatcher(repo, pub, nil)
	err := d.Notify(context.Background(), Started(jobs.KindExport, "user-2", "exp-1", "conv-1"))
	assert.NoError(t, err)
}

func TestDispatcher_PersistFailureIsReturned(t *testing.T) {
	repo := &mockRepository{}
	repo.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	d := NewDispatcher(repo, nil, nil).(*dispatcher)
	d.retry = worker.RetryPolicy{Attempts: 1, Base: time.Millisecond, Max: time.Millisecond}

	err := d.Notify(context.Background(), Started(jobs.KindImport, "user-1", "imp-1", ""))
	require.Error(t, err)
	repo.AssertNumberOfCalls(t, "Create", 2)
}

func TestDispatcher_RejectsMissingUser(t *testing.T) {
	d := NewDispatcher(&mockRepository{}, nil, nil)
	err := d.Notify(context.Background(), Started(jobs.KindImport, "", "imp-1", ""))
	assert.ErrorIs(t, err, ErrMissingUser)
}
