package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"Agora/internal/core/jobs"
	"Agora/internal/core/notifications"
)

type stuckJob struct {
	row    jobs.Reaped
	status jobs.Status
	reason jobs.FailureReason
}

// tableSource mimics the guarded UPDATE ... RETURNING of the repositories.
type tableSource struct {
	mu   sync.Mutex
	jobs []*stuckJob
	err  error
}

func (s *tableSource) ReapStale(ctx context.Context, olderThan time.Time, reason jobs.FailureReason) ([]jobs.Reaped, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []jobs.Reaped
	for _, j := range s.jobs {
		if j.status == jobs.StatusProcessing && j.row.CreatedAt.Before(olderThan) {
			j.status = jobs.StatusFailed
			j.reason = reason
			out = append(out, j.row)
		}
	}
	return out, nil
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Notify(ctx context.Context, notice notifications.Notice) error {
	args := m.Called(ctx, notice)
	return args.Error(0)
}

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestReaper(t *testing.T, d notifications.Dispatcher) *Reaper {
	t.Helper()
	r, err := New(d, DefaultConfig(), nil)
	require.NoError(t, err)
	r.now = func() time.Time { return now }
	return r
}

func TestReaper_FailsStaleJobsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	imports := &tableSource{jobs: []*stuckJob{
		{row: jobs.Reaped{Kind: jobs.KindImport, JobID: 1, SlugID: "imp-old", UserID: "user-1", CreatedAt: now.Add(-2 * time.Hour)}, status: jobs.StatusProcessing},
		{row: jobs.Reaped{Kind: jobs.KindImport, JobID: 2, SlugID: "imp-new", UserID: "user-2", CreatedAt: now.Add(-10 * time.Minute)}, status: jobs.StatusProcessing},
		{row: jobs.Reaped{Kind: jobs.KindImport, JobID: 3, SlugID: "imp-done", UserID: "user-3", CreatedAt: now.Add(-3 * time.Hour)}, status: jobs.StatusCompleted},
	}}
	exports := &tableSource{jobs: []*stuckJob{
		{row: jobs.Reaped{Kind: jobs.KindExport, JobID: 9, SlugID: "exp-old", UserID: "user-4", ConversationSlugID: "conv-a", CreatedAt: now.Add(-90 * time.Minute)}, status: jobs.StatusProcessing},
	}}

	d := &mockDispatcher{}
	d.On("Notify", mock.Anything, mock.MatchedBy(func(n notifications.Notice) bool {
		return n.Kind == jobs.KindImport && n.JobSlugID == "imp-old" && n.UserID == "user-1"
	})).Return(nil).Once()
	d.On("Notify", mock.Anything, mock.MatchedBy(func(n notifications.Notice) bool {
		f, ok := n.Outcome.(jobs.Failed)
		return n.Kind == jobs.KindExport && n.ConversationSlugID == "conv-a" && ok && f.Reason == jobs.ReasonServerRestart
	})).Return(nil).Once()

	r := newTestReaper(t, d)
	require.NoError(t, r.Register(jobs.KindImport, imports))
	require.NoError(t, r.Register(jobs.KindExport, exports))

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, jobs.ReasonServerRestart, imports.jobs[0].reason)
	assert.Equal(t, jobs.StatusProcessing, imports.jobs[1].status)
	assert.Equal(t, jobs.StatusCompleted, imports.jobs[2].status)

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	d.AssertExpectations(t)
	d.AssertNumberOfCalls(t, "Notify", 2)
}

func TestReaper_SourceErrorDoesNotStopOthers(t *testing.T) {
	broken := &tableSource{err: errors.New("connection refused")}
	healthy := &tableSource{jobs: []*stuckJob{
		{row: jobs.Reaped{Kind: jobs.KindExport, JobID: 1, SlugID: "exp", UserID: "user-1", CreatedAt: now.Add(-2 * time.Hour)}, status: jobs.StatusProcessing},
	}}

	d := &mockDispatcher{}
	d.On("Notify", mock.Anything, mock.Anything).Return(errors.New("socket closed"))

	r := newTestReaper(t, d)
	require.NoError(t, r.Register(jobs.KindImport, broken))
	require.NoError(t, r.Register(jobs.KindExport, healthy))

	n, err := r.RunOnce(context.Background())
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reap import jobs")
}

func TestReaper_RegisterRejectsDuplicateKind(t *testing.T) {
	r := newTestReaper(t, nil)
	require.NoError(t, r.Register(jobs.KindImport, &tableSource{}))
	assert.ErrorIs(t, r.Register(jobs.KindImport, &tableSource{}), ErrDuplicateSource)
}

func TestReaper_StartRunsImmediately(t *testing.T) {
	src := &tableSource{jobs: []*stuckJob{
		{row: jobs.Reaped{Kind: jobs.KindImport, JobID: 1, SlugID: "imp", CreatedAt: now.Add(-2 * time.Hour)}, status: jobs.StatusProcessing},
	}}
	r := newTestReaper(t, nil)
	require.NoError(t, r.Register(jobs.KindImport, src))

	r.Start(context.Background())
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.jobs[0].status == jobs.StatusFailed
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Stop(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Interval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidInterval)

	cfg = DefaultConfig()
	cfg.Threshold = -time.Minute
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidThreshold)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("REAPER_INTERVAL", "15m")
	t.Setenv("REAPER_THRESHOLD", "not-a-duration")

	cfg := ConfigFromEnv()
	assert.Equal(t, 15*time.Minute, cfg.Interval)
	assert.Equal(t, time.Hour, cfg.Threshold)
}
