package imports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"Agora/internal/core/jobs"
	"Agora/internal/core/notifications"
	"Agora/internal/queue"
)

// fakeJobs stores import jobs and applies the same processing guard as the
// SQL repository. It also plays ConversationCreator.
type fakeJobs struct {
	mu            sync.Mutex
	jobs          map[int64]*ImportJob
	nextID        int64
	conversations int
	drafts        []*ConversationDraft
	onCreate      func()
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[int64]*ImportJob)}
}

func (f *fakeJobs) Create(ctx context.Context, job *ImportJob) (*ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.UserID == job.UserID && j.Status == jobs.StatusProcessing {
			return nil, ErrImportInProgress
		}
	}
	f.nextID++
	stored := *job
	stored.ID = f.nextID
	stored.CreatedAt = time.Now()
	f.jobs[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (f *fakeJobs) GetBySlug(ctx context.Context, slugID string) (*ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.SlugID == slugID {
			out := *j
			return &out, nil
		}
	}
	return nil, ErrImportNotFound
}

func (f *fakeJobs) HasActive(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.UserID == userID && j.Status == jobs.StatusProcessing {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeJobs) Fail(ctx context.Context, jobID int64, reason jobs.FailureReason, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return ErrImportNotFound
	}
	if j.Status != jobs.StatusProcessing {
		return ErrJobNotProcessing
	}
	j.Status = jobs.StatusFailed
	j.FailureReason = reason
	return nil
}

func (f *fakeJobs) CreateImported(ctx context.Context, jobID int64, authorID string, draft *ConversationDraft) (*CreatedConversation, error) {
	if f.onCreate != nil {
		f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok || j.Status != jobs.StatusProcessing {
		return nil, ErrJobNotProcessing
	}
	f.conversations++
	f.drafts = append(f.drafts, draft)
	slug := fmt.Sprintf("conv-%d", f.conversations)
	id := int64(f.conversations)
	j.Status = jobs.StatusCompleted
	j.ConversationID = &id
	j.ConversationSlugID = slug
	return &CreatedConversation{SlugID: slug, ID: id}, nil
}

func (f *fakeJobs) job(id int64) ImportJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[id]
}

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) FetchConversation(ctx context.Context, ref PolisRef) (*RemoteConversation, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RemoteConversation), args.Error(1)
}

type recordingDispatcher struct {
	mu      sync.Mutex
	notices []notifications.Notice
}

func (d *recordingDispatcher) Notify(ctx context.Context, notice notifications.Notice) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, notice)
	return nil
}

func (d *recordingDispatcher) types(t *testing.T) []notifications.Type {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notifications.Type
	for _, n := range d.notices {
		typ, err := notifications.TypeFor(n.Kind, n.Outcome)
		require.NoError(t, err)
		out = append(out, typ)
	}
	return out
}

func (d *recordingDispatcher) last() notifications.Notice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notices[len(d.notices)-1]
}

type failingPushStore struct {
	queue.Store
}

func (s failingPushStore) Push(ctx context.Context, key string, payload []byte) error {
	return errors.New("connection refused")
}

type testEnv struct {
	buffer     *Buffer
	store      queue.Store
	jobs       *fakeJobs
	remote     *mockRemote
	dispatcher *recordingDispatcher
}

func newTestEnv(t *testing.T, store queue.Store) *testEnv {
	t.Helper()
	if store == nil {
		store = queue.NewMemoryStore()
	}
	env := &testEnv{
		store:      store,
		jobs:       newFakeJobs(),
		remote:     &mockRemote{},
		dispatcher: &recordingDispatcher{},
	}
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	cfg.ItemTimeout = time.Second
	b, err := NewBuffer(store, env.jobs, env.jobs, env.remote, env.dispatcher, cfg, nil)
	require.NoError(t, err)
	env.buffer = b
	return env
}

func TestBuffer_CSVImportCompletes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	job, err := env.buffer.SubmitCSV(ctx, "user-1", testFiles())
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, job.Status)
	assert.NotEmpty(t, job.SlugID)

	queued, err := env.store.Len(ctx, queue.ImportQueueKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), queued)

	require.NoError(t, env.buffer.Flush(ctx))

	stored := env.jobs.job(job.ID)
	assert.Equal(t, jobs.StatusCompleted, stored.Status)
	assert.Equal(t, "conv-1", stored.ConversationSlugID)
	assert.Equal(t, []notifications.Type{notifications.TypeImportStarted, notifications.TypeImportCompleted},
		env.dispatcher.types(t))
	assert.Equal(t, "conv-1", env.dispatcher.last().ConversationSlugID)

	require.Len(t, env.jobs.drafts, 1)
	assert.Equal(t, "Climate action in our town", env.jobs.drafts[0].Title)
	assert.Len(t, env.jobs.drafts[0].Votes, 3)
}

func TestBuffer_SubmitCSVValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	files := testFiles()
	files.Votes = ""
	_, err := env.buffer.SubmitCSV(ctx, "user-1", files)
	assert.ErrorIs(t, err, ErrMissingFile)
	assert.Contains(t, err.Error(), "votesFile")

	env.buffer.cfg.MaxFileSize = 64
	_, err = env.buffer.SubmitCSV(ctx, "user-1", testFiles())
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Contains(t, err.Error(), "limit is 64 B")

	assert.Empty(t, env.dispatcher.notices)
}

func TestBuffer_RejectsSecondActiveImport(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	_, err := env.buffer.SubmitCSV(ctx, "user-1", testFiles())
	require.NoError(t, err)

	_, err = env.buffer.SubmitCSV(ctx, "user-1", testFiles())
	assert.ErrorIs(t, err, ErrImportInProgress)

	_, err = env.buffer.SubmitCSV(ctx, "user-2", testFiles())
	assert.NoError(t, err)
}

func TestBuffer_InvalidCSVFailsWithDataFormat(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	files := testFiles()
	files.Comments = "timestamp,comment-id\n1,2\n"
	job, err := env.buffer.SubmitCSV(ctx, "user-1", files)
	require.NoError(t, err)

	require.NoError(t, env.buffer.Flush(ctx))

	stored := env.jobs.job(job.ID)
	assert.Equal(t, jobs.StatusFailed, stored.Status)
	assert.Equal(t, jobs.ReasonInvalidDataFormat, stored.FailureReason)
	assert.Zero(t, env.jobs.conversations)

	failed, ok := env.dispatcher.last().Outcome.(jobs.Failed)
	require.True(t, ok)
	assert.Equal(t, jobs.ReasonInvalidDataFormat, failed.Reason)
}

func TestBuffer_URLImport(t *testing.T) {
	tests := []struct {
		name       string
		result     *RemoteConversation
		err        error
		wantStatus jobs.Status
		wantReason jobs.FailureReason
	}{
		{"completes", remoteFixture(), nil, jobs.StatusCompleted, ""},
		{"remote rejects", nil, fmt.Errorf("%w: status 404", ErrRemoteRejected), jobs.StatusFailed, jobs.ReasonInvalidDataFormat},
		{"deadline", nil, fmt.Errorf("request failed: %w", context.DeadlineExceeded), jobs.StatusFailed, jobs.ReasonTimeout},
		{"server error", nil, errors.New("status 502"), jobs.StatusFailed, jobs.ReasonProcessingError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t, nil)
			env.remote.On("FetchConversation", mock.Anything, mock.MatchedBy(func(ref PolisRef) bool {
				return ref.Kind == RefReport && ref.ID == "r4xyz"
			})).Return(tt.result, tt.err)

			job, err := env.buffer.SubmitURL(ctx, "user-1", "https://pol.is/report/r4xyz")
			require.NoError(t, err)
			assert.Equal(t, SourceURL, job.Source)

			require.NoError(t, env.buffer.Flush(ctx))

			stored := env.jobs.job(job.ID)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, tt.wantReason, stored.FailureReason)
			env.remote.AssertExpectations(t)
		})
	}
}

func TestBuffer_SubmitURLRejectsForeignHost(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.buffer.SubmitURL(context.Background(), "user-1", "https://example.com/3abcd")
	assert.ErrorIs(t, err, ErrInvalidPolisURL)
	env.remote.AssertNotCalled(t, "FetchConversation", mock.Anything, mock.Anything)
}

func TestBuffer_ReapedJobYieldsNoConversation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	job, err := env.buffer.SubmitCSV(ctx, "user-1", testFiles())
	require.NoError(t, err)

	// The reaper fails the job before the flush picks it up.
	require.NoError(t, env.jobs.Fail(ctx, job.ID, jobs.ReasonServerRestart, "stale"))

	require.NoError(t, env.buffer.Flush(ctx))

	assert.Zero(t, env.jobs.conversations)
	stored := env.jobs.job(job.ID)
	assert.Equal(t, jobs.ReasonServerRestart, stored.FailureReason)
	assert.Equal(t, []notifications.Type{notifications.TypeImportStarted}, env.dispatcher.types(t))
}

func TestBuffer_ConcurrentFlushesProcessEachImportOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	const n = 8
	for i := 0; i < n; i++ {
		_, err := env.buffer.SubmitCSV(ctx, fmt.Sprintf("user-%d", i), testFiles())
		require.NoError(t, err)
	}
	env.buffer.cfg.BatchSize = n

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.buffer.Flush(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, n, env.jobs.conversations)
	completed := 0
	for _, typ := range env.dispatcher.types(t) {
		if typ == notifications.TypeImportCompleted {
			completed++
		}
	}
	assert.Equal(t, n, completed)
}

func TestBuffer_PushFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, failingPushStore{Store: queue.NewMemoryStore()})

	_, err := env.buffer.SubmitCSV(ctx, "user-1", testFiles())
	require.Error(t, err)

	stored := env.jobs.job(1)
	assert.Equal(t, jobs.StatusFailed, stored.Status)
	assert.Equal(t, jobs.ReasonProcessingError, stored.FailureReason)
	assert.Equal(t, []notifications.Type{notifications.TypeImportStarted, notifications.TypeImportFailed},
		env.dispatcher.types(t))

	// The failed job no longer blocks the user.
	active, err := env.jobs.HasActive(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestBuffer_PanicIsIsolated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	var calls int
	var mu sync.Mutex
	env.jobs.onCreate = func() {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			panic("boom")
		}
	}

	_, err := env.buffer.SubmitCSV(ctx, "user-1", testFiles())
	require.NoError(t, err)
	_, err = env.buffer.SubmitCSV(ctx, "user-2", testFiles())
	require.NoError(t, err)

	require.NoError(t, env.buffer.Flush(ctx))

	statuses := []jobs.Status{env.jobs.job(1).Status, env.jobs.job(2).Status}
	assert.ElementsMatch(t, []jobs.Status{jobs.StatusFailed, jobs.StatusCompleted}, statuses)
	assert.Equal(t, 1, env.jobs.conversations)
}

func TestBuffer_UnreadableEntryFailsJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	job, err := env.jobs.Create(ctx, &ImportJob{SlugID: "slug-1", UserID: "user-1", Status: jobs.StatusProcessing})
	require.NoError(t, err)

	raw := fmt.Sprintf(`{"kind":"import","version":1,"payload":{"jobId":%d,"jobSlugId":"slug-1","userId":"user-1","source":"fax"}}`, job.ID)
	require.NoError(t, env.store.Push(ctx, queue.ImportQueueKey, []byte(raw)))
	require.NoError(t, env.store.Push(ctx, queue.ImportQueueKey, []byte("garbage")))

	require.NoError(t, env.buffer.Flush(ctx))

	stored := env.jobs.job(job.ID)
	assert.Equal(t, jobs.StatusFailed, stored.Status)
	assert.Equal(t, jobs.ReasonInvalidDataFormat, stored.FailureReason)

	queued, err := env.store.Len(ctx, queue.ImportQueueKey)
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestBuffer_GetChecksOwner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	job, err := env.buffer.SubmitCSV(ctx, "user-1", testFiles())
	require.NoError(t, err)

	got, err := env.buffer.Get(ctx, job.SlugID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = env.buffer.Get(ctx, job.SlugID, "user-2")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = env.buffer.Get(ctx, "missing", "user-1")
	assert.ErrorIs(t, err, ErrImportNotFound)
}

func TestBuffer_ShutdownDrainsAndRejects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	_, err := env.buffer.SubmitCSV(ctx, "user-1", testFiles())
	require.NoError(t, err)

	env.buffer.Start(ctx)
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, env.buffer.Shutdown(shutdownCtx))

	assert.Equal(t, 1, env.jobs.conversations)

	_, err = env.buffer.SubmitCSV(ctx, "user-2", testFiles())
	assert.ErrorIs(t, err, ErrBufferClosed)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"batch", func(c *Config) { c.BatchSize = 0 }, ErrInvalidBatchSize},
		{"concurrency", func(c *Config) { c.Concurrency = -1 }, ErrInvalidConcurrency},
		{"interval", func(c *Config) { c.FlushInterval = 0 }, ErrInvalidFlushInterval},
		{"file size", func(c *Config) { c.MaxFileSize = 0 }, ErrInvalidMaxFileSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("IMPORT_BATCH_SIZE", "25")
	t.Setenv("IMPORT_MAX_FILE_SIZE_MB", "5")
	t.Setenv("IMPORT_CONCURRENCY", "nope")

	cfg := ConfigFromEnv()
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, int64(5<<20), cfg.MaxFileSize)
	assert.Equal(t, DefaultConfig().Concurrency, cfg.Concurrency)
	assert.Equal(t, time.Second, cfg.FlushInterval)
}
