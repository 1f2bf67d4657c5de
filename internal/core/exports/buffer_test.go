package exports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Agora/internal/core/jobs"
	"Agora/internal/core/notifications"
	"Agora/internal/core/votes"
	"Agora/internal/queue"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeRepo keeps export jobs in memory with the same status guards as the
// SQL repository.
type fakeRepo struct {
	mu     sync.Mutex
	clock  *clock
	jobs   map[int64]*ExportJob
	nextID int64
	fileID int64
}

func newFakeRepo(c *clock) *fakeRepo {
	return &fakeRepo{clock: c, jobs: make(map[int64]*ExportJob)}
}

func copyJob(j *ExportJob) *ExportJob {
	out := *j
	out.Files = append([]ExportFile(nil), j.Files...)
	return &out
}

func (r *fakeRepo) Create(ctx context.Context, job *ExportJob) (*ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ConversationID == job.ConversationID && j.Status == jobs.StatusProcessing {
			return nil, ErrExportInProgress
		}
	}
	r.nextID++
	stored := copyJob(job)
	stored.ID = r.nextID
	stored.CreatedAt = r.clock.now()
	r.jobs[stored.ID] = stored
	return copyJob(stored), nil
}

func (r *fakeRepo) GetBySlug(ctx context.Context, slugID string) (*ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.SlugID == slugID {
			return copyJob(j), nil
		}
	}
	return nil, ErrExportNotFound
}

func (r *fakeRepo) latest(conversationID int64, status jobs.Status) *ExportJob {
	var best *ExportJob
	for _, j := range r.jobs {
		if j.ConversationID != conversationID || j.Status != status || j.DeletedAt != nil {
			continue
		}
		if best == nil || j.ID > best.ID {
			best = j
		}
	}
	if best == nil {
		return nil
	}
	return copyJob(best)
}

func (r *fakeRepo) LatestActive(ctx context.Context, conversationID int64) (*ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest(conversationID, jobs.StatusProcessing), nil
}

func (r *fakeRepo) LatestCompleted(ctx context.Context, conversationID int64) (*ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest(conversationID, jobs.StatusCompleted), nil
}

func (r *fakeRepo) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ExportJob
	for _, j := range r.jobs {
		if j.ConversationID == conversationID && j.DeletedAt == nil {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) Complete(ctx context.Context, jobID int64, files []ExportFile, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[jobID]
	if j == nil || j.Status != jobs.StatusProcessing {
		return ErrJobNotProcessing
	}
	now := r.clock.now()
	j.Status = jobs.StatusCompleted
	j.CompletedAt = &now
	j.ExpiresAt = &expiresAt
	j.Files = nil
	for _, f := range files {
		r.fileID++
		f.ID = r.fileID
		j.Files = append(j.Files, f)
	}
	return nil
}

func (r *fakeRepo) Fail(ctx context.Context, jobID int64, reason jobs.FailureReason, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[jobID]
	if j == nil || j.Status != jobs.StatusProcessing {
		return ErrJobNotProcessing
	}
	j.Status = jobs.StatusFailed
	j.FailureReason = reason
	j.Message = message
	return nil
}

func (r *fakeRepo) Cancel(ctx context.Context, jobID int64, reason, cancelledBy string) ([]ExportFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[jobID]
	if j == nil || j.DeletedAt != nil || (j.Status != jobs.StatusProcessing && j.Status != jobs.StatusCompleted) {
		return nil, ErrNotCancellable
	}
	j.Status = jobs.StatusCancelled
	j.CancellationReason = reason
	return append([]ExportFile(nil), j.Files...), nil
}

func (r *fakeRepo) ListSweepable(ctx context.Context, now time.Time, limit int) ([]*ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ExportJob
	for _, j := range r.jobs {
		if j.DeletedAt != nil {
			continue
		}
		expired := j.Status == jobs.StatusCompleted && j.ExpiresAt != nil && j.ExpiresAt.Before(now)
		if expired || j.Status == jobs.StatusCancelled {
			out = append(out, copyJob(j))
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkDeleted(ctx context.Context, jobID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.now()
	r.jobs[jobID].DeletedAt = &now
	return nil
}

func (r *fakeRepo) UpdateFileURL(ctx context.Context, fileID int64, url string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		for i := range j.Files {
			if j.Files[i].ID == fileID {
				j.Files[i].URL = url
				j.Files[i].URLExpiresAt = expiresAt
				return nil
			}
		}
	}
	return errors.New("file not found")
}

func (r *fakeRepo) job(id int64) *ExportJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyJob(r.jobs[id])
}

type fakeConversations map[string]*Conversation

func (f fakeConversations) GetConversation(ctx context.Context, slugID string) (*Conversation, error) {
	c, ok := f[slugID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c, nil
}

type fakeSource struct {
	opinions []OpinionRow
	votes    []VoteRow
	err      error
}

func (s *fakeSource) ListOpinions(ctx context.Context, conversationID int64) ([]OpinionRow, error) {
	return s.opinions, s.err
}

func (s *fakeSource) ListVotes(ctx context.Context, conversationID int64) ([]VoteRow, error) {
	return s.votes, s.err
}

type storedObject struct {
	body         []byte
	contentType  string
	downloadName string
}

type memObjects struct {
	mu         sync.Mutex
	clock      *clock
	objects    map[string]storedObject
	failOn     string
	failDelete bool
	presigned  int
}

func newMemObjects(c *clock) *memObjects {
	return &memObjects{clock: c, objects: make(map[string]storedObject)}
}

func (m *memObjects) Upload(ctx context.Context, key string, body []byte, contentType, downloadName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && strings.HasSuffix(key, m.failOn) {
		return errors.New("access denied")
	}
	m.objects[key] = storedObject{body: body, contentType: contentType, downloadName: downloadName}
	return nil
}

func (m *memObjects) Presign(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presigned++
	return fmt.Sprintf("https://bucket.example/%s?sig=%d", key, m.presigned), m.clock.now().Add(ttl), nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return errors.New("service unavailable")
	}
	delete(m.objects, key)
	return nil
}

func (m *memObjects) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
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

type testEnv struct {
	buffer     *Buffer
	clock      *clock
	repo       *fakeRepo
	objects    *memObjects
	source     *fakeSource
	dispatcher *recordingDispatcher
	store      queue.Store
}

var testStart = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	c := &clock{t: testStart}
	env := &testEnv{
		clock:   c,
		repo:    newFakeRepo(c),
		objects: newMemObjects(c),
		source: &fakeSource{
			opinions: []OpinionRow{
				{ID: 11, AuthorParticipant: 0, Body: "Plant trees", Agrees: 2, Disagrees: 1, CreatedAt: testStart.Add(-time.Hour)},
			},
			votes: []VoteRow{
				{OpinionID: 11, VoterParticipant: 1, Value: votes.ValueDisagree, CastAt: testStart.Add(-time.Minute)},
			},
		},
		dispatcher: &recordingDispatcher{},
		store:      queue.NewMemoryStore(),
	}
	convs := fakeConversations{
		"conv-a":  {ID: 1, SlugID: "conv-a", OpinionCount: 1},
		"conv-b":  {ID: 2, SlugID: "conv-b", OpinionCount: 3},
		"empty-c": {ID: 3, SlugID: "empty-c", OpinionCount: 0},
	}

	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	b, err := NewBuffer(env.store, env.repo, convs, env.source, env.objects, nil, env.dispatcher, cfg, nil)
	require.NoError(t, err)
	b.now = c.now
	env.buffer = b
	return env
}

func accept(t *testing.T, env *testEnv, conversationSlugID string) *ExportJob {
	t.Helper()
	adm, err := env.buffer.Request(context.Background(), conversationSlugID, "user-1")
	require.NoError(t, err)
	acc, ok := adm.(Accepted)
	require.True(t, ok, "expected Accepted, got %#v", adm)
	return acc.Job
}

func TestBuffer_ExportCompletes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	job := accept(t, env, "conv-a")
	assert.Equal(t, jobs.StatusProcessing, job.Status)

	require.NoError(t, env.buffer.Flush(ctx))

	stored := env.repo.job(job.ID)
	assert.Equal(t, jobs.StatusCompleted, stored.Status)
	require.NotNil(t, stored.ExpiresAt)
	assert.Equal(t, testStart.AddDate(0, 0, 30), *stored.ExpiresAt)
	require.Len(t, stored.Files, 2)
	assert.Equal(t, "comments", stored.Files[0].FileType)
	assert.Equal(t, "votes.csv", stored.Files[1].FileName)
	assert.Equal(t, 1, stored.Files[1].RecordCount)
	assert.Equal(t, testStart.Add(time.Hour), stored.Files[0].URLExpiresAt)

	wantKeys := []string{
		"exports/conversations/conv-a/" + job.SlugID + "/comments.csv",
		"exports/conversations/conv-a/" + job.SlugID + "/votes.csv",
	}
	assert.Equal(t, wantKeys, env.objects.keys())
	obj := env.objects.objects[wantKeys[0]]
	assert.Equal(t, "conv-a-comments-20240305-140709.csv", obj.downloadName)
	assert.Equal(t, "text/csv; charset=utf-8", obj.contentType)

	assert.Equal(t, []notifications.Type{notifications.TypeExportStarted, notifications.TypeExportCompleted},
		env.dispatcher.types(t))

	queued, err := env.store.Len(ctx, queue.ExportQueueKey)
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestBuffer_RejectInProgressThenCooldownThenAccept(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first := accept(t, env, "conv-a")

	adm, err := env.buffer.Request(ctx, "conv-a", "user-2")
	require.NoError(t, err)
	assert.Equal(t, Rejected{Reason: RejectAlreadyInProgress, ActiveSlugID: first.SlugID}, adm)

	require.NoError(t, env.buffer.Flush(ctx))
	env.clock.advance(100 * time.Second)

	adm, err = env.buffer.Request(ctx, "conv-a", "user-2")
	require.NoError(t, err)
	assert.Equal(t, Rejected{Reason: RejectCooldown, RetryAfter: 200 * time.Second}, adm)

	ready, err := env.buffer.Readiness(ctx, "conv-a")
	require.NoError(t, err)
	assert.Equal(t, ReadinessCooldown, ready.State)

	// Other conversations are unaffected.
	accept(t, env, "conv-b")

	env.clock.advance(200 * time.Second)
	accept(t, env, "conv-a")
}

func TestBuffer_RequestRejections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	adm, err := env.buffer.Request(ctx, "missing", "user-1")
	require.NoError(t, err)
	assert.Equal(t, Rejected{Reason: RejectConversationNotFound}, adm)

	adm, err = env.buffer.Request(ctx, "empty-c", "user-1")
	require.NoError(t, err)
	assert.Equal(t, Rejected{Reason: RejectNoOpinions}, adm)

	assert.Empty(t, env.dispatcher.notices)
}

// racingRepo hides processing jobs from LatestActive so that Request
// reaches Create and hits the unique index.
type racingRepo struct {
	*fakeRepo
}

func (r racingRepo) LatestActive(ctx context.Context, conversationID int64) (*ExportJob, error) {
	return nil, nil
}

func TestBuffer_RequestLosesIndexRace(t *testing.T) {
	env := newTestEnv(t)
	accept(t, env, "conv-a")
	env.buffer.repo = racingRepo{env.repo}

	adm, err := env.buffer.Request(context.Background(), "conv-a", "user-2")
	require.NoError(t, err)
	assert.Equal(t, Rejected{Reason: RejectAlreadyInProgress}, adm)
}

func TestBuffer_UploadFailureFailsAndCleansUp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.objects.failOn = "votes.csv"

	job := accept(t, env, "conv-a")
	require.NoError(t, env.buffer.Flush(ctx))

	stored := env.repo.job(job.ID)
	assert.Equal(t, jobs.StatusFailed, stored.Status)
	assert.Equal(t, jobs.ReasonProcessingError, stored.FailureReason)
	assert.Contains(t, stored.Message, "failed to upload votes")
	assert.Empty(t, env.objects.keys())
	assert.Equal(t, []notifications.Type{notifications.TypeExportStarted, notifications.TypeExportFailed},
		env.dispatcher.types(t))

	// A failed export does not start a cooldown.
	accept(t, env, "conv-a")
}

func TestBuffer_GeneratorFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.source.err = errors.New("relation does not exist")

	job := accept(t, env, "conv-a")
	require.NoError(t, env.buffer.Flush(ctx))

	assert.Equal(t, jobs.StatusFailed, env.repo.job(job.ID).Status)
}

func TestBuffer_CancelCompleted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	job := accept(t, env, "conv-a")
	require.NoError(t, env.buffer.Flush(ctx))
	require.Len(t, env.objects.keys(), 2)

	require.NoError(t, env.buffer.Cancel(ctx, job.SlugID, "mod-1", "contains personal data"))

	stored := env.repo.job(job.ID)
	assert.Equal(t, jobs.StatusCancelled, stored.Status)
	assert.Equal(t, "contains personal data", stored.CancellationReason)
	assert.Empty(t, env.objects.keys())

	last := env.dispatcher.notices[len(env.dispatcher.notices)-1]
	assert.Equal(t, "user-1", last.UserID)
	assert.Equal(t, jobs.Cancelled{Reason: "contains personal data", By: "mod-1"}, last.Outcome)

	assert.ErrorIs(t, env.buffer.Cancel(ctx, job.SlugID, "mod-1", ""), ErrNotCancellable)
}

func TestBuffer_CancelWhileProcessingDiscardsArtifacts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	job := accept(t, env, "conv-a")
	require.NoError(t, env.buffer.Cancel(ctx, job.SlugID, "mod-1", ""))
	require.NoError(t, env.buffer.Flush(ctx))

	stored := env.repo.job(job.ID)
	assert.Equal(t, jobs.StatusCancelled, stored.Status)
	assert.Equal(t, "cancelled by moderator", stored.CancellationReason)
	assert.Empty(t, env.objects.keys())
	assert.Equal(t, []notifications.Type{notifications.TypeExportStarted, notifications.TypeExportCancelled},
		env.dispatcher.types(t))
}

// completingRepo lets an export finish between the read and the update
// that Cancel performs.
type completingRepo struct {
	*fakeRepo
	beforeCancel func()
}

func (r completingRepo) Cancel(ctx context.Context, jobID int64, reason, cancelledBy string) ([]ExportFile, error) {
	r.beforeCancel()
	return r.fakeRepo.Cancel(ctx, jobID, reason, cancelledBy)
}

func TestBuffer_CancelRacingCompletionRemovesArtifacts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	job := accept(t, env, "conv-a")

	env.buffer.repo = completingRepo{fakeRepo: env.repo, beforeCancel: func() {
		require.NoError(t, env.buffer.Flush(ctx))
		require.Len(t, env.objects.keys(), 2)
	}}
	require.NoError(t, env.buffer.Cancel(ctx, job.SlugID, "mod-1", ""))

	stored := env.repo.job(job.ID)
	assert.Equal(t, jobs.StatusCancelled, stored.Status)
	assert.NotNil(t, stored.DeletedAt)
	assert.Empty(t, env.objects.keys())

	swept, err := env.buffer.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestBuffer_CancelledArtifactsLeftBehindAreSwept(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	job := accept(t, env, "conv-a")
	require.NoError(t, env.buffer.Flush(ctx))

	env.objects.failDelete = true
	require.NoError(t, env.buffer.Cancel(ctx, job.SlugID, "mod-1", ""))
	assert.Len(t, env.objects.keys(), 2)
	assert.Nil(t, env.repo.job(job.ID).DeletedAt)

	presigned := env.objects.presigned
	got, err := env.buffer.Get(ctx, job.SlugID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, got.Status)
	assert.Empty(t, got.Files)
	assert.Equal(t, presigned, env.objects.presigned)

	env.objects.failDelete = false
	swept, err := env.buffer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Empty(t, env.objects.keys())
	assert.NotNil(t, env.repo.job(job.ID).DeletedAt)

	got, err = env.buffer.Get(ctx, job.SlugID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, got.Status)
}

func TestBuffer_CancelFailedIsRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.objects.failOn = "comments.csv"

	job := accept(t, env, "conv-a")
	require.NoError(t, env.buffer.Flush(ctx))

	assert.ErrorIs(t, env.buffer.Cancel(ctx, job.SlugID, "mod-1", ""), ErrNotCancellable)
	assert.ErrorIs(t, env.buffer.Cancel(ctx, "missing", "mod-1", ""), ErrExportNotFound)
}

func TestBuffer_GetRefreshesExpiredURLs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	job := accept(t, env, "conv-a")
	require.NoError(t, env.buffer.Flush(ctx))

	got, err := env.buffer.Get(ctx, job.SlugID)
	require.NoError(t, err)
	firstURL := got.Files[0].URL
	presigned := env.objects.presigned

	env.clock.advance(2 * time.Hour)

	got, err = env.buffer.Get(ctx, job.SlugID)
	require.NoError(t, err)
	assert.NotEqual(t, firstURL, got.Files[0].URL)
	assert.Equal(t, presigned+2, env.objects.presigned)
	assert.Equal(t, env.clock.now().Add(time.Hour), got.Files[0].URLExpiresAt)

	stored := env.repo.job(job.ID)
	assert.Equal(t, got.Files[0].URL, stored.Files[0].URL)
}

func TestBuffer_SweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	job := accept(t, env, "conv-a")
	require.NoError(t, env.buffer.Flush(ctx))

	swept, err := env.buffer.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	env.clock.advance(31 * 24 * time.Hour)
	swept, err = env.buffer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Empty(t, env.objects.keys())

	_, err = env.buffer.Get(ctx, job.SlugID)
	assert.ErrorIs(t, err, ErrExportNotFound)

	swept, err = env.buffer.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestBuffer_HistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.buffer.cfg.Cooldown = 0

	first := accept(t, env, "conv-a")
	require.NoError(t, env.buffer.Flush(ctx))
	second := accept(t, env, "conv-a")

	history, err := env.buffer.History(ctx, "conv-a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.SlugID, history[0].SlugID)
	assert.Equal(t, first.SlugID, history[1].SlugID)
}

func TestBuffer_UnreadableEntryFailsJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	job := accept(t, env, "conv-a")
	raw := fmt.Sprintf(`{"kind":"export","version":1,"payload":{"exportId":%d,"userId":"user-1"}}`, job.ID)
	require.NoError(t, env.store.HashSet(ctx, queue.ExportQueueKey, job.SlugID, []byte(raw)))

	require.NoError(t, env.buffer.Flush(ctx))

	stored := env.repo.job(job.ID)
	assert.Equal(t, jobs.StatusFailed, stored.Status)
	assert.Equal(t, jobs.ReasonInvalidDataFormat, stored.FailureReason)
}

func TestBuffer_ShutdownRejectsRequests(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	job := accept(t, env, "conv-a")

	env.buffer.Start(ctx)
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, env.buffer.Shutdown(shutdownCtx))

	assert.Equal(t, jobs.StatusCompleted, env.repo.job(job.ID).Status)
	_, err := env.buffer.Request(ctx, "conv-b", "user-1")
	assert.ErrorIs(t, err, ErrBufferClosed)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"batch", func(c *Config) { c.BatchSize = 0 }, ErrInvalidBatchSize},
		{"concurrency", func(c *Config) { c.Concurrency = 0 }, ErrInvalidConcurrency},
		{"interval", func(c *Config) { c.FlushInterval = 0 }, ErrInvalidFlushInterval},
		{"cooldown", func(c *Config) { c.Cooldown = -time.Second }, ErrInvalidCooldown},
		{"url ttl", func(c *Config) { c.URLTTL = 8 * 24 * time.Hour }, ErrInvalidURLTTL},
		{"expiry", func(c *Config) { c.ExpiryDays = 0 }, ErrInvalidExpiryDays},
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

func TestConfigFromEnv_ZeroCooldownDisablesIt(t *testing.T) {
	t.Setenv("EXPORT_COOLDOWN", "0")
	cfg := ConfigFromEnv()
	assert.Zero(t, cfg.Cooldown)
	require.NoError(t, cfg.Validate())

	t.Setenv("EXPORT_COOLDOWN", "-1m")
	assert.Equal(t, DefaultConfig().Cooldown, ConfigFromEnv().Cooldown)
}
