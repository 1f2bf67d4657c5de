package imports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"Agora/internal/core/jobs"
	"Agora/internal/core/notifications"
	"Agora/internal/metrics"
	"Agora/internal/queue"
	"Agora/internal/worker"
)

var importCodec = queue.MustCodec("import", queuedImportSchema)

// Buffer accepts conversation imports and runs them in the background.
//
// Delivery is at-most-once: a flush pops entries destructively, so a crash
// mid-pipeline loses the entry and leaves the job row in processing until
// the reaper fails it. The row's guarded terminal transition keeps the
// conversation and the outcome consistent with whoever wins.
type Buffer struct {
	store    queue.Store
	repo     Repository
	creator  ConversationCreator
	remote   RemoteSource
	notifier notifications.Dispatcher
	cfg      Config
	logger   *slog.Logger
	loop     *worker.Periodic
	retry    worker.RetryPolicy

	closeMu sync.RWMutex
	closed  bool
}

// NewBuffer creates an import buffer. remote may be nil, in which case URL
// imports fail at submission.
func NewBuffer(store queue.Store, repo Repository, creator ConversationCreator, remote RemoteSource, notifier notifications.Dispatcher, cfg Config, logger *slog.Logger) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Buffer{
		store:    store,
		repo:     repo,
		creator:  creator,
		remote:   remote,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		retry:    worker.DefaultRetryPolicy,
	}
	b.loop = worker.NewPeriodic("IMPORT-BUFFER", cfg.FlushInterval, b.Flush,
		worker.WithMaxBackoff(cfg.MaxBackoff),
		worker.WithLogger(logger),
	)
	return b, nil
}

// SubmitCSV validates the three Polis export files and queues the import.
func (b *Buffer) SubmitCSV(ctx context.Context, userID string, files CSVFiles) (*ImportJob, error) {
	for _, f := range []struct {
		field   string
		content string
	}{
		{"summaryFile", files.Summary},
		{"commentsFile", files.Comments},
		{"votesFile", files.Votes},
	} {
		if f.content == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, f.field)
		}
		if size := int64(len(f.content)); size > b.cfg.MaxFileSize {
			return nil, fmt.Errorf("%w: %s is %s, limit is %s", ErrFileTooLarge, f.field,
				humanize.IBytes(uint64(size)), humanize.IBytes(uint64(b.cfg.MaxFileSize)))
		}
	}

	job := &ImportJob{Source: SourceCSV}
	return b.submit(ctx, userID, job, queuedImport{Source: SourceCSV, Files: &files})
}

// SubmitURL validates a pol.is conversation or report URL and queues the
// import.
func (b *Buffer) SubmitURL(ctx context.Context, userID, polisURL string) (*ImportJob, error) {
	ref, err := ParsePolisURL(polisURL)
	if err != nil {
		return nil, err
	}
	if b.remote == nil {
		return nil, fmt.Errorf("%w: url imports are not configured", ErrRemoteRejected)
	}

	job := &ImportJob{Source: SourceURL, SourceLocator: ref.URL}
	return b.submit(ctx, userID, job, queuedImport{Source: SourceURL, PolisURL: ref.URL})
}

func (b *Buffer) submit(ctx context.Context, userID string, job *ImportJob, item queuedImport) (*ImportJob, error) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return nil, ErrBufferClosed
	}

	active, err := b.repo.HasActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active imports: %w", err)
	}
	if active {
		metrics.JobsSubmitted.WithLabelValues(string(jobs.KindImport), "in_progress").Inc()
		return nil, ErrImportInProgress
	}

	job.SlugID = uuid.NewString()
	job.UserID = userID
	job.Status = jobs.StatusProcessing
	created, err := b.repo.Create(ctx, job)
	if err != nil {
		if errors.Is(err, ErrImportInProgress) {
			metrics.JobsSubmitted.WithLabelValues(string(jobs.KindImport), "in_progress").Inc()
		}
		return nil, err
	}

	b.notify(ctx, notifications.Started(jobs.KindImport, userID, created.SlugID, ""))

	item.JobID = created.ID
	item.JobSlugID = created.SlugID
	item.UserID = userID
	payload, err := importCodec.Encode(item)
	if err == nil {
		err = b.store.Push(ctx, queue.ImportQueueKey, payload)
	}
	if err != nil {
		b.logger.Error("[IMPORT-BUFFER] failed to queue import", "import", created.SlugID, "error", err)
		b.finish(context.WithoutCancel(ctx), created, jobs.Failed{
			Reason:  jobs.ReasonProcessingError,
			Message: "failed to queue import",
		})
		return nil, fmt.Errorf("failed to queue import: %w", err)
	}

	metrics.JobsSubmitted.WithLabelValues(string(jobs.KindImport), "accepted").Inc()
	return created, nil
}

// Get returns an import job owned by userID.
func (b *Buffer) Get(ctx context.Context, slugID, userID string) (*ImportJob, error) {
	job, err := b.repo.GetBySlug(ctx, slugID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrNotOwner
	}
	return job, nil
}

// Flush pops up to BatchSize imports and runs them on a bounded pool.
func (b *Buffer) Flush(ctx context.Context) error {
	raws, err := b.store.PopN(ctx, queue.ImportQueueKey, b.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to pop imports: %w", err)
	}
	if len(raws) == 0 {
		return nil
	}

	var items []queuedImport
	for _, raw := range raws {
		var item queuedImport
		if err := importCodec.Decode(raw, &item); err != nil {
			b.discard(ctx, raw, err)
			continue
		}
		items = append(items, item)
	}

	b.logger.Info("[IMPORT-BUFFER] processing imports", "count", len(items))
	errs := worker.Each(ctx, b.cfg.Concurrency, items, b.process)
	for i, err := range errs {
		if errors.Is(err, worker.ErrPanicked) {
			// The pipeline panicked before recording an outcome.
			b.logger.Error("[IMPORT-BUFFER] CRITICAL: import pipeline panicked",
				"import", items[i].JobSlugID,
				"error", err,
			)
			b.finish(ctx, jobRef(items[i]), jobs.Failed{
				Reason:  jobs.ReasonProcessingError,
				Message: "internal error while importing",
			})
		}
	}
	return nil
}

// discard drops an entry that failed validation and fails its job when the
// job id is still readable.
func (b *Buffer) discard(ctx context.Context, raw []byte, err error) {
	slug := queue.PeekField(raw, "jobSlugId")
	b.logger.Warn("[IMPORT-BUFFER] discarding invalid queue entry", "import", slug, "error", err)

	jobID, ok := queue.PeekInt(raw, "jobId")
	if !ok {
		return
	}
	job := &ImportJob{ID: jobID, SlugID: slug, UserID: queue.PeekField(raw, "userId")}
	b.finish(ctx, job, jobs.Failed{Reason: jobs.ReasonInvalidDataFormat, Message: "queued import is unreadable"})
}

func (b *Buffer) process(ctx context.Context, item queuedImport) error {
	itemCtx, cancel := context.WithTimeout(ctx, b.cfg.ItemTimeout)
	defer cancel()

	job := jobRef(item)
	created, err := b.run(itemCtx, item)
	if errors.Is(err, ErrJobNotProcessing) {
		b.logger.Info("[IMPORT-BUFFER] import already finalized, dropping result", "import", item.JobSlugID)
		return nil
	}
	if err != nil {
		b.logger.Warn("[IMPORT-BUFFER] import failed", "import", item.JobSlugID, "error", err)
		b.finish(ctx, job, jobs.FailedFrom(err))
		return nil
	}

	// CreateImported already moved the row to completed.
	b.record(jobs.Completed{ConversationSlugID: created.SlugID})
	b.notify(ctx, notifications.FromOutcome(jobs.KindImport, job.UserID, job.SlugID,
		jobs.Completed{ConversationSlugID: created.SlugID}))
	b.logger.Info("[IMPORT-BUFFER] import completed",
		"import", item.JobSlugID,
		"conversation", created.SlugID,
	)
	return nil
}

// run executes the pipeline for one item and persists the result.
func (b *Buffer) run(ctx context.Context, item queuedImport) (*CreatedConversation, error) {
	var (
		rc     *RemoteConversation
		origin Origin
		err    error
	)
	switch item.Source {
	case SourceCSV:
		rc, err = ConversationFromCSV(*item.Files)
		if err != nil {
			return nil, jobs.Classify(jobs.ReasonInvalidDataFormat, err)
		}
	case SourceURL:
		ref, perr := ParsePolisURL(item.PolisURL)
		if perr != nil {
			return nil, jobs.Classify(jobs.ReasonInvalidDataFormat, perr)
		}
		if b.remote == nil {
			return nil, fmt.Errorf("%w: url imports are not configured", ErrRemoteRejected)
		}
		rc, err = b.remote.FetchConversation(ctx, ref)
		if errors.Is(err, ErrRemoteRejected) {
			return nil, jobs.Classify(jobs.ReasonInvalidDataFormat, err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch conversation: %w", err)
		}
		origin.Ref = &ref
	default:
		return nil, jobs.Classify(jobs.ReasonInvalidDataFormat, fmt.Errorf("unknown source %q", item.Source))
	}

	draft, err := BuildDraft(rc, origin)
	if err != nil {
		return nil, jobs.Classify(jobs.ReasonInvalidDataFormat, err)
	}
	return b.creator.CreateImported(ctx, item.JobID, item.UserID, draft)
}

// finish records a failure. The notification is sent only when this call
// performed the transition.
func (b *Buffer) finish(ctx context.Context, job *ImportJob, outcome jobs.Failed) {
	err := worker.Retry(ctx, b.retry, func(ctx context.Context) error {
		err := b.repo.Fail(ctx, job.ID, outcome.Reason, outcome.Message)
		if errors.Is(err, ErrJobNotProcessing) {
			return worker.Permanent(err)
		}
		return err
	})
	if errors.Is(err, ErrJobNotProcessing) {
		b.logger.Info("[IMPORT-BUFFER] import already finalized", "import", job.SlugID)
		return
	}
	if err != nil {
		b.logger.Error("[IMPORT-BUFFER] failed to record import failure",
			"import", job.SlugID,
			"error", err,
		)
		return
	}
	b.record(outcome)
	b.notify(ctx, notifications.FromOutcome(jobs.KindImport, job.UserID, job.SlugID, outcome))
}

func (b *Buffer) record(outcome jobs.Outcome) {
	reason := ""
	if f, ok := outcome.(jobs.Failed); ok {
		reason = string(f.Reason)
	}
	metrics.JobsFinished.WithLabelValues(string(jobs.KindImport), string(outcome.Status()), reason).Inc()
}

func (b *Buffer) notify(ctx context.Context, notice notifications.Notice) {
	if b.notifier == nil || notice.UserID == "" {
		return
	}
	if err := b.notifier.Notify(ctx, notice); err != nil {
		b.logger.Warn("[IMPORT-BUFFER] failed to send notification",
			"import", notice.JobSlugID,
			"error", err,
		)
	}
}

func jobRef(item queuedImport) *ImportJob {
	return &ImportJob{ID: item.JobID, SlugID: item.JobSlugID, UserID: item.UserID, Source: item.Source}
}

// Start launches the flush loop.
func (b *Buffer) Start(ctx context.Context) {
	b.loop.Start(ctx)
}

// Shutdown rejects new submissions, stops the loop and drains one final
// batch within ctx's deadline. Entries still queued afterwards stay in the
// queue store for the next process.
func (b *Buffer) Shutdown(ctx context.Context) error {
	b.closeMu.Lock()
	b.closed = true
	b.closeMu.Unlock()

	var errs []error
	if err := b.loop.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
