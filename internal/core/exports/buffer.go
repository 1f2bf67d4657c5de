package exports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"Agora/internal/core/jobs"
	"Agora/internal/core/notifications"
	"Agora/internal/metrics"
	"Agora/internal/queue"
	"Agora/internal/worker"
)

var exportCodec = queue.MustCodec("export", queuedExportSchema)

// urlRefreshMargin re-presigns URLs that expire within this window on read.
const urlRefreshMargin = time.Minute

const sweepBatch = 100

// Buffer admits export requests, generates CSV artifacts in the background
// and uploads them to object storage.
//
// Entries are keyed by export slug in a hash. A flush takes a batch with a
// single scan-and-delete script, so a request written during a flush is
// picked up by the next one.
type Buffer struct {
	store         queue.Store
	repo          Repository
	conversations ConversationReader
	source        DataSource
	objects       ObjectStore
	registry      *Registry
	notifier      notifications.Dispatcher
	cfg           Config
	logger        *slog.Logger
	loop          *worker.Periodic
	sweeper       *worker.Periodic
	retry         worker.RetryPolicy
	now           func() time.Time

	closeMu sync.RWMutex
	closed  bool
}

// NewBuffer creates an export buffer. A nil registry selects
// DefaultRegistry.
func NewBuffer(store queue.Store, repo Repository, conversations ConversationReader, source DataSource, objects ObjectStore, registry *Registry, notifier notifications.Dispatcher, cfg Config, logger *slog.Logger) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	b := &Buffer{
		store:         store,
		repo:          repo,
		conversations: conversations,
		source:        source,
		objects:       objects,
		registry:      registry,
		notifier:      notifier,
		cfg:           cfg,
		logger:        logger,
		retry:         worker.DefaultRetryPolicy,
		now:           time.Now,
	}
	b.loop = worker.NewPeriodic("EXPORT-BUFFER", cfg.FlushInterval, b.Flush,
		worker.WithMaxBackoff(cfg.MaxBackoff),
		worker.WithLogger(logger),
	)
	b.sweeper = worker.NewPeriodic("EXPORT-SWEEP", cfg.SweepInterval, func(ctx context.Context) error {
		_, err := b.Sweep(ctx)
		return err
	}, worker.WithLogger(logger))
	return b, nil
}

// Request admits an export of a conversation. Rejections are returned as
// Rejected values; the error is reserved for infrastructure failures.
func (b *Buffer) Request(ctx context.Context, conversationSlugID, userID string) (Admission, error) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return nil, ErrBufferClosed
	}

	conv, err := b.conversations.GetConversation(ctx, conversationSlugID)
	if errors.Is(err, ErrConversationNotFound) {
		return b.reject(Rejected{Reason: RejectConversationNotFound}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.OpinionCount == 0 {
		return b.reject(Rejected{Reason: RejectNoOpinions}), nil
	}

	active, err := b.repo.LatestActive(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active exports: %w", err)
	}
	if active != nil {
		return b.reject(Rejected{Reason: RejectAlreadyInProgress, ActiveSlugID: active.SlugID}), nil
	}

	wait, err := b.cooldownRemaining(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if wait > 0 {
		return b.reject(Rejected{Reason: RejectCooldown, RetryAfter: wait}), nil
	}

	job, err := b.repo.Create(ctx, &ExportJob{
		SlugID:             uuid.NewString(),
		ConversationID:     conv.ID,
		ConversationSlugID: conv.SlugID,
		RequestedBy:        userID,
		Status:             jobs.StatusProcessing,
	})
	if errors.Is(err, ErrExportInProgress) {
		// Lost the race on the one-processing-export index.
		return b.reject(Rejected{Reason: RejectAlreadyInProgress}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create export: %w", err)
	}

	b.notify(ctx, notifications.Started(jobs.KindExport, userID, job.SlugID, conv.SlugID))

	payload, err := exportCodec.Encode(queuedExport{
		ExportID:           job.ID,
		SlugID:             job.SlugID,
		ConversationID:     conv.ID,
		ConversationSlugID: conv.SlugID,
		UserID:             userID,
	})
	if err == nil {
		err = b.store.HashSet(ctx, queue.ExportQueueKey, job.SlugID, payload)
	}
	if err != nil {
		b.logger.Error("[EXPORT-BUFFER] failed to queue export", "export", job.SlugID, "error", err)
		b.fail(context.WithoutCancel(ctx), job, jobs.Failed{
			Reason:  jobs.ReasonProcessingError,
			Message: "failed to queue export",
		})
		return nil, fmt.Errorf("failed to queue export: %w", err)
	}

	metrics.JobsSubmitted.WithLabelValues(string(jobs.KindExport), "accepted").Inc()
	return Accepted{Job: job}, nil
}

func (b *Buffer) reject(r Rejected) Rejected {
	metrics.JobsSubmitted.WithLabelValues(string(jobs.KindExport), string(r.Reason)).Inc()
	return r
}

func (b *Buffer) cooldownRemaining(ctx context.Context, conversationID int64) (time.Duration, error) {
	if b.cfg.Cooldown == 0 {
		return 0, nil
	}
	last, err := b.repo.LatestCompleted(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to check export cooldown: %w", err)
	}
	if last == nil || last.CompletedAt == nil {
		return 0, nil
	}
	remaining := last.CompletedAt.Add(b.cfg.Cooldown).Sub(b.now())
	if remaining <= 0 {
		return 0, nil
	}
	// Whole seconds, rounded up, for the Retry-After header.
	return (remaining + time.Second - 1).Truncate(time.Second), nil
}

// Readiness tells a client whether Request would be accepted now.
func (b *Buffer) Readiness(ctx context.Context, conversationSlugID string) (*Readiness, error) {
	conv, err := b.conversations.GetConversation(ctx, conversationSlugID)
	if err != nil {
		return nil, err
	}
	active, err := b.repo.LatestActive(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active exports: %w", err)
	}
	if active != nil {
		return &Readiness{State: ReadinessActive, ExportSlugID: active.SlugID}, nil
	}
	last, err := b.repo.LatestCompleted(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check export cooldown: %w", err)
	}
	if last != nil && last.CompletedAt != nil {
		ends := last.CompletedAt.Add(b.cfg.Cooldown)
		if ends.After(b.now()) {
			return &Readiness{State: ReadinessCooldown, ExportSlugID: last.SlugID, CooldownEndsAt: &ends}, nil
		}
	}
	return &Readiness{State: ReadinessReady}, nil
}

// History lists the conversation's recent exports without download URLs.
func (b *Buffer) History(ctx context.Context, conversationSlugID string) ([]*ExportJob, error) {
	conv, err := b.conversations.GetConversation(ctx, conversationSlugID)
	if err != nil {
		return nil, err
	}
	return b.repo.ListByConversation(ctx, conv.ID, b.cfg.HistoryLimit)
}

// Get returns an export with its files. Download URLs close to expiry are
// presigned again. A cancelled export is returned without files.
func (b *Buffer) Get(ctx context.Context, exportSlugID string) (*ExportJob, error) {
	job, err := b.repo.GetBySlug(ctx, exportSlugID)
	if err != nil {
		return nil, err
	}
	if job.Status == jobs.StatusCancelled {
		job.Files = nil
		return job, nil
	}
	if job.DeletedAt != nil {
		return nil, ErrExportNotFound
	}

	deadline := b.now().Add(urlRefreshMargin)
	for i := range job.Files {
		f := &job.Files[i]
		if f.URL != "" && f.URLExpiresAt.After(deadline) {
			continue
		}
		url, expiresAt, err := b.objects.Presign(ctx, f.S3Key, b.cfg.URLTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to presign %s: %w", f.FileName, err)
		}
		f.URL, f.URLExpiresAt = url, expiresAt
		if err := b.repo.UpdateFileURL(ctx, f.ID, url, expiresAt); err != nil {
			b.logger.Warn("[EXPORT-BUFFER] failed to store refreshed url", "export", exportSlugID, "error", err)
		}
	}
	return job, nil
}

// Cancel is a moderator action. It moves the job to cancelled from
// processing or completed and removes whatever artifacts were recorded when
// the transition committed. Artifacts that fail to delete are left to Sweep.
func (b *Buffer) Cancel(ctx context.Context, exportSlugID, moderatorID, reason string) error {
	job, err := b.repo.GetBySlug(ctx, exportSlugID)
	if err != nil {
		return err
	}
	if job.DeletedAt != nil || (job.Status != jobs.StatusProcessing && job.Status != jobs.StatusCompleted) {
		return ErrNotCancellable
	}
	if reason == "" {
		reason = "cancelled by moderator"
	}

	files, err := b.repo.Cancel(ctx, job.ID, reason, moderatorID)
	if err != nil {
		return err
	}
	if b.deleteObjects(ctx, job.SlugID, fileKeys(files)) {
		if err := b.repo.MarkDeleted(ctx, job.ID); err != nil {
			b.logger.Warn("[EXPORT-BUFFER] failed to mark cancelled export deleted", "export", job.SlugID, "error", err)
		}
	}

	outcome := jobs.Cancelled{Reason: reason, By: moderatorID}
	b.record(outcome)
	notice := notifications.FromOutcome(jobs.KindExport, job.RequestedBy, job.SlugID, outcome)
	notice.ConversationSlugID = job.ConversationSlugID
	b.notify(ctx, notice)
	b.logger.Info("[EXPORT-BUFFER] export cancelled", "export", job.SlugID, "by", moderatorID)
	return nil
}

// Flush takes up to BatchSize queued exports and generates them on a
// bounded pool.
func (b *Buffer) Flush(ctx context.Context) error {
	entries, err := b.store.ScanAndDelete(ctx, queue.ExportQueueKey, b.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to take exports: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	var items []queuedExport
	for _, e := range entries {
		var item queuedExport
		if err := exportCodec.Decode(e.Payload, &item); err != nil {
			b.discard(ctx, e, err)
			continue
		}
		items = append(items, item)
	}

	b.logger.Info("[EXPORT-BUFFER] processing exports", "count", len(items))
	errs := worker.Each(ctx, b.cfg.Concurrency, items, b.process)
	for i, err := range errs {
		if errors.Is(err, worker.ErrPanicked) {
			b.logger.Error("[EXPORT-BUFFER] CRITICAL: export pipeline panicked",
				"export", items[i].SlugID,
				"error", err,
			)
			b.fail(ctx, jobRef(items[i]), jobs.Failed{
				Reason:  jobs.ReasonProcessingError,
				Message: "internal error while exporting",
			})
		}
	}
	return nil
}

func (b *Buffer) discard(ctx context.Context, e queue.HashEntry, err error) {
	b.logger.Warn("[EXPORT-BUFFER] discarding invalid queue entry", "export", e.Field, "error", err)
	jobID, ok := queue.PeekInt(e.Payload, "exportId")
	if !ok {
		return
	}
	job := &ExportJob{ID: jobID, SlugID: e.Field, RequestedBy: queue.PeekField(e.Payload, "userId")}
	b.fail(ctx, job, jobs.Failed{Reason: jobs.ReasonInvalidDataFormat, Message: "queued export is unreadable"})
}

func (b *Buffer) process(ctx context.Context, item queuedExport) error {
	itemCtx, cancel := context.WithTimeout(ctx, b.cfg.ItemTimeout)
	defer cancel()

	job := jobRef(item)
	files, err := b.generate(itemCtx, item)
	if err == nil {
		expiresAt := b.now().AddDate(0, 0, b.cfg.ExpiryDays)
		err = worker.Retry(ctx, b.retry, func(ctx context.Context) error {
			err := b.repo.Complete(ctx, item.ExportID, files, expiresAt)
			if errors.Is(err, ErrJobNotProcessing) {
				return worker.Permanent(err)
			}
			return err
		})
	}

	switch {
	case errors.Is(err, ErrJobNotProcessing):
		// Cancelled or reaped while generating.
		b.logger.Info("[EXPORT-BUFFER] export already finalized, removing artifacts", "export", item.SlugID)
		b.deleteObjects(ctx, item.SlugID, fileKeys(files))
		return nil
	case err != nil:
		b.logger.Warn("[EXPORT-BUFFER] export failed", "export", item.SlugID, "error", err)
		b.deleteObjects(ctx, item.SlugID, fileKeys(files))
		b.fail(ctx, job, jobs.FailedFrom(err))
		return nil
	}

	names := make([]string, len(files))
	var total int64
	for i, f := range files {
		names[i] = f.FileName
		total += f.FileSize
	}
	outcome := jobs.Completed{ConversationSlugID: item.ConversationSlugID, Files: names}
	b.record(outcome)
	b.notify(ctx, notifications.FromOutcome(jobs.KindExport, item.UserID, item.SlugID, outcome))
	b.logger.Info("[EXPORT-BUFFER] export completed",
		"export", item.SlugID,
		"files", len(files),
		"size", humanize.IBytes(uint64(total)),
	)
	return nil
}

// generate runs every registered generator and uploads the results. On
// error it returns the files uploaded so far so the caller can remove them.
func (b *Buffer) generate(ctx context.Context, item queuedExport) ([]ExportFile, error) {
	params := GenerateParams{
		Source:             b.source,
		ConversationID:     item.ConversationID,
		ConversationSlugID: item.ConversationSlugID,
	}
	createdAt := b.now()

	var files []ExportFile
	for _, g := range b.registry.All() {
		fileType := g.FileType()
		res, err := g.Generate(ctx, params)
		if err != nil {
			return files, fmt.Errorf("failed to generate %s: %w", fileType, err)
		}

		key := ObjectKey(item.ConversationSlugID, item.SlugID, fileType)
		name := DownloadName(item.ConversationSlugID, fileType, createdAt)
		if err := b.objects.Upload(ctx, key, res.Content, "text/csv; charset=utf-8", name); err != nil {
			return files, fmt.Errorf("failed to upload %s: %w", fileType, err)
		}
		files = append(files, ExportFile{
			FileType:    fileType,
			FileName:    FileName(fileType),
			S3Key:       key,
			FileSize:    int64(len(res.Content)),
			RecordCount: res.RecordCount,
		})

		url, expiresAt, err := b.objects.Presign(ctx, key, b.cfg.URLTTL)
		if err != nil {
			return files, fmt.Errorf("failed to presign %s: %w", fileType, err)
		}
		files[len(files)-1].URL = url
		files[len(files)-1].URLExpiresAt = expiresAt
	}
	return files, nil
}

// Sweep deletes the artifacts of expired and cancelled exports and marks
// them deleted. An export whose artifacts could not all be removed is
// retried on the next sweep.
func (b *Buffer) Sweep(ctx context.Context) (int, error) {
	expired, err := b.repo.ListSweepable(ctx, b.now(), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired exports: %w", err)
	}

	swept := 0
	for _, job := range expired {
		if !b.deleteObjects(ctx, job.SlugID, fileKeys(job.Files)) {
			continue
		}
		if err := b.repo.MarkDeleted(ctx, job.ID); err != nil {
			b.logger.Warn("[EXPORT-SWEEP] failed to mark export deleted", "export", job.SlugID, "error", err)
			continue
		}
		swept++
	}
	if swept > 0 {
		b.logger.Info("[EXPORT-SWEEP] removed export artifacts", "count", swept)
	}
	return swept, nil
}

// deleteObjects removes keys and reports whether all deletions succeeded.
func (b *Buffer) deleteObjects(ctx context.Context, exportSlugID string, keys []string) bool {
	ok := true
	for _, key := range keys {
		if err := b.objects.Delete(ctx, key); err != nil {
			ok = false
			b.logger.Warn("[EXPORT-BUFFER] failed to delete artifact",
				"export", exportSlugID,
				"key", key,
				"error", err,
			)
		}
	}
	return ok
}

func (b *Buffer) fail(ctx context.Context, job *ExportJob, outcome jobs.Failed) {
	err := worker.Retry(ctx, b.retry, func(ctx context.Context) error {
		err := b.repo.Fail(ctx, job.ID, outcome.Reason, outcome.Message)
		if errors.Is(err, ErrJobNotProcessing) {
			return worker.Permanent(err)
		}
		return err
	})
	if errors.Is(err, ErrJobNotProcessing) {
		b.logger.Info("[EXPORT-BUFFER] export already finalized", "export", job.SlugID)
		return
	}
	if err != nil {
		b.logger.Error("[EXPORT-BUFFER] failed to record export failure", "export", job.SlugID, "error", err)
		return
	}
	b.record(outcome)
	notice := notifications.FromOutcome(jobs.KindExport, job.RequestedBy, job.SlugID, outcome)
	notice.ConversationSlugID = job.ConversationSlugID
	b.notify(ctx, notice)
}

func (b *Buffer) record(outcome jobs.Outcome) {
	reason := ""
	if f, ok := outcome.(jobs.Failed); ok {
		reason = string(f.Reason)
	}
	metrics.JobsFinished.WithLabelValues(string(jobs.KindExport), string(outcome.Status()), reason).Inc()
}

func (b *Buffer) notify(ctx context.Context, notice notifications.Notice) {
	if b.notifier == nil || notice.UserID == "" {
		return
	}
	if err := b.notifier.Notify(ctx, notice); err != nil {
		b.logger.Warn("[EXPORT-BUFFER] failed to send notification",
			"export", notice.JobSlugID,
			"error", err,
		)
	}
}

func jobRef(item queuedExport) *ExportJob {
	return &ExportJob{
		ID:                 item.ExportID,
		SlugID:             item.SlugID,
		ConversationID:     item.ConversationID,
		ConversationSlugID: item.ConversationSlugID,
		RequestedBy:        item.UserID,
	}
}

func fileKeys(files []ExportFile) []string {
	keys := make([]string, 0, len(files))
	for _, f := range files {
		if f.S3Key != "" {
			keys = append(keys, f.S3Key)
		}
	}
	return keys
}

// Start launches the flush loop and the expiry sweep.
func (b *Buffer) Start(ctx context.Context) {
	b.loop.Start(ctx)
	b.sweeper.Start(ctx)
}

// Shutdown rejects new requests, stops both loops and runs one final flush
// within ctx's deadline.
func (b *Buffer) Shutdown(ctx context.Context) error {
	b.closeMu.Lock()
	b.closed = true
	b.closeMu.Unlock()

	var errs []error
	if err := b.loop.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.sweeper.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
