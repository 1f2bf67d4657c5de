// Package reaper fails jobs that have been stuck in processing past a
// threshold. It reads only the relational store, so it recovers jobs whose
// queue entry was lost along with the process that popped it.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Agora/internal/core/jobs"
	"Agora/internal/core/notifications"
	"Agora/internal/metrics"
	"Agora/internal/worker"
)

// Source fails the stale jobs of one kind.
//
// ReapStale must move every processing job created before olderThan to
// failed with reason in a single statement and return the rows it changed.
// A row it returns is never returned again.
type Source interface {
	ReapStale(ctx context.Context, olderThan time.Time, reason jobs.FailureReason) ([]jobs.Reaped, error)
}

type registration struct {
	kind   jobs.Kind
	source Source
}

// Reaper runs the registered sources and notifies the owners of reaped
// jobs.
type Reaper struct {
	notifier notifications.Dispatcher
	cfg      Config
	logger   *slog.Logger
	loop     *worker.Periodic
	now      func() time.Time

	mu      sync.Mutex
	sources []registration
}

// New creates a reaper with no sources.
func New(notifier notifications.Dispatcher, cfg Config, logger *slog.Logger) (*Reaper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reaper{
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	r.loop = worker.NewPeriodic("REAPER", cfg.Interval, func(ctx context.Context) error {
		_, err := r.RunOnce(ctx)
		return err
	}, worker.WithImmediateRun(), worker.WithLogger(logger))
	return r, nil
}

// Register adds the source for a job kind.
func (r *Reaper) Register(kind jobs.Kind, source Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.sources {
		if reg.kind == kind {
			return fmt.Errorf("%w: %s", ErrDuplicateSource, kind)
		}
	}
	r.sources = append(r.sources, registration{kind: kind, source: source})
	return nil
}

// RunOnce reaps every source once and returns the number of jobs failed.
// A failing source does not stop the others.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	r.mu.Lock()
	sources := append([]registration(nil), r.sources...)
	r.mu.Unlock()

	cutoff := r.now().Add(-r.cfg.Threshold)
	outcome := jobs.Failed{
		Reason:  jobs.ReasonServerRestart,
		Message: fmt.Sprintf("job did not finish within %s", r.cfg.Threshold),
	}

	total := 0
	var errs []error
	for _, reg := range sources {
		rows, err := reg.source.ReapStale(ctx, cutoff, outcome.Reason)
		if err != nil {
			r.logger.Warn("[REAPER] failed to reap stale jobs", "kind", reg.kind, "error", err)
			errs = append(errs, fmt.Errorf("failed to reap %s jobs: %w", reg.kind, err))
			continue
		}
		if len(rows) == 0 {
			continue
		}

		r.logger.Info("[REAPER] failed stale jobs", "kind", reg.kind, "count", len(rows))
		for _, row := range rows {
			metrics.JobsReaped.WithLabelValues(string(reg.kind)).Inc()
			metrics.JobsFinished.WithLabelValues(string(reg.kind), string(outcome.Status()), string(outcome.Reason)).Inc()
			r.notify(ctx, reg.kind, row, outcome)
		}
		total += len(rows)
	}
	return total, errors.Join(errs...)
}

func (r *Reaper) notify(ctx context.Context, kind jobs.Kind, row jobs.Reaped, outcome jobs.Failed) {
	if r.notifier == nil || row.UserID == "" {
		return
	}
	notice := notifications.FromOutcome(kind, row.UserID, row.SlugID, outcome)
	notice.ConversationSlugID = row.ConversationSlugID
	if err := r.notifier.Notify(ctx, notice); err != nil {
		r.logger.Warn("[REAPER] failed to send notification",
			"kind", kind,
			"job", row.SlugID,
			"error", err,
		)
	}
}

// Start runs a pass immediately and then every Interval.
func (r *Reaper) Start(ctx context.Context) {
	r.loop.Start(ctx)
}

// Stop ends the loop, waiting for a running pass within ctx's deadline.
func (r *Reaper) Stop(ctx context.Context) error {
	return r.loop.Stop(ctx)
}
