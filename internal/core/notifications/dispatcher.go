package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"Agora/internal/core/jobs"
	"Agora/internal/worker"
)

type dispatcher struct {
	repo      Repository
	publisher Publisher
	logger    *slog.Logger
	retry     worker.RetryPolicy
}

// NewDispatcher creates a dispatcher. publisher may be nil, in which case
// notifications are only persisted.
func NewDispatcher(repo Repository, publisher Publisher, logger *slog.Logger) Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &dispatcher{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		retry:     worker.DefaultRetryPolicy,
	}
}

func (d *dispatcher) Notify(ctx context.Context, notice Notice) error {
	if notice.UserID == "" {
		return ErrMissingUser
	}
	typ, err := TypeFor(notice.Kind, notice.Outcome)
	if err != nil {
		return err
	}

	n := &Notification{
		SlugID:             uuid.NewString(),
		UserID:             notice.UserID,
		Type:               typ,
		JobKind:            notice.Kind,
		JobSlugID:          notice.JobSlugID,
		ConversationSlugID: notice.ConversationSlugID,
	}
	switch o := notice.Outcome.(type) {
	case jobs.Failed:
		n.FailureReason = string(o.Reason)
		n.Message = o.Message
	case jobs.Cancelled:
		n.Message = o.Reason
	}

	var saved *Notification
	err = worker.Retry(ctx, d.retry, func(ctx context.Context) error {
		var createErr error
		saved, createErr = d.repo.Create(ctx, n)
		return createErr
	})
	if err != nil {
		d.logger.Error("failed to persist notification",
			"error", err,
			"user", notice.UserID,
			"type", typ,
			"job", notice.JobSlugID,
		)
		return fmt.Errorf("failed to create notification: %w", err)
	}

	if d.publisher != nil {
		if err := d.publisher.Publish(notice.UserID, saved); err != nil {
			d.logger.Warn("failed to push notification",
				"error", err,
				"user", notice.UserID,
				"type", typ,
			)
		}
	}
	return nil
}
