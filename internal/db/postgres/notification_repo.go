package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"Agora/internal/core/jobs"
	"Agora/internal/core/notifications"
)

type postgresNotificationRepo struct {
	db *sql.DB
}

// NewNotificationRepository creates a new PostgreSQL notification repository
func NewNotificationRepository(db *sql.DB) notifications.Repository {
	return &postgresNotificationRepo{db: db}
}

// Create inserts a notification row
func (r *postgresNotificationRepo) Create(ctx context.Context, n *notifications.Notification) (*notifications.Notification, error) {
	query := `
		INSERT INTO notifications (
			slug_id, user_id, type, job_kind, job_slug_id,
			conversation_slug_id, failure_reason, message
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''))
		RETURNING id, is_read, created_at`

	out := *n
	err := r.db.QueryRowContext(ctx, query,
		n.SlugID, n.UserID, string(n.Type), string(n.JobKind), n.JobSlugID,
		n.ConversationSlugID, n.FailureReason, n.Message,
	).Scan(&out.ID, &out.IsRead, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return &out, nil
}

// ListForUser returns the user's newest notifications
func (r *postgresNotificationRepo) ListForUser(ctx context.Context, userID string, limit int) ([]*notifications.Notification, error) {
	query := `
		SELECT id, slug_id, user_id, type, job_kind, job_slug_id,
			conversation_slug_id, failure_reason, message, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*notifications.Notification
	for rows.Next() {
		var (
			n                             notifications.Notification
			typ, kind                     string
			conversation, reason, message sql.NullString
		)
		err := rows.Scan(&n.ID, &n.SlugID, &n.UserID, &typ, &kind, &n.JobSlugID,
			&conversation, &reason, &message, &n.IsRead, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = notifications.Type(typ)
		n.JobKind = jobs.Kind(kind)
		n.ConversationSlugID = conversation.String
		n.FailureReason = reason.String
		n.Message = message.String
		result = append(result, &n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return result, nil
}
