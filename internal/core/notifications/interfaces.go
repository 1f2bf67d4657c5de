package notifications

import "context"

// Dispatcher is called by every buffer and by the stale reaper on job
// acceptance and on every terminal transition.
type Dispatcher interface {
	// Notify persists a notification for the notice and pushes it to the
	// user's live connections. Only the persistence step can fail; live
	// delivery is best effort.
	Notify(ctx context.Context, notice Notice) error
}

// Repository persists notification rows.
type Repository interface {
	Create(ctx context.Context, n *Notification) (*Notification, error)

	// ListForUser returns the user's most recent notifications, newest
	// first.
	ListForUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
}

// Publisher delivers a notification over the live-update channel.
type Publisher interface {
	Publish(userID string, n *Notification) error
}
