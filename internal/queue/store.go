// Package queue is the low-latency hand-off layer between request handlers
// and the flush loops. It is allowed to lose data: job status lives in
// Postgres and the stale reaper resolves anything the queue drops.
package queue

import (
	"context"
	"errors"
)

// Key namespaces shared by the three buffers.
const (
	VoteIndexKey   = "queue:votes:index"
	VoteDataKey    = "queue:votes:data"
	ImportQueueKey = "queue:imports"
	ExportQueueKey = "queue:exports"
)

// ErrInvalidCount is returned when a batch size is not positive.
var ErrInvalidCount = errors.New("queue: count must be positive")

// SortedEntry is a member popped from a score-indexed set together with the
// payload stored for it.
type SortedEntry struct {
	Member  string
	Score   int64
	Payload []byte
}

// HashEntry is a field removed from a hash by ScanAndDelete.
type HashEntry struct {
	Field   string
	Payload []byte
}

// Store is the set of atomic primitives the buffers depend on. Every method
// is a single round trip and every compound method is atomic with respect
// to concurrent callers.
type Store interface {
	// Push appends payload to the tail of the list at key.
	Push(ctx context.Context, key string, payload []byte) error

	// PopN removes and returns up to n payloads from the head of the list
	// at key. Removal is destructive: there is no acknowledgement step.
	PopN(ctx context.Context, key string, n int) ([][]byte, error)

	// UpsertIfNewer records member with score in the sorted set indexKey and
	// payload in the hash dataKey, unless the member already holds a
	// strictly greater score. Returns true if the entry was written.
	UpsertIfNewer(ctx context.Context, indexKey, dataKey, member string, score int64, payload []byte) (bool, error)

	// PopSorted removes and returns up to n members from indexKey in
	// ascending score order, together with their payloads from dataKey.
	PopSorted(ctx context.Context, indexKey, dataKey string, n int) ([]SortedEntry, error)

	// HashSet stores payload under field in the hash at key.
	HashSet(ctx context.Context, key, field string, payload []byte) error

	// ScanAndDelete removes and returns up to count fields of the hash at
	// key. Only the returned fields are deleted, so entries written
	// concurrently survive until a later call.
	ScanAndDelete(ctx context.Context, key string, count int) ([]HashEntry, error)

	// Len reports the number of entries held at key, whatever its type.
	Len(ctx context.Context, key string) (int64, error)

	// Close releases the underlying connection.
	Close() error
}
