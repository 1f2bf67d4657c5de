package votes

import "context"

// Repository defines the durable side of the vote buffer
type Repository interface {
	// ApplyBatch writes votes in a single transaction.
	// A row is only replaced when the incoming cast is not older than the
	// stored one, so a late older cast never clobbers a flushed newer one.
	// The same transaction applies opinion counter deltas, updates the
	// conversation's vote and participant counts and queues the
	// conversation for math recomputation.
	ApplyBatch(ctx context.Context, votes []VoteRecord) (*ApplyResult, error)

	// ListByConversation returns every live vote in a conversation.
	// Used to build the consensus engine's input set.
	ListByConversation(ctx context.Context, conversationID int64) ([]VoteRecord, error)
}

// ApplyResult summarizes a batch write.
type ApplyResult struct {
	// Conversations lists conversations with at least one changed vote
	Conversations []int64
	// Written counts rows inserted or replaced
	Written int
	// Skipped counts rows rejected because a newer cast was stored
	Skipped int
}

// MathEngine recomputes consensus statistics for a conversation.
type MathEngine interface {
	Recompute(ctx context.Context, conversationID int64, votes []VoteRecord) (*ClusteringResult, error)
}

// ResultStore persists the engine's output.
type ResultStore interface {
	SaveClusteringResult(ctx context.Context, result *ClusteringResult) error
}
