package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"Agora/internal/core/votes"
)

type postgresMathRepo struct {
	db *sql.DB
}

// MathRepository stores consensus engine output and exposes the
// conversations still waiting for a recomputation.
type MathRepository interface {
	votes.ResultStore

	// ListPending returns up to limit conversation IDs with an unprocessed
	// update request, oldest request first.
	ListPending(ctx context.Context, limit int) ([]int64, error)
}

// NewMathResultStore creates a store for consensus engine output
func NewMathResultStore(db *sql.DB) MathRepository {
	return &postgresMathRepo{db: db}
}

func (r *postgresMathRepo) ListPending(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id
		FROM conversation_update_queue
		WHERE processed_at IS NULL
		ORDER BY requested_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending math updates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveClusteringResult replaces the conversation's stored result and marks
// its update request processed. A request that arrived after the
// computation started stays pending.
func (r *postgresMathRepo) SaveClusteringResult(ctx context.Context, result *votes.ClusteringResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	raw := []byte(result.Raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_math (conversation_id, group_count, vote_count, raw, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id) DO UPDATE
			SET group_count = EXCLUDED.group_count,
				vote_count = EXCLUDED.vote_count,
				raw = EXCLUDED.raw,
				computed_at = EXCLUDED.computed_at`,
		result.ConversationID, result.GroupCount, result.VoteCount, raw, result.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save clustering result: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversation_update_queue
		SET processed_at = NOW()
		WHERE conversation_id = $1 AND requested_at <= $2`,
		result.ConversationID, result.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark math update processed: %w", err)
	}

	return tx.Commit()
}
