package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"Agora/internal/core/votes"
)

type postgresVoteRepo struct {
	db *sql.DB
}

// NewVoteRepository creates a new PostgreSQL vote repository
func NewVoteRepository(db *sql.DB) votes.Repository {
	return &postgresVoteRepo{db: db}
}

// upsertVoteQuery writes one cast under last-writer-wins and reports the
// value it replaced. Every CTE sees the same snapshot, so prev holds the
// row as it was before the upsert. Casts on opinions outside the
// conversation are dropped rather than failing the whole batch.
const upsertVoteQuery = `
	WITH prev AS (
		SELECT value FROM votes
		WHERE user_id = $1 AND opinion_id = $2
		FOR UPDATE
	), up AS (
		INSERT INTO votes (user_id, opinion_id, conversation_id, value, cast_at)
		SELECT $1, $2, $3, $4, $5
		WHERE EXISTS (SELECT 1 FROM opinions WHERE id = $2 AND conversation_id = $3)
		ON CONFLICT (user_id, opinion_id) DO UPDATE
			SET value = EXCLUDED.value, cast_at = EXCLUDED.cast_at, updated_at = NOW()
			WHERE votes.cast_at <= EXCLUDED.cast_at
		RETURNING 1
	)
	SELECT (SELECT value FROM prev), EXISTS (SELECT 1 FROM up)`

// ApplyBatch writes the batch, its counter deltas and the math queue rows
// in one transaction.
func (r *postgresVoteRepo) ApplyBatch(ctx context.Context, batch []votes.VoteRecord) (*votes.ApplyResult, error) {
	result := &votes.ApplyResult{}
	if len(batch) == 0 {
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertVoteQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare vote upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var changes []votes.Change
	for _, v := range batch {
		var prev sql.NullString
		var written bool
		err := stmt.QueryRowContext(ctx, v.UserID, v.OpinionID, v.ConversationID, string(v.Value), v.CastAt).
			Scan(&prev, &written)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert vote %s: %w", v.Key(), err)
		}
		if !written {
			result.Skipped++
			continue
		}
		result.Written++

		c := votes.Change{
			UserID:         v.UserID,
			OpinionID:      v.OpinionID,
			ConversationID: v.ConversationID,
			Current:        v.Value,
		}
		if prev.Valid {
			p := votes.Value(prev.String)
			c.Previous = &p
		}
		changes = append(changes, c)
	}

	if len(changes) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit vote batch: %w", err)
		}
		return result, nil
	}

	opinionDeltas, conversationDeltas := votes.Tally(changes)
	if err := applyOpinionDeltas(ctx, tx, opinionDeltas); err != nil {
		return nil, err
	}
	if err := applyConversationDeltas(ctx, tx, conversationDeltas); err != nil {
		return nil, err
	}

	touched := touchedConversations(changes)
	if err := refreshParticipantCounts(ctx, tx, touched); err != nil {
		return nil, err
	}
	if err := enqueueMathUpdates(ctx, tx, touched); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit vote batch: %w", err)
	}
	result.Conversations = touched
	return result, nil
}

func applyOpinionDeltas(ctx context.Context, tx *sql.Tx, deltas []votes.OpinionDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	ids := make([]int64, len(deltas))
	agrees := make([]int64, len(deltas))
	disagrees := make([]int64, len(deltas))
	passes := make([]int64, len(deltas))
	for i, d := range deltas {
		ids[i] = d.OpinionID
		agrees[i] = int64(d.Agrees)
		disagrees[i] = int64(d.Disagrees)
		passes[i] = int64(d.Passes)
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE opinions o
		SET num_agrees = o.num_agrees + d.agrees,
			num_disagrees = o.num_disagrees + d.disagrees,
			num_passes = o.num_passes + d.passes,
			updated_at = NOW()
		FROM unnest($1::bigint[], $2::int[], $3::int[], $4::int[]) AS d(id, agrees, disagrees, passes)
		WHERE o.id = d.id`,
		pq.Array(ids), pq.Array(agrees), pq.Array(disagrees), pq.Array(passes),
	)
	if err != nil {
		return fmt.Errorf("failed to update opinion counters: %w", err)
	}
	return nil
}

func applyConversationDeltas(ctx context.Context, tx *sql.Tx, deltas []votes.ConversationDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	ids := make([]int64, len(deltas))
	counts := make([]int64, len(deltas))
	for i, d := range deltas {
		ids[i] = d.ConversationID
		counts[i] = int64(d.Votes)
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE conversations c
		SET vote_count = c.vote_count + d.votes, updated_at = NOW()
		FROM unnest($1::bigint[], $2::int[]) AS d(id, votes)
		WHERE c.id = d.id`,
		pq.Array(ids), pq.Array(counts),
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation vote counts: %w", err)
	}
	return nil
}

func refreshParticipantCounts(ctx context.Context, tx *sql.Tx, conversations []int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE conversations c
		SET participant_count = (
			SELECT COUNT(*) FROM (
				SELECT user_id FROM votes WHERE conversation_id = c.id
				UNION
				SELECT author_id FROM opinions WHERE conversation_id = c.id
			) p
		)
		WHERE c.id = ANY($1)`,
		pq.Array(conversations),
	)
	if err != nil {
		return fmt.Errorf("failed to update participant counts: %w", err)
	}
	return nil
}

func enqueueMathUpdates(ctx context.Context, tx *sql.Tx, conversations []int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_update_queue (conversation_id, requested_at)
		SELECT id, NOW() FROM unnest($1::bigint[]) AS id
		ON CONFLICT (conversation_id) DO UPDATE
			SET requested_at = NOW(), processed_at = NULL`,
		pq.Array(conversations),
	)
	if err != nil {
		return fmt.Errorf("failed to queue math updates: %w", err)
	}
	return nil
}

func touchedConversations(changes []votes.Change) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, c := range changes {
		if !seen[c.ConversationID] {
			seen[c.ConversationID] = true
			out = append(out, c.ConversationID)
		}
	}
	return out
}

// ListByConversation returns every live vote in a conversation, oldest
// first.
func (r *postgresVoteRepo) ListByConversation(ctx context.Context, conversationID int64) ([]votes.VoteRecord, error) {
	query := `
		SELECT user_id, opinion_id, conversation_id, value, cast_at
		FROM votes
		WHERE conversation_id = $1
		ORDER BY cast_at, id`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes by conversation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []votes.VoteRecord
	for rows.Next() {
		var v votes.VoteRecord
		var value string
		if err := rows.Scan(&v.UserID, &v.OpinionID, &v.ConversationID, &value, &v.CastAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		v.Value = votes.Value(value)
		result = append(result, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating votes: %w", err)
	}

	return result, nil
}
