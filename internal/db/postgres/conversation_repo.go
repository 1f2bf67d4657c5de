package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"Agora/internal/core/exports"
	"Agora/internal/core/votes"
)

type postgresConversationRepo struct {
	db *sql.DB
}

// ConversationRepository reads conversations and their content for exports.
type ConversationRepository interface {
	exports.ConversationReader
	exports.DataSource
}

// NewConversationRepository creates a new PostgreSQL conversation repository
func NewConversationRepository(db *sql.DB) ConversationRepository {
	return &postgresConversationRepo{db: db}
}

// GetConversation loads a conversation by slug. Conversations still being
// imported are not visible.
func (r *postgresConversationRepo) GetConversation(ctx context.Context, slugID string) (*exports.Conversation, error) {
	var conv exports.Conversation
	err := r.db.QueryRowContext(ctx, `
		SELECT id, slug_id, opinion_count
		FROM conversations
		WHERE slug_id = $1 AND is_importing = FALSE`,
		slugID,
	).Scan(&conv.ID, &conv.SlugID, &conv.OpinionCount)
	if err == sql.ErrNoRows {
		return nil, exports.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// participantsCTE numbers everyone who wrote or voted in conversation $1
// from 0, in order of first activity, the way Polis numbers participants.
const participantsCTE = `
	WITH participants AS (
		SELECT user_id, ROW_NUMBER() OVER (ORDER BY MIN(first_at), user_id) - 1 AS pid
		FROM (
			SELECT author_id AS user_id, created_at AS first_at FROM opinions WHERE conversation_id = $1
			UNION ALL
			SELECT user_id, cast_at FROM votes WHERE conversation_id = $1
		) activity
		GROUP BY user_id
	)`

// ListOpinions returns the conversation's opinions with counters, oldest
// first
func (r *postgresConversationRepo) ListOpinions(ctx context.Context, conversationID int64) ([]exports.OpinionRow, error) {
	query := participantsCTE + `
		SELECT o.id, p.pid, o.body, o.num_agrees, o.num_disagrees, o.num_passes, o.moderated, o.created_at
		FROM opinions o
		JOIN participants p ON p.user_id = o.author_id
		WHERE o.conversation_id = $1
		ORDER BY o.created_at, o.id`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list opinions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []exports.OpinionRow
	for rows.Next() {
		var o exports.OpinionRow
		if err := rows.Scan(&o.ID, &o.AuthorParticipant, &o.Body, &o.Agrees, &o.Disagrees, &o.Passes, &o.Moderated, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan opinion: %w", err)
		}
		result = append(result, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating opinions: %w", err)
	}
	return result, nil
}

// ListVotes returns the conversation's votes with participant numbers,
// oldest first
func (r *postgresConversationRepo) ListVotes(ctx context.Context, conversationID int64) ([]exports.VoteRow, error) {
	query := participantsCTE + `
		SELECT v.opinion_id, p.pid, v.value, v.cast_at
		FROM votes v
		JOIN participants p ON p.user_id = v.user_id
		WHERE v.conversation_id = $1
		ORDER BY v.cast_at, v.id`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []exports.VoteRow
	for rows.Next() {
		var v exports.VoteRow
		var value string
		if err := rows.Scan(&v.OpinionID, &v.VoterParticipant, &value, &v.CastAt); err != nil {
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
