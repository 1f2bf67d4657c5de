package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Agora/internal/core/imports"
	"Agora/internal/core/jobs"
	"Agora/internal/core/votes"
)

func newTestImport(t *testing.T, db *sql.DB, repo ImportRepository, userID string) *imports.ImportJob {
	t.Helper()
	job, err := repo.Create(context.Background(), &imports.ImportJob{
		SlugID:        uuid.NewString(),
		UserID:        userID,
		Source:        imports.SourceURL,
		SourceLocator: "https://pol.is/3abcd",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		var convID sql.NullInt64
		_ = db.QueryRow(`SELECT conversation_id FROM conversation_imports WHERE id = $1`, job.ID).Scan(&convID)
		_, _ = db.Exec(`DELETE FROM conversation_imports WHERE id = $1`, job.ID)
		if convID.Valid {
			_, _ = db.Exec(`DELETE FROM conversations WHERE id = $1`, convID.Int64)
		}
	})
	return job
}

func testUser() string {
	return "test-user-" + uuid.NewString()
}

func TestImportRepo_OneActivePerUser(t *testing.T) {
	db := setupTestDB(t)
	repo := NewImportRepository(db)
	ctx := context.Background()
	user := testUser()

	job := newTestImport(t, db, repo, user)
	assert.Equal(t, jobs.StatusProcessing, job.Status)

	active, err := repo.HasActive(ctx, user)
	require.NoError(t, err)
	assert.True(t, active)

	_, err = repo.Create(ctx, &imports.ImportJob{SlugID: uuid.NewString(), UserID: user, Source: imports.SourceCSV})
	assert.ErrorIs(t, err, imports.ErrImportInProgress)

	require.NoError(t, repo.Fail(ctx, job.ID, jobs.ReasonInvalidDataFormat, "bad csv"))
	assert.ErrorIs(t, repo.Fail(ctx, job.ID, jobs.ReasonProcessingError, "again"), imports.ErrJobNotProcessing)

	got, err := repo.GetBySlug(ctx, job.SlugID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, jobs.ReasonInvalidDataFormat, got.FailureReason)

	newTestImport(t, db, repo, user)
}

func TestImportRepo_CreateImported(t *testing.T) {
	db := setupTestDB(t)
	repo := NewImportRepository(db)
	ctx := context.Background()
	user := testUser()
	job := newTestImport(t, db, repo, user)

	created := time.Date(2020, 9, 13, 12, 26, 40, 0, time.UTC)
	draft := &imports.ConversationDraft{
		Title:             "Transit",
		Body:              "Where should the new line go?",
		ImportURL:         "https://pol.is/3abcd",
		OriginalAuthor:    "City Hall",
		OriginalCreatedAt: &created,
		Opinions: []imports.DraftOpinion{
			{ExternalID: "0", Participant: "0", Body: "Downtown"},
			{ExternalID: "1", Participant: "1", Body: "Airport", Moderated: -1},
		},
		Votes: []imports.DraftVote{
			{OpinionID: "0", Participant: "1", Value: votes.ValueAgree},
			{OpinionID: "1", Participant: "0", Value: votes.ValueDisagree},
			{OpinionID: "1", Participant: "2", Value: votes.ValuePass},
		},
	}

	conv, err := repo.CreateImported(ctx, job.ID, user, draft)
	require.NoError(t, err)

	got, err := repo.GetBySlug(ctx, job.SlugID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, conv.SlugID, got.ConversationSlugID)

	var opinionCount, voteCount, participants int
	require.NoError(t, db.QueryRow(`SELECT opinion_count, vote_count, participant_count FROM conversations WHERE id = $1`, conv.ID).
		Scan(&opinionCount, &voteCount, &participants))
	assert.Equal(t, 2, opinionCount)
	assert.Equal(t, 3, voteCount)
	assert.Equal(t, 3, participants)

	// The job is terminal now, so a second run writes nothing.
	_, err = repo.CreateImported(ctx, job.ID, user, draft)
	assert.ErrorIs(t, err, imports.ErrJobNotProcessing)
}

func TestImportRepo_ReapStale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewImportRepository(db)
	ctx := context.Background()
	user := testUser()
	job := newTestImport(t, db, repo, user)

	_, err := db.Exec(`UPDATE conversation_imports SET created_at = NOW() - INTERVAL '2 hours' WHERE id = $1`, job.ID)
	require.NoError(t, err)

	reaped, err := repo.ReapStale(ctx, time.Now().Add(-time.Hour), jobs.ReasonServerRestart)
	require.NoError(t, err)
	var mine []jobs.Reaped
	for _, r := range reaped {
		if r.UserID == user {
			mine = append(mine, r)
		}
	}
	require.Len(t, mine, 1)
	assert.Equal(t, job.SlugID, mine[0].SlugID)

	reaped, err = repo.ReapStale(ctx, time.Now().Add(-time.Hour), jobs.ReasonServerRestart)
	require.NoError(t, err)
	for _, r := range reaped {
		assert.NotEqual(t, user, r.UserID)
	}

	_, err = repo.CreateImported(ctx, job.ID, user, &imports.ConversationDraft{Title: "late"})
	assert.ErrorIs(t, err, imports.ErrJobNotProcessing)
}
