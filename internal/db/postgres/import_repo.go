package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"Agora/internal/core/imports"
	"Agora/internal/core/jobs"
)

const activeImportIndex = "idx_conversation_imports_one_active"

type postgresImportRepo struct {
	db *sql.DB
}

// ImportRepository is the import job store. It also persists imported
// conversations and reaps stale imports.
type ImportRepository interface {
	imports.Repository
	imports.ConversationCreator
	ReapStale(ctx context.Context, olderThan time.Time, reason jobs.FailureReason) ([]jobs.Reaped, error)
}

// NewImportRepository creates a new PostgreSQL import repository
func NewImportRepository(db *sql.DB) ImportRepository {
	return &postgresImportRepo{db: db}
}

// Create inserts a processing import job
func (r *postgresImportRepo) Create(ctx context.Context, job *imports.ImportJob) (*imports.ImportJob, error) {
	query := `
		INSERT INTO conversation_imports (slug_id, user_id, source_kind, source_locator, status)
		VALUES ($1, $2, $3, NULLIF($4, ''), 'processing')
		RETURNING id, status, created_at, updated_at`

	out := *job
	var status string
	err := r.db.QueryRowContext(ctx, query, job.SlugID, job.UserID, string(job.Source), job.SourceLocator).
		Scan(&out.ID, &status, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, activeImportIndex) {
			return nil, imports.ErrImportInProgress
		}
		return nil, fmt.Errorf("failed to create import: %w", err)
	}
	out.Status = jobs.Status(status)
	return &out, nil
}

// GetBySlug retrieves an import job with the slug of the conversation it
// produced, if any
func (r *postgresImportRepo) GetBySlug(ctx context.Context, slugID string) (*imports.ImportJob, error) {
	query := `
		SELECT i.id, i.slug_id, i.user_id, i.source_kind, i.source_locator, i.status,
			i.failure_reason, i.conversation_id, c.slug_id, i.created_at, i.updated_at
		FROM conversation_imports i
		LEFT JOIN conversations c ON c.id = i.conversation_id
		WHERE i.slug_id = $1`

	var (
		job                               imports.ImportJob
		source, status                    string
		locator, reason, conversationSlug sql.NullString
		conversationID                    sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, slugID).Scan(
		&job.ID, &job.SlugID, &job.UserID, &source, &locator, &status,
		&reason, &conversationID, &conversationSlug, &job.CreatedAt, &job.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, imports.ErrImportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import: %w", err)
	}

	job.Source = imports.SourceKind(source)
	job.SourceLocator = locator.String
	job.Status = jobs.Status(status)
	job.FailureReason = jobs.FailureReason(reason.String)
	job.ConversationSlugID = conversationSlug.String
	if conversationID.Valid {
		job.ConversationID = &conversationID.Int64
	}
	return &job, nil
}

// HasActive reports whether the user has a processing import
func (r *postgresImportRepo) HasActive(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversation_imports WHERE user_id = $1 AND status = 'processing')`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active imports: %w", err)
	}
	return exists, nil
}

// Fail moves a processing import to failed
func (r *postgresImportRepo) Fail(ctx context.Context, jobID int64, reason jobs.FailureReason, message string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE conversation_imports
		SET status = 'failed', failure_reason = $2, message = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`,
		jobID, string(reason), message,
	)
	if err != nil {
		return fmt.Errorf("failed to fail import: %w", err)
	}
	return requireOneRow(result, imports.ErrJobNotProcessing)
}

// ReapStale fails every import stuck in processing since before olderThan
func (r *postgresImportRepo) ReapStale(ctx context.Context, olderThan time.Time, reason jobs.FailureReason) ([]jobs.Reaped, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE conversation_imports
		SET status = 'failed', failure_reason = $2, message = 'import did not finish in time', updated_at = NOW()
		WHERE status = 'processing' AND created_at < $1
		RETURNING id, slug_id, user_id, created_at`,
		olderThan, string(reason),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reap stale imports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []jobs.Reaped
	for rows.Next() {
		row := jobs.Reaped{Kind: jobs.KindImport}
		if err := rows.Scan(&row.JobID, &row.SlugID, &row.UserID, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reaped import: %w", err)
		}
		out = append(out, row)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reaped imports: %w", err)
	}
	return out, nil
}

// CreateImported writes the conversation, its opinions and votes and
// completes the job in one transaction. The job row is locked first, so a
// concurrent reap either wins before this starts or waits for the commit.
func (r *postgresImportRepo) CreateImported(ctx context.Context, jobID int64, authorID string, draft *imports.ConversationDraft) (*imports.CreatedConversation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status, source string
	err = tx.QueryRowContext(ctx,
		`SELECT status, source_kind FROM conversation_imports WHERE id = $1 FOR UPDATE`, jobID,
	).Scan(&status, &source)
	if err == sql.ErrNoRows {
		return nil, imports.ErrImportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock import: %w", err)
	}
	if jobs.Status(status) != jobs.StatusProcessing {
		return nil, imports.ErrJobNotProcessing
	}

	created := &imports.CreatedConversation{SlugID: uuid.NewString()}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO conversations (
			slug_id, author_id, title, body, is_importing, import_method,
			import_url, import_conversation_url, import_report_url,
			import_created_at, import_author
		) VALUES ($1, $2, $3, $4, TRUE, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''))
		RETURNING id`,
		created.SlugID, authorID, draft.Title, draft.Body, source,
		draft.ImportURL, draft.ConversationURL, draft.ReportURL,
		draft.OriginalCreatedAt, draft.OriginalAuthor,
	).Scan(&created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	opinionIDs, err := insertImportedOpinions(ctx, tx, created, authorID, draft.Opinions)
	if err != nil {
		return nil, err
	}
	votesWritten, err := insertImportedVotes(ctx, tx, created, opinionIDs, draft.Votes)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE opinions o
		SET num_agrees = s.agrees, num_disagrees = s.disagrees, num_passes = s.passes
		FROM (
			SELECT opinion_id,
				COUNT(*) FILTER (WHERE value = 'agree') AS agrees,
				COUNT(*) FILTER (WHERE value = 'disagree') AS disagrees,
				COUNT(*) FILTER (WHERE value = 'pass') AS passes
			FROM votes
			WHERE conversation_id = $1
			GROUP BY opinion_id
		) s
		WHERE o.id = s.opinion_id`,
		created.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count imported votes: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET is_importing = FALSE, opinion_count = $2, vote_count = $3, participant_count = $4, updated_at = NOW()
		WHERE id = $1`,
		created.ID, len(opinionIDs), votesWritten, draft.Participants(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize conversation: %w", err)
	}

	if err := enqueueMathUpdates(ctx, tx, []int64{created.ID}); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversation_imports
		SET status = 'completed', conversation_id = $2, updated_at = NOW()
		WHERE id = $1`,
		jobID, created.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete import: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}
	return created, nil
}

// importedUserID names the synthetic author of imported content. The ':'
// keeps it out of the space of real user ids.
func importedUserID(conversationSlugID, participant string) string {
	return fmt.Sprintf("import:%s:%s", conversationSlugID, participant)
}

func insertImportedOpinions(ctx context.Context, tx *sql.Tx, conv *imports.CreatedConversation, ownerID string, opinions []imports.DraftOpinion) (map[string]int64, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO opinions (conversation_id, author_id, body, external_id, moderated, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare opinion insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	ids := make(map[string]int64, len(opinions))
	for _, o := range opinions {
		author := ownerID
		if o.Participant != "" {
			author = importedUserID(conv.SlugID, o.Participant)
		}
		var id int64
		if err := stmt.QueryRowContext(ctx, conv.ID, author, o.Body, o.ExternalID, o.Moderated, nullTime(o.CreatedAt)).Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to insert opinion %s: %w", o.ExternalID, err)
		}
		ids[o.ExternalID] = id
	}
	return ids, nil
}

func insertImportedVotes(ctx context.Context, tx *sql.Tx, conv *imports.CreatedConversation, opinionIDs map[string]int64, draftVotes []imports.DraftVote) (int, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO votes (user_id, opinion_id, conversation_id, value, cast_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		ON CONFLICT (user_id, opinion_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare vote insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	written := 0
	for _, v := range draftVotes {
		opinionID, ok := opinionIDs[v.OpinionID]
		if !ok {
			return 0, jobs.Classify(jobs.ReasonInvalidDataFormat,
				fmt.Errorf("vote references unknown statement %s", v.OpinionID))
		}
		result, err := stmt.ExecContext(ctx, importedUserID(conv.SlugID, v.Participant), opinionID, conv.ID, string(v.Value), nullTime(v.CastAt))
		if err != nil {
			return 0, fmt.Errorf("failed to insert vote: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to check vote insert: %w", err)
		}
		written += int(n)
	}
	return written, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// requireOneRow maps an UPDATE that matched nothing to errNone.
func requireOneRow(result sql.Result, errNone error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return errNone
	}
	return nil
}
