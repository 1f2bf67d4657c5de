package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"Agora/internal/core/exports"
	"Agora/internal/core/jobs"
)

const activeExportIndex = "idx_conversation_exports_one_active"

type postgresExportRepo struct {
	db *sql.DB
}

// ExportRepository is the export job store, including stale reaping.
type ExportRepository interface {
	exports.Repository
	ReapStale(ctx context.Context, olderThan time.Time, reason jobs.FailureReason) ([]jobs.Reaped, error)
}

// NewExportRepository creates a new PostgreSQL export repository
func NewExportRepository(db *sql.DB) ExportRepository {
	return &postgresExportRepo{db: db}
}

const exportColumns = `
	e.id, e.slug_id, e.conversation_id, c.slug_id, e.requested_by, e.status,
	e.failure_reason, e.cancellation_reason, e.message,
	e.created_at, e.completed_at, e.expires_at, e.deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanExport(s rowScanner) (*exports.ExportJob, error) {
	var (
		job                             exports.ExportJob
		status                          string
		reason, cancellation, message   sql.NullString
		completedAt, expiresAt, deleted sql.NullTime
	)
	err := s.Scan(
		&job.ID, &job.SlugID, &job.ConversationID, &job.ConversationSlugID, &job.RequestedBy, &status,
		&reason, &cancellation, &message,
		&job.CreatedAt, &completedAt, &expiresAt, &deleted,
	)
	if err != nil {
		return nil, err
	}
	job.Status = jobs.Status(status)
	job.FailureReason = jobs.FailureReason(reason.String)
	job.CancellationReason = cancellation.String
	job.Message = message.String
	job.CompletedAt = timePtr(completedAt)
	job.ExpiresAt = timePtr(expiresAt)
	job.DeletedAt = timePtr(deleted)
	return &job, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// Create inserts a processing export
func (r *postgresExportRepo) Create(ctx context.Context, job *exports.ExportJob) (*exports.ExportJob, error) {
	query := `
		INSERT INTO conversation_exports (slug_id, conversation_id, requested_by, status)
		VALUES ($1, $2, $3, 'processing')
		RETURNING id, created_at`

	out := *job
	err := r.db.QueryRowContext(ctx, query, job.SlugID, job.ConversationID, job.RequestedBy).
		Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, activeExportIndex) {
			return nil, exports.ErrExportInProgress
		}
		return nil, fmt.Errorf("failed to create export: %w", err)
	}
	out.Status = jobs.StatusProcessing
	return &out, nil
}

// GetBySlug retrieves an export with its files
func (r *postgresExportRepo) GetBySlug(ctx context.Context, slugID string) (*exports.ExportJob, error) {
	query := `SELECT ` + exportColumns + `
		FROM conversation_exports e
		JOIN conversations c ON c.id = e.conversation_id
		WHERE e.slug_id = $1`

	job, err := scanExport(r.db.QueryRowContext(ctx, query, slugID))
	if err == sql.ErrNoRows {
		return nil, exports.ErrExportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export: %w", err)
	}

	files, err := r.listFiles(ctx, r.db, []int64{job.ID})
	if err != nil {
		return nil, err
	}
	job.Files = files[job.ID]
	return job, nil
}

func (r *postgresExportRepo) latestWithStatus(ctx context.Context, conversationID int64, status jobs.Status) (*exports.ExportJob, error) {
	query := `SELECT ` + exportColumns + `
		FROM conversation_exports e
		JOIN conversations c ON c.id = e.conversation_id
		WHERE e.conversation_id = $1 AND e.status = $2 AND e.deleted_at IS NULL
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT 1`

	job, err := scanExport(r.db.QueryRowContext(ctx, query, conversationID, string(status)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest %s export: %w", status, err)
	}
	return job, nil
}

// LatestActive returns the conversation's processing export, or nil
func (r *postgresExportRepo) LatestActive(ctx context.Context, conversationID int64) (*exports.ExportJob, error) {
	return r.latestWithStatus(ctx, conversationID, jobs.StatusProcessing)
}

// LatestCompleted returns the conversation's newest completed export, or nil
func (r *postgresExportRepo) LatestCompleted(ctx context.Context, conversationID int64) (*exports.ExportJob, error) {
	return r.latestWithStatus(ctx, conversationID, jobs.StatusCompleted)
}

// ListByConversation returns the newest exports without their files
func (r *postgresExportRepo) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*exports.ExportJob, error) {
	query := `SELECT ` + exportColumns + `
		FROM conversation_exports e
		JOIN conversations c ON c.id = e.conversation_id
		WHERE e.conversation_id = $1 AND e.deleted_at IS NULL
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT $2`

	return r.queryExports(ctx, query, conversationID, limit)
}

// ListSweepable returns exports that still have artifacts but should not:
// completed ones past expires_at and cancelled ones, with their files
func (r *postgresExportRepo) ListSweepable(ctx context.Context, now time.Time, limit int) ([]*exports.ExportJob, error) {
	query := `SELECT ` + exportColumns + `
		FROM conversation_exports e
		JOIN conversations c ON c.id = e.conversation_id
		WHERE e.deleted_at IS NULL
			AND ((e.status = 'completed' AND e.expires_at < $1) OR e.status = 'cancelled')
		ORDER BY e.updated_at
		LIMIT $2`

	result, err := r.queryExports(ctx, query, now, limit)
	if err != nil || len(result) == 0 {
		return result, err
	}

	ids := make([]int64, len(result))
	for i, job := range result {
		ids[i] = job.ID
	}
	files, err := r.listFiles(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for _, job := range result {
		job.Files = files[job.ID]
	}
	return result, nil
}

func (r *postgresExportRepo) queryExports(ctx context.Context, query string, args ...any) ([]*exports.ExportJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*exports.ExportJob
	for rows.Next() {
		job, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		result = append(result, job)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exports: %w", err)
	}
	return result, nil
}

func (r *postgresExportRepo) listFiles(ctx context.Context, q queryer, exportIDs []int64) (map[int64][]exports.ExportFile, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, export_id, file_type, file_name, file_size, record_count, s3_key, url, url_expires_at
		FROM conversation_export_files
		WHERE export_id = ANY($1)
		ORDER BY export_id, id`,
		pq.Array(exportIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list export files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64][]exports.ExportFile)
	for rows.Next() {
		var (
			f         exports.ExportFile
			exportID  int64
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&f.ID, &exportID, &f.FileType, &f.FileName, &f.FileSize, &f.RecordCount, &f.S3Key, &f.URL, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan export file: %w", err)
		}
		f.URLExpiresAt = expiresAt.Time
		out[exportID] = append(out[exportID], f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating export files: %w", err)
	}
	return out, nil
}

// Complete moves a processing export to completed and stores its files
func (r *postgresExportRepo) Complete(ctx context.Context, jobID int64, files []exports.ExportFile, expiresAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, f := range files {
		total += f.FileSize
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE conversation_exports
		SET status = 'completed', completed_at = NOW(), expires_at = $2,
			total_file_size = $3, total_file_count = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`,
		jobID, expiresAt, total, len(files),
	)
	if err != nil {
		return fmt.Errorf("failed to complete export: %w", err)
	}
	if err := requireOneRow(result, exports.ErrJobNotProcessing); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversation_export_files
			(export_id, file_type, file_name, file_size, record_count, s3_key, url, url_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("failed to prepare export file insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range files {
		_, err := stmt.ExecContext(ctx, jobID, f.FileType, f.FileName, f.FileSize, f.RecordCount, f.S3Key, f.URL, nullTime(f.URLExpiresAt))
		if err != nil {
			return fmt.Errorf("failed to insert export file %s: %w", f.FileType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit export: %w", err)
	}
	return nil
}

// Fail moves a processing export to failed
func (r *postgresExportRepo) Fail(ctx context.Context, jobID int64, reason jobs.FailureReason, message string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE conversation_exports
		SET status = 'failed', failure_reason = $2, message = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`,
		jobID, string(reason), message,
	)
	if err != nil {
		return fmt.Errorf("failed to fail export: %w", err)
	}
	return requireOneRow(result, exports.ErrJobNotProcessing)
}

// Cancel moves a processing or completed export to cancelled and returns
// its files. The files are read after the update has taken the row lock, so
// a Complete that commits first is always seen.
func (r *postgresExportRepo) Cancel(ctx context.Context, jobID int64, reason, cancelledBy string) ([]exports.ExportFile, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE conversation_exports
		SET status = 'cancelled', cancellation_reason = $2, cancelled_by = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('processing', 'completed') AND deleted_at IS NULL`,
		jobID, reason, cancelledBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel export: %w", err)
	}
	if err := requireOneRow(result, exports.ErrNotCancellable); err != nil {
		return nil, err
	}

	files, err := r.listFiles(ctx, tx, []int64{jobID})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit export cancellation: %w", err)
	}
	return files[jobID], nil
}

// MarkDeleted records that an export's artifacts were removed
func (r *postgresExportRepo) MarkDeleted(ctx context.Context, jobID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_exports
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark export deleted: %w", err)
	}
	return nil
}

// UpdateFileURL stores a freshly presigned download URL
func (r *postgresExportRepo) UpdateFileURL(ctx context.Context, fileID int64, url string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversation_export_files SET url = $2, url_expires_at = $3 WHERE id = $1`,
		fileID, url, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update export file url: %w", err)
	}
	return nil
}

// ReapStale fails every export stuck in processing since before olderThan
func (r *postgresExportRepo) ReapStale(ctx context.Context, olderThan time.Time, reason jobs.FailureReason) ([]jobs.Reaped, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE conversation_exports e
		SET status = 'failed', failure_reason = $2, message = 'export did not finish in time', updated_at = NOW()
		FROM conversations c
		WHERE c.id = e.conversation_id AND e.status = 'processing' AND e.created_at < $1
		RETURNING e.id, e.slug_id, e.requested_by, c.slug_id, e.created_at`,
		olderThan, string(reason),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reap stale exports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []jobs.Reaped
	for rows.Next() {
		row := jobs.Reaped{Kind: jobs.KindExport}
		if err := rows.Scan(&row.JobID, &row.SlugID, &row.UserID, &row.ConversationSlugID, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reaped export: %w", err)
		}
		out = append(out, row)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reaped exports: %w", err)
	}
	return out, nil
}
