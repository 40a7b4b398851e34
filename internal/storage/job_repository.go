package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scriba/internal/models"
)

// ErrStaleAttempt is returned when an update carries an attempt number the
// store has already moved past. The caller's execution was superseded by a
// retry and its result must be discarded.
var ErrStaleAttempt = errors.New("job updated by a newer attempt")

// ErrNotFound is returned when the referenced job does not exist.
var ErrNotFound = errors.New("job not found")

// JobRepository is the data access layer for jobs.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, owner, platform, source_message_id, audio_ref, status,
	audio_size_bytes, chunks_total, chunks_processed, transcript, analysis,
	attempt, retry_count, last_retry_at, notified_permanent, error,
	created_at, started_at, completed_at`

// Create inserts a new job. A missing ID is assigned and the status defaults
// to pending. A duplicate source_message_id violates the unique index, so
// duplicate webhook deliveries fail here rather than spawning a second job.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Owner, job.Platform, job.SourceMessageID, job.AudioRef, job.Status,
		job.AudioSizeBytes, job.ChunksTotal, job.ChunksProcessed, job.Transcript, job.Analysis,
		job.Attempt, job.RetryCount, nullTime(job.LastRetryAt), job.NotifiedPermanent, job.Error,
		job.CreatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID returns the job with the given id, or nil when absent.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// GetBySourceMessageID returns the job created for the given inbound message,
// or nil when absent. Used for duplicate-delivery detection at the trigger
// layer.
func (r *JobRepository) GetBySourceMessageID(ctx context.Context, messageID string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE source_message_id = ?`, messageID)
	return scanJob(row)
}

// Update persists the job as a single guarded write. The WHERE clause matches
// both id and the attempt the job was loaded with, so an execution that lost
// an orphan-recovery race updates zero rows and gets ErrStaleAttempt instead
// of overwriting a newer attempt's progress.
func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?,
			audio_size_bytes = ?,
			chunks_total = ?,
			chunks_processed = ?,
			transcript = ?,
			analysis = ?,
			retry_count = ?,
			last_retry_at = ?,
			notified_permanent = ?,
			error = ?,
			started_at = ?,
			completed_at = ?
		WHERE id = ? AND attempt = ?`,
		job.Status,
		job.AudioSizeBytes, job.ChunksTotal, job.ChunksProcessed,
		job.Transcript, job.Analysis,
		job.RetryCount, nullTime(job.LastRetryAt), job.NotifiedPermanent, job.Error,
		nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.ID, job.Attempt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return r.checkGuarded(ctx, res, job.ID)
}

// ClaimPending atomically moves a pending job into processing, stamping
// started_at. It guards on both status and attempt, so exactly one execution
// can own the job. Returns false when the job was already claimed, retried,
// or is no longer pending.
func (r *JobRepository) ClaimPending(ctx context.Context, job *models.Job, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, completed_at = NULL, error = ''
		WHERE id = ? AND status = ? AND attempt = ?`,
		models.JobStatusProcessing, now,
		job.ID, models.JobStatusPending, job.Attempt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	job.MarkProcessing(now)
	job.Error = ""
	job.CompletedAt = nil
	return true, nil
}

// BumpAttempt atomically advances the job to a new attempt while applying the
// recovery mutation. It guards on the attempt the scheduler read, so two
// concurrent recovery passes cannot both claim the same job.
func (r *JobRepository) BumpAttempt(ctx context.Context, job *models.Job) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET
			attempt = attempt + 1,
			status = ?,
			retry_count = ?,
			last_retry_at = ?,
			error = ?,
			started_at = ?,
			completed_at = ?
		WHERE id = ? AND attempt = ?`,
		job.Status, job.RetryCount, nullTime(job.LastRetryAt), job.Error,
		nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.ID, job.Attempt,
	)
	if err != nil {
		return fmt.Errorf("failed to bump job attempt: %w", err)
	}
	if err := r.checkGuarded(ctx, res, job.ID); err != nil {
		return err
	}
	job.Attempt++
	return nil
}

// MarkPermanentNotified flags that the owner has been told the job failed for
// good. The flag makes the permanent-failure notification exactly-once.
func (r *JobRepository) MarkPermanentNotified(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET notified_permanent = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark job notified: %w", err)
	}
	return nil
}

// FindOrphaned returns jobs stuck in an active stage since before cutoff.
func (r *JobRepository) FindOrphaned(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN (?, ?, ?) AND started_at IS NOT NULL AND started_at < ?
		ORDER BY started_at`,
		models.JobStatusProcessing, models.JobStatusTranscribing, models.JobStatusAnalyzing,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphaned jobs: %w", err)
	}
	return scanJobs(rows)
}

// FindRetryCandidates returns failed jobs under the retry cap whose backoff
// window has elapsed. A failed job that was never retried (NULL last_retry_at)
// is eligible immediately.
func (r *JobRepository) FindRetryCandidates(ctx context.Context, maxRetries int, cutoff time.Time) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND retry_count < ?
		  AND (last_retry_at IS NULL OR last_retry_at < ?)
		ORDER BY created_at`,
		models.JobStatusFailed, maxRetries, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry candidates: %w", err)
	}
	return scanJobs(rows)
}

// FindUnnotifiedPermanent returns permanently failed jobs whose owner has not
// yet received the final notification.
func (r *JobRepository) FindUnnotifiedPermanent(ctx context.Context, maxRetries int) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND retry_count >= ? AND notified_permanent = 0`,
		models.JobStatusFailed, maxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query permanently failed jobs: %w", err)
	}
	return scanJobs(rows)
}

// FindPending returns the oldest pending jobs, up to limit.
func (r *JobRepository) FindPending(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ?
		ORDER BY created_at
		LIMIT ?`,
		models.JobStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	return scanJobs(rows)
}

// ListByStatus returns jobs with the given status, most recent first.
func (r *JobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by status: %w", err)
	}
	return scanJobs(rows)
}

// ListRecent returns the most recently created jobs.
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent jobs: %w", err)
	}
	return scanJobs(rows)
}

// CountByStatus returns job counts keyed by status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int64)
	for rows.Next() {
		var status models.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// CleanupTerminal deletes completed and failed jobs created before cutoff.
// Returns the number of jobs removed.
func (r *JobRepository) CleanupTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN (?, ?) AND created_at < ?`,
		models.JobStatusCompleted, models.JobStatusFailed, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup jobs: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes a job.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (r *JobRepository) checkGuarded(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	return ErrStaleAttempt
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(s rowScanner) (*models.Job, error) {
	var job models.Job
	var lastRetryAt, startedAt, completedAt sql.NullTime
	err := s.Scan(
		&job.ID, &job.Owner, &job.Platform, &job.SourceMessageID, &job.AudioRef, &job.Status,
		&job.AudioSizeBytes, &job.ChunksTotal, &job.ChunksProcessed, &job.Transcript, &job.Analysis,
		&job.Attempt, &job.RetryCount, &lastRetryAt, &job.NotifiedPermanent, &job.Error,
		&job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	job.LastRetryAt = timePtr(lastRetryAt)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return &job, nil
}

func scanJob(row *sql.Row) (*models.Job, error) {
	job, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]models.Job, error) {
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
