package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriba/internal/config"
	"scriba/internal/logger"
	"scriba/internal/models"
	"scriba/internal/storage"
)

type fakeProvider struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) SendText(ctx context.Context, recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeProvider) SendDocument(ctx context.Context, recipient, filePath, caption, filename string) error {
	return nil
}

func (f *fakeProvider) DownloadMedia(ctx context.Context, mediaRef string) ([]byte, error) {
	return nil, nil
}

func (f *fakeProvider) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

type fakeSubmitter struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeSubmitter) Submit(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, jobID)
}

func (f *fakeSubmitter) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func testRecoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		Interval:        5 * time.Minute,
		OrphanThreshold: time.Hour,
		RetryBackoff:    5 * time.Minute,
		MaxRetries:      3,
		CleanupAge:      30 * 24 * time.Hour,
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *storage.JobRepository, *fakeProvider, *fakeSubmitter, time.Time) {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := storage.NewJobRepository(db)
	provider := &fakeProvider{}
	submitter := &fakeSubmitter{}
	s := NewScheduler(repo, provider, submitter, testRecoveryConfig(), logger.New())

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, repo, provider, submitter, now
}

func createJob(t *testing.T, repo *storage.JobRepository, messageID string, mutate func(*models.Job)) *models.Job {
	t.Helper()
	job := &models.Job{
		Owner:           "owner-1",
		Platform:        "telegram",
		SourceMessageID: messageID,
		AudioRef:        "media-1",
	}
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func TestRunOnce_ReclaimsOrphans(t *testing.T) {
	s, repo, provider, _, now := newTestScheduler(t)
	ctx := context.Background()

	stuck := createJob(t, repo, "msg-stuck", nil)
	claimed, err := repo.ClaimPending(ctx, stuck, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)
	stuck.Status = models.JobStatusTranscribing
	require.NoError(t, repo.Update(ctx, stuck))

	require.NoError(t, s.RunOnce(ctx))

	got, err := repo.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	// not requeued in the same pass: the retry scan sees last_retry_at just
	// stamped and waits out the backoff window
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 1, got.Attempt)
	assert.Nil(t, got.StartedAt)
	assert.Contains(t, got.Error, "presumed dead")

	messages := provider.sent()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "interrupted")
}

func TestRunOnce_ActiveJobsUntouched(t *testing.T) {
	s, repo, provider, _, now := newTestScheduler(t)
	ctx := context.Background()

	fresh := createJob(t, repo, "msg-fresh", nil)
	claimed, err := repo.ClaimPending(ctx, fresh, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	pending := createJob(t, repo, "msg-pending", nil)
	done := createJob(t, repo, "msg-done", func(j *models.Job) {
		j.Status = models.JobStatusCompleted
	})

	require.NoError(t, s.RunOnce(ctx))

	for _, id := range []string{fresh.ID, pending.ID, done.ID} {
		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 0, got.Attempt)
		assert.Equal(t, 0, got.RetryCount)
	}
	assert.Empty(t, provider.sent())
}

func TestRunOnce_RequeuesFailedAfterBackoff(t *testing.T) {
	s, repo, _, submitter, _ := newTestScheduler(t)
	ctx := context.Background()

	failed := createJob(t, repo, "msg-failed", func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.Error = "transcription api down"
	})

	require.NoError(t, s.RunOnce(ctx))

	got, err := repo.GetByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 1, got.Attempt)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.LastRetryAt)

	assert.Equal(t, []string{failed.ID}, submitter.submitted())
}

func TestRunOnce_BackoffWindowRespected(t *testing.T) {
	s, repo, _, submitter, now := newTestScheduler(t)
	ctx := context.Background()

	recent := now.Add(-time.Minute)
	createJob(t, repo, "msg-too-soon", func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.RetryCount = 1
		j.LastRetryAt = &recent
	})

	require.NoError(t, s.RunOnce(ctx))
	assert.Empty(t, submitter.submitted())
}

func TestRunOnce_RetryCapNeverExceeded(t *testing.T) {
	s, repo, _, submitter, now := newTestScheduler(t)
	ctx := context.Background()

	past := now.Add(-time.Hour)
	exhausted := createJob(t, repo, "msg-exhausted", func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.RetryCount = 3
		j.LastRetryAt = &past
		j.Error = "still broken"
	})

	require.NoError(t, s.RunOnce(ctx))

	got, err := repo.GetByID(ctx, exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Empty(t, submitter.submitted())
}

func TestRunOnce_OrphanRetryCountClampedAtCap(t *testing.T) {
	s, repo, _, _, now := newTestScheduler(t)
	ctx := context.Background()

	stuck := createJob(t, repo, "msg-stuck-cap", func(j *models.Job) {
		j.RetryCount = 3
	})
	claimed, err := repo.ClaimPending(ctx, stuck, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, s.RunOnce(ctx))

	got, err := repo.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
}

func TestRunOnce_PermanentNoticeExactlyOnce(t *testing.T) {
	s, repo, provider, _, _ := newTestScheduler(t)
	ctx := context.Background()

	createJob(t, repo, "msg-permanent", func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.RetryCount = 3
		j.Error = "gave up"
	})

	require.NoError(t, s.RunOnce(ctx))
	require.NoError(t, s.RunOnce(ctx))

	messages := provider.sent()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "will not be retried")
}

func TestRunOnce_CleanupRemovesOldTerminalJobs(t *testing.T) {
	s, repo, _, _, now := newTestScheduler(t)
	ctx := context.Background()

	old := createJob(t, repo, "msg-ancient", func(j *models.Job) {
		j.Status = models.JobStatusCompleted
		j.CreatedAt = now.Add(-60 * 24 * time.Hour)
	})

	require.NoError(t, s.RunOnce(ctx))

	got, err := repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
