package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriba/internal/audio"
	"scriba/internal/config"
	"scriba/internal/logger"
	"scriba/internal/models"
	"scriba/internal/storage"
	"scriba/internal/transcribe"
)

type fakeProvider struct {
	mu        sync.Mutex
	texts     []string
	documents []string
	mediaErr  error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) SendText(ctx context.Context, recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeProvider) SendDocument(ctx context.Context, recipient, filePath, caption, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, filename)
	return nil
}

func (f *fakeProvider) DownloadMedia(ctx context.Context, mediaRef string) ([]byte, error) {
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	return []byte("fake audio bytes"), nil
}

func (f *fakeProvider) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeProvider) sentDocuments() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.documents...)
}

type fakeProcessor struct {
	duration     time.Duration
	normalizeErr error
}

func (f *fakeProcessor) Normalize(ctx context.Context, inputPath string) (*audio.Info, error) {
	if f.normalizeErr != nil {
		return nil, f.normalizeErr
	}
	return &audio.Info{Path: inputPath + ".mp3", SizeBytes: 4 << 20, Duration: f.duration}, nil
}

func (f *fakeProcessor) Split(ctx context.Context, inputPath string, spans []audio.Span) ([]audio.Chunk, error) {
	chunks := make([]audio.Chunk, len(spans))
	for i, span := range spans {
		chunks[i] = audio.Chunk{Index: span.Index, Bytes: []byte{byte(i)}, Start: span.Start, Duration: span.Duration}
	}
	return chunks, nil
}

type fakeChunkTranscriber struct {
	transcript string
	err        error
}

func (f *fakeChunkTranscriber) TranscribeChunks(ctx context.Context, chunks []audio.Chunk, onChunk transcribe.ProgressFunc) (string, error) {
	for i := range chunks {
		if onChunk != nil {
			onChunk(i + 1)
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.transcript, nil
}

type fakeAnalyzer struct {
	report string
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, transcript, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.report, nil
}

type fakeGenerator struct {
	err error
}

func (f *fakeGenerator) Render(transcript, analysis, jobID string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	analysisPath := ""
	if analysis != "" {
		analysisPath = "/tmp/fake_analysis.md"
	}
	return "/tmp/fake_transcript.md", analysisPath, nil
}

type fakeResolver struct{}

func (f *fakeResolver) DownloadAudio(ctx context.Context, url, destDir string) (string, error) {
	return "", errors.New("not used")
}

type fixture struct {
	pipeline  *Pipeline
	repo      *storage.JobRepository
	provider  *fakeProvider
	processor *fakeProcessor
	chunks    *fakeChunkTranscriber
	analyzer  *fakeAnalyzer
	documents *fakeGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Audio: config.AudioConfig{ChunkDuration: 15 * time.Minute},
		Notify: config.NotifyConfig{
			MinInterval:        0,
			HeartbeatInterval:  time.Hour,
			HeartbeatThreshold: time.Hour,
		},
	}

	f := &fixture{
		repo:      storage.NewJobRepository(db),
		provider:  &fakeProvider{},
		processor: &fakeProcessor{duration: 20 * time.Minute},
		chunks:    &fakeChunkTranscriber{transcript: "[00:00-00:05] hello"},
		analyzer:  &fakeAnalyzer{report: "**Summary** fine"},
		documents: &fakeGenerator{},
	}
	f.pipeline = New(f.repo, f.provider, f.processor, f.chunks, f.analyzer, f.documents,
		&fakeResolver{}, cfg, logger.New())
	return f
}

func (f *fixture) createJob(t *testing.T) *models.Job {
	t.Helper()
	job := &models.Job{
		Owner:           "owner-1",
		Platform:        "whatsapp",
		SourceMessageID: "msg-1",
		AudioRef:        "media-1",
	}
	require.NoError(t, f.repo.Create(context.Background(), job))
	return job
}

func TestProcess_HappyPath(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t)

	f.pipeline.Process(context.Background(), job.ID)

	got, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, "[00:00-00:05] hello", got.Transcript)
	assert.Equal(t, "**Summary** fine", got.Analysis)
	assert.Equal(t, 2, got.ChunksTotal)
	assert.Equal(t, 2, got.ChunksProcessed)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	// transcript and analysis documents both delivered
	assert.Len(t, f.provider.sentDocuments(), 2)
}

func TestProcess_AnalysisFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = errors.New("analysis api down")
	job := f.createJob(t)

	f.pipeline.Process(context.Background(), job.ID)

	got, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.NotEmpty(t, got.Transcript)
	assert.Empty(t, got.Analysis)

	// only the transcript document goes out
	assert.Len(t, f.provider.sentDocuments(), 1)
}

func TestProcess_TranscriptionFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.chunks.err = transcribe.ErrAllChunksFailed
	f.chunks.transcript = ""
	job := f.createJob(t)

	f.pipeline.Process(context.Background(), job.ID)

	got, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
	assert.Empty(t, f.provider.sentDocuments())

	texts := f.provider.sentTexts()
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[len(texts)-1], "❌")
}

func TestProcess_DownloadFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.provider.mediaErr = errors.New("media expired")
	job := f.createJob(t)

	f.pipeline.Process(context.Background(), job.ID)

	got, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "media expired")
}

func TestProcess_DocumentFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.documents.err = errors.New("disk full")
	job := f.createJob(t)

	f.pipeline.Process(context.Background(), job.ID)

	got, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	// the transcript survives in the store even when delivery failed
	assert.NotEmpty(t, got.Transcript)
}

func TestProcess_NonPendingJobSkipped(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t)
	job.Status = models.JobStatusCompleted
	require.NoError(t, f.repo.Update(context.Background(), job))

	f.pipeline.Process(context.Background(), job.ID)

	got, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Empty(t, f.provider.sentTexts())
}

func TestProcess_MissingJobIsNoop(t *testing.T) {
	f := newFixture(t)
	f.pipeline.Process(context.Background(), "no-such-job")
	assert.Empty(t, f.provider.sentTexts())
}

func TestProcess_StaleAttemptDiscardsResult(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t)

	// a recovery pass bumps the attempt mid-flight
	f.chunks.transcript = "[00:00-00:05] late result"
	superseded := *job
	superseded.Status = models.JobStatusFailed
	require.NoError(t, f.repo.BumpAttempt(context.Background(), &superseded))

	f.pipeline.Process(context.Background(), job.ID)

	got, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	// the stale execution never claimed the job, so nothing moved
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Empty(t, got.Transcript)
}
