package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"scriba/internal/analysis"
	"scriba/internal/audio"
	"scriba/internal/config"
	"scriba/internal/document"
	"scriba/internal/media"
	"scriba/internal/messaging"
	"scriba/internal/models"
	"scriba/internal/notify"
	"scriba/internal/storage"
	"scriba/internal/transcribe"
)

// AudioProcessor normalizes source media and cuts it into chunks.
type AudioProcessor interface {
	Normalize(ctx context.Context, inputPath string) (*audio.Info, error)
	Split(ctx context.Context, inputPath string, spans []audio.Span) ([]audio.Chunk, error)
}

// ChunkTranscriber merges per-chunk transcription into one transcript.
type ChunkTranscriber interface {
	TranscribeChunks(ctx context.Context, chunks []audio.Chunk, onChunk transcribe.ProgressFunc) (string, error)
}

// MediaResolver downloads audio for URL-shaped refs.
type MediaResolver interface {
	DownloadAudio(ctx context.Context, url, destDir string) (string, error)
}

// Pipeline advances one job through its state machine end to end. Every
// transition is committed to the store before the next stage begins, so a
// crash mid-stage leaves the store reflecting the last completed stage.
type Pipeline struct {
	jobs       *storage.JobRepository
	provider   messaging.Provider
	processor  AudioProcessor
	transcribe ChunkTranscriber
	analyzer   analysis.Analyzer
	documents  document.Generator
	youtube    MediaResolver
	cfg        *config.Config
	log        *logrus.Entry
}

// New creates a Pipeline.
func New(
	jobs *storage.JobRepository,
	provider messaging.Provider,
	processor AudioProcessor,
	chunkTranscriber ChunkTranscriber,
	analyzer analysis.Analyzer,
	documents document.Generator,
	youtube MediaResolver,
	cfg *config.Config,
	log *logrus.Entry,
) *Pipeline {
	return &Pipeline{
		jobs:       jobs,
		provider:   provider,
		processor:  processor,
		transcribe: chunkTranscriber,
		analyzer:   analyzer,
		documents:  documents,
		youtube:    youtube,
		cfg:        cfg,
		log:        log.WithField("component", "pipeline"),
	}
}

// Process runs the full pipeline for one job. It is the worker's entrypoint
// and never returns an error: every failure path ends in the store and in a
// single owner notification.
func (p *Pipeline) Process(ctx context.Context, jobID string) {
	log := p.log.WithField("job_id", jobID)

	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		log.WithError(err).Error("Failed to load job")
		return
	}
	if job == nil {
		log.Warn("Job not found, skipping")
		return
	}

	claimed, err := p.jobs.ClaimPending(ctx, job, time.Now().UTC())
	if err != nil {
		log.WithError(err).Error("Failed to claim job")
		return
	}
	if !claimed {
		log.WithField("status", job.Status).Debug("Job not claimable, skipping")
		return
	}

	notifier := notify.NewNotifier(p.provider, job.Owner, p.cfg.Notify, log)

	if err := p.run(ctx, job, notifier); err != nil {
		if errors.Is(err, storage.ErrStaleAttempt) {
			// A recovery pass reclassified this execution as orphaned;
			// its results belong to a dead attempt and are discarded.
			log.Info("Execution superseded by a newer attempt, discarding result")
			return
		}
		p.fail(ctx, job, notifier, err)
	}
}

func (p *Pipeline) run(ctx context.Context, job *models.Job, notifier *notify.Notifier) error {
	log := p.log.WithField("job_id", job.ID)

	notifier.Send(ctx, "⬇️ Downloading audio...", true)

	inputPath, cleanupInput, err := p.download(ctx, job)
	if err != nil {
		return &DownloadError{Err: err}
	}
	defer cleanupInput()

	info, err := p.processor.Normalize(ctx, inputPath)
	if err != nil {
		return &ConversionError{Err: err}
	}
	defer os.Remove(info.Path)

	job.AudioSizeBytes = info.SizeBytes
	estimate := notify.Estimate(info.SizeBytes, info.Duration, p.cfg.Audio.ChunkDuration)

	spans, err := audio.PlanChunks(info.Duration, p.cfg.Audio.ChunkDuration)
	if err != nil {
		return &ConversionError{Err: err}
	}

	notifier.Send(ctx, fmt.Sprintf("🔄 Splitting audio (%.1f MB, ~%d chunk(s), est. %.0f min total)",
		float64(info.SizeBytes)/(1024*1024), len(spans), estimate.Total.Minutes()), true)

	chunks, err := p.processor.Split(ctx, info.Path, spans)
	if err != nil {
		return &ConversionError{Err: err}
	}

	// chunks_total is set exactly once per attempt, before transcription.
	job.ChunksTotal = len(chunks)
	job.ChunksProcessed = 0
	if err := p.jobs.Update(ctx, job); err != nil {
		return err
	}

	job.Status = models.JobStatusTranscribing
	if err := p.jobs.Update(ctx, job); err != nil {
		return err
	}

	transcript, err := p.transcribeChunks(ctx, job, chunks, estimate, notifier)
	if err != nil {
		return err
	}
	job.Transcript = transcript

	job.Status = models.JobStatusAnalyzing
	if err := p.jobs.Update(ctx, job); err != nil {
		return err
	}

	notifier.Send(ctx, "🧠 Generating analysis...", true)
	report, err := p.analyzer.Analyze(ctx, transcript, analysis.DefaultPrompt)
	if err != nil {
		// Analysis failure is non-fatal: the transcript is still worth
		// delivering, the job completes with an absent analysis.
		log.WithError(err).Warn("Analysis failed, continuing without it")
	} else {
		job.Analysis = report
	}

	if err := p.deliverDocuments(ctx, job, notifier); err != nil {
		return &DocumentError{Err: err}
	}

	job.MarkCompleted(time.Now().UTC())
	if err := p.jobs.Update(ctx, job); err != nil {
		return err
	}

	docCount := 1
	if job.Analysis != "" {
		docCount = 2
	}
	notifier.Send(ctx, fmt.Sprintf("🎉 Processing complete (job %s)\n📝 Timestamped transcript\n📄 %d document(s) delivered",
		shortID(job.ID), docCount), true)

	log.WithFields(logrus.Fields{
		"chunks":           job.ChunksTotal,
		"transcript_chars": len(job.Transcript),
		"has_analysis":     job.Analysis != "",
	}).Info("Job completed")

	return nil
}

// download fetches the job's source media to a local file. YouTube URLs go
// through the resolver; everything else is a platform media reference.
func (p *Pipeline) download(ctx context.Context, job *models.Job) (string, func(), error) {
	if media.IsYouTubeRef(job.AudioRef) {
		path, err := p.youtube.DownloadAudio(ctx, job.AudioRef, os.TempDir())
		if err != nil {
			return "", nil, err
		}
		return path, func() { os.Remove(path) }, nil
	}

	data, err := p.provider.DownloadMedia(ctx, job.AudioRef)
	if err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, errors.New("downloaded media is empty")
	}

	tmp, err := os.CreateTemp("", "scriba_source_*.audio")
	if err != nil {
		return "", nil, err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	tmp.Close()
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func (p *Pipeline) transcribeChunks(ctx context.Context, job *models.Job, chunks []audio.Chunk, estimate notify.Breakdown, notifier *notify.Notifier) (string, error) {
	var transcript string
	var progressErr error

	onChunk := func(chunkNum int) {
		job.ChunksProcessed = chunkNum
		if err := p.jobs.Update(ctx, job); err != nil && progressErr == nil {
			progressErr = err
		}
		notifier.Send(ctx, fmt.Sprintf("🎙️ Transcribing chunk %d/%d", chunkNum, job.ChunksTotal), false)
	}

	err := notifier.RunWithHeartbeat(ctx, "Transcription", estimate.Transcription, func(ctx context.Context) error {
		var err error
		transcript, err = p.transcribe.TranscribeChunks(ctx, chunks, onChunk)
		return err
	})
	if progressErr != nil && errors.Is(progressErr, storage.ErrStaleAttempt) {
		return "", progressErr
	}
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	return transcript, nil
}

func (p *Pipeline) deliverDocuments(ctx context.Context, job *models.Job, notifier *notify.Notifier) error {
	notifier.Send(ctx, "📄 Preparing documents...", true)

	transcriptPath, analysisPath, err := p.documents.Render(job.Transcript, job.Analysis, job.ID)
	if err != nil {
		return err
	}
	defer func() {
		os.Remove(transcriptPath)
		if analysisPath != "" {
			os.Remove(analysisPath)
		}
	}()

	if err := p.provider.SendDocument(ctx, job.Owner, transcriptPath,
		fmt.Sprintf("📝 Transcript (job %s)", shortID(job.ID)),
		fmt.Sprintf("transcript_%s.md", shortID(job.ID)),
	); err != nil {
		return fmt.Errorf("failed to send transcript: %w", err)
	}

	if job.Analysis != "" && analysisPath != "" {
		if err := p.provider.SendDocument(ctx, job.Owner, analysisPath,
			fmt.Sprintf("📊 Analysis (job %s)", shortID(job.ID)),
			fmt.Sprintf("analysis_%s.md", shortID(job.ID)),
		); err != nil {
			return fmt.Errorf("failed to send analysis: %w", err)
		}
	}

	return nil
}

// fail marks the job failed and tells the owner exactly once. Retrying is the
// recovery scheduler's job, never the pipeline's.
func (p *Pipeline) fail(ctx context.Context, job *models.Job, notifier *notify.Notifier, cause error) {
	log := p.log.WithField("job_id", job.ID)
	log.WithError(cause).Error("Job failed")

	job.MarkFailed(cause.Error(), time.Now().UTC())
	if err := p.jobs.Update(ctx, job); err != nil {
		if errors.Is(err, storage.ErrStaleAttempt) {
			log.Info("Failure superseded by a newer attempt, not recorded")
			return
		}
		log.WithError(err).Error("Failed to persist job failure")
	}

	notifier.Send(ctx, fmt.Sprintf("❌ Processing failed: %v", cause), true)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
