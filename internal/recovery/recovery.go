package recovery

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"scriba/internal/config"
	"scriba/internal/messaging"
	"scriba/internal/models"
	"scriba/internal/pipeline"
	"scriba/internal/storage"
)

// Submitter nudges the worker after a job is reset to pending.
type Submitter interface {
	Submit(jobID string)
}

// Scheduler sweeps the job store for work no running execution owns anymore:
// jobs stuck in an active stage past the orphan threshold, failed jobs whose
// retry backoff has elapsed, and permanently failed jobs whose owner was
// never told. Every mutation goes through BumpAttempt, so results still
// arriving from the superseded execution update nothing.
type Scheduler struct {
	jobs     *storage.JobRepository
	provider messaging.Provider
	worker   Submitter
	cfg      config.RecoveryConfig
	log      *logrus.Entry
	now      func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(jobs *storage.JobRepository, provider messaging.Provider, worker Submitter, cfg config.RecoveryConfig, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		provider: provider,
		worker:   worker,
		cfg:      cfg,
		log:      log.WithField("component", "recovery"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes recovery passes at the configured interval until ctx is
// cancelled. The first pass is delayed by a small jitter so several replicas
// restarted together do not sweep in lockstep.
func (s *Scheduler) Run(ctx context.Context) error {
	jitter := time.Duration(rand.Int63n(int64(30 * time.Second)))
	s.log.WithField("interval", s.cfg.Interval).Info("Recovery scheduler started")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.WithError(err).Error("Recovery pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single full recovery pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now()

	if err := s.reclaimOrphans(ctx, now); err != nil {
		return fmt.Errorf("orphan scan: %w", err)
	}
	if err := s.requeueFailed(ctx, now); err != nil {
		return fmt.Errorf("retry scan: %w", err)
	}
	if err := s.notifyPermanent(ctx); err != nil {
		return fmt.Errorf("permanent-failure scan: %w", err)
	}
	if err := s.cleanup(ctx, now); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

// reclaimOrphans marks jobs stuck in an active stage past the orphan
// threshold as failed. The crashed execution consumed an attempt, so
// retry_count advances here too, clamped at the cap.
func (s *Scheduler) reclaimOrphans(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.cfg.OrphanThreshold)
	orphans, err := s.jobs.FindOrphaned(ctx, cutoff)
	if err != nil {
		return err
	}

	for i := range orphans {
		job := &orphans[i]
		log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "stuck_in": job.Status})

		job.Error = fmt.Sprintf("%s: stuck in %s since %s",
			pipeline.ErrOrphanTimeout, job.Status, job.StartedAt.Format(time.RFC3339))
		job.Status = models.JobStatusFailed
		if job.RetryCount < s.cfg.MaxRetries {
			job.RetryCount++
		}
		job.LastRetryAt = &now
		job.StartedAt = nil
		job.CompletedAt = &now

		if err := s.jobs.BumpAttempt(ctx, job); err != nil {
			log.WithError(err).Warn("Failed to reclaim orphaned job")
			continue
		}
		log.WithField("retry_count", job.RetryCount).Info("Reclaimed orphaned job")

		if job.RetryCount < s.cfg.MaxRetries {
			s.sendText(ctx, job, "⚠️ Processing was interrupted. Your recording is queued for another try.")
		}
	}
	return nil
}

// requeueFailed resets failed jobs whose backoff has elapsed back to pending
// and wakes the worker.
func (s *Scheduler) requeueFailed(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.cfg.RetryBackoff)
	candidates, err := s.jobs.FindRetryCandidates(ctx, s.cfg.MaxRetries, cutoff)
	if err != nil {
		return err
	}

	for i := range candidates {
		job := &candidates[i]
		log := s.log.WithField("job_id", job.ID)

		job.Status = models.JobStatusPending
		job.RetryCount++
		job.LastRetryAt = &now
		job.Error = ""
		job.StartedAt = nil
		job.CompletedAt = nil

		if err := s.jobs.BumpAttempt(ctx, job); err != nil {
			log.WithError(err).Warn("Failed to requeue job for retry")
			continue
		}
		log.WithFields(logrus.Fields{
			"retry_count": job.RetryCount,
			"max_retries": s.cfg.MaxRetries,
		}).Info("Requeued failed job")

		s.sendText(ctx, job, fmt.Sprintf("🔄 Retrying your recording (attempt %d of %d).",
			job.RetryCount, s.cfg.MaxRetries))

		if s.worker != nil {
			s.worker.Submit(job.ID)
		}
	}
	return nil
}

// notifyPermanent tells owners about jobs that exhausted their retries,
// exactly once per job.
func (s *Scheduler) notifyPermanent(ctx context.Context) error {
	jobs, err := s.jobs.FindUnnotifiedPermanent(ctx, s.cfg.MaxRetries)
	if err != nil {
		return err
	}

	for i := range jobs {
		job := &jobs[i]
		log := s.log.WithField("job_id", job.ID)

		s.sendText(ctx, job, fmt.Sprintf(
			"❌ Processing failed after %d attempts and will not be retried (%s).\nLast error: %s",
			job.RetryCount, pipeline.ErrRetryExhausted, job.Error))

		if err := s.jobs.MarkPermanentNotified(ctx, job.ID); err != nil {
			log.WithError(err).Warn("Failed to mark permanent failure as notified")
			continue
		}
		log.Info("Sent permanent-failure notification")
	}
	return nil
}

func (s *Scheduler) cleanup(ctx context.Context, now time.Time) error {
	if s.cfg.CleanupAge <= 0 {
		return nil
	}
	removed, err := s.jobs.CleanupTerminal(ctx, now.Add(-s.cfg.CleanupAge))
	if err != nil {
		return err
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("Cleaned up old terminal jobs")
	}
	return nil
}

// sendText delivers a recovery notice on a best-effort basis. Notices ride on
// the owner's original platform and never block the pass.
func (s *Scheduler) sendText(ctx context.Context, job *models.Job, text string) {
	if s.provider == nil {
		return
	}
	if err := s.provider.SendText(ctx, job.Owner, text); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Warn("Failed to send recovery notice")
	}
}
