package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"scriba/internal/storage"
)

// Runner executes the full pipeline for one job.
type Runner interface {
	Process(ctx context.Context, jobID string)
}

// Worker drives pending jobs through the pipeline. Submitted jobs run
// promptly via a wake channel; a timer poll picks up everything else,
// including jobs created before a restart and jobs the recovery scheduler
// reset to pending. Each job runs in its own goroutine.
type Worker struct {
	jobs     *storage.JobRepository
	runner   Runner
	interval time.Duration
	log      *logrus.Entry

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a new worker polling at the given interval.
func New(jobs *storage.JobRepository, runner Runner, interval time.Duration, log *logrus.Entry) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		jobs:     jobs,
		runner:   runner,
		interval: interval,
		log:      log.WithField("component", "worker"),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		inflight: make(map[string]struct{}),
	}
}

// Submit nudges the worker to look for pending jobs now. It never blocks;
// the polling loop is the fallback path.
func (w *Worker) Submit(jobID string) {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start begins the dispatch loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	w.log.Info("Worker started")
}

// Stop waits for the dispatch loop and all in-flight jobs to finish.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
	w.log.Info("Worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-w.wake:
			w.dispatch(ctx)
		case <-ticker.C:
			w.dispatch(ctx)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context) {
	pending, err := w.jobs.FindPending(ctx, 10)
	if err != nil {
		w.log.WithError(err).Error("Failed to query pending jobs")
		return
	}

	for _, job := range pending {
		jobID := job.ID

		w.mu.Lock()
		if _, running := w.inflight[jobID]; running {
			w.mu.Unlock()
			continue
		}
		w.inflight[jobID] = struct{}{}
		w.mu.Unlock()

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() {
				w.mu.Lock()
				delete(w.inflight, jobID)
				w.mu.Unlock()
			}()

			w.log.WithField("job_id", jobID).Info("Processing job")
			w.runner.Process(ctx, jobID)
		}()
	}
}
