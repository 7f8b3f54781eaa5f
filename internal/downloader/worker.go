package downloader

import (
	"context"
	"log/slog"
)

// worker processes one job at a time
type worker struct {
	id         int
	manager    *Manager
	logger     *slog.Logger
	currentJob string
}

// newWorker creates a new worker
func newWorker(id int, manager *Manager) *worker {
	return &worker{
		id:      id,
		manager: manager,
		logger:  manager.logger.With("worker_id", id),
	}
}

// run claims queued jobs until ctx is cancelled
func (w *worker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if w.manager.retired(w.id) {
			w.logger.Debug("worker retired")
			// Hand on a wake-up this worker may have consumed
			w.manager.signal()
			return
		}

		job, jobCtx, err := w.manager.claimNext(ctx, w.id)
		if err != nil {
			w.logger.Error("failed to claim job", "error", err)
		}
		if job != nil {
			// Another queued job may be waiting for an idle worker
			w.manager.signal()
			w.processJob(ctx, jobCtx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.manager.wake:
		}
	}
}

// processJob runs the pipeline for job. A job interrupted by Stop goes back
// to the queue instead of staying cancelled.
func (w *worker) processJob(poolCtx, jobCtx context.Context, job *Job) {
	w.currentJob = job.ID
	defer func() {
		w.manager.release(job.ID)
		w.currentJob = ""
	}()

	w.logger.Info("starting job", "job_id", job.ID, "name", job.Name)

	_, err := w.manager.processor.Process(jobCtx, job)
	if err != nil && poolCtx.Err() != nil {
		job.Status = StatusQueued
		job.Error = ""
		job.Progress = 0
		job.SegmentsDone = 0
		job.BytesDownloaded = 0
		job.StartedAt = nil
		job.CompletedAt = nil
		_ = w.manager.updateJobInDB(*job)
		w.logger.Info("job interrupted, requeued", "job_id", job.ID)
		return
	}

	// A *Pipeline reports its own status changes through the manager
	if _, ok := w.manager.processor.(*Pipeline); ok {
		return
	}

	switch {
	case err == nil:
		job.Status = StatusCompleted
		job.Progress = 100
		if err := w.manager.updateJobInDB(*job); err != nil {
			return
		}
		w.manager.triggerCompleteCallback(*job)
	case jobCtx.Err() != nil:
		job.Status = StatusCancelled
		job.Error = err.Error()
		_ = w.manager.updateJobInDB(*job)
		w.manager.triggerErrorCallback(*job, err)
	default:
		job.Status = StatusFailed
		job.Error = err.Error()
		_ = w.manager.updateJobInDB(*job)
		w.manager.triggerErrorCallback(*job, err)
	}
}
