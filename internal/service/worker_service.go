package service

import (
	"context"
	"fmt"
	"time"

	"northpole/internal/logger"
	"northpole/internal/metrics"
	"northpole/internal/models"
	"northpole/internal/repository"
	"northpole/internal/tasks"
)

// WorkerService claims jobs from the queue and dispatches them to
// registered handlers. One call to Run is one worker; multiple workers may
// poll the same queue because the claim itself is atomic.
type WorkerService struct {
	jobs     repository.JobRepository
	registry *tasks.Registry
	deps     *tasks.Deps
	metrics  *metrics.Collector
	log      *logger.Logger

	pollInterval  time.Duration
	leaseDuration time.Duration
}

func NewWorkerService(
	jobs repository.JobRepository,
	registry *tasks.Registry,
	deps *tasks.Deps,
	m *metrics.Collector,
	log *logger.Logger,
	pollInterval, leaseDuration time.Duration,
) *WorkerService {
	return &WorkerService{
		jobs:          jobs,
		registry:      registry,
		deps:          deps,
		metrics:       m,
		log:           log,
		pollInterval:  pollInterval,
		leaseDuration: leaseDuration,
	}
}

// Run polls the queue until ctx is canceled. The queue is drained each
// tick: claiming continues until no eligible job remains, then the worker
// sleeps one poll interval.
func (w *WorkerService) Run(ctx context.Context) error {
	w.log.Info("worker started", "poll_interval", w.pollInterval)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if err := w.drain(ctx); err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker stopping")
				return nil
			}
			w.log.Error("queue drain failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerService) drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := w.jobs.ClaimNextJob(ctx, w.leaseDuration)
		if err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}
		if job == nil {
			return nil
		}
		w.execute(ctx, job)
	}
}

// execute runs one claimed job through its handler and records the
// outcome. Handler panics are contained: a panicking job fails its
// attempt, the worker keeps running. A claimed job is shielded from
// shutdown: cancellation stops further claiming, but the in-flight
// handler and its completion write run on a detached context so the
// attempt is never abandoned half-recorded.
func (w *WorkerService) execute(ctx context.Context, job *models.Job) {
	ctx = context.WithoutCancel(ctx)
	log := w.log.With("job_id", job.ID, "task_type", job.TaskType, "attempt", job.Attempts)

	handler, ok := w.registry.Resolve(job.TaskType)
	if !ok {
		// No retry can ever make an unknown type succeed.
		log.Error("unknown task type, failing terminally")
		if err := w.jobs.FailJobTerminal(ctx, job, fmt.Sprintf("unknown task type: %s", job.TaskType)); err != nil {
			log.Error("failed to fail job", "error", err)
		}
		w.metrics.RecordFailed(job.TaskType)
		return
	}

	w.metrics.RecordDispatch(job.TaskType)
	started := time.Now()
	err := w.runHandler(ctx, handler, job)
	elapsed := time.Since(started)

	if err == nil {
		if cErr := w.jobs.CompleteJob(ctx, job, true, ""); cErr != nil {
			log.Error("failed to complete job", "error", cErr)
			return
		}
		w.metrics.RecordCompleted(job.TaskType, elapsed.Seconds())
		log.Info("job completed", "duration", elapsed)
		return
	}

	log.Warn("job attempt failed", "error", err)
	if cErr := w.jobs.CompleteJob(ctx, job, false, err.Error()); cErr != nil {
		log.Error("failed to record job failure", "error", cErr)
		return
	}
	if job.Attempts >= job.MaxAttempts {
		w.metrics.RecordFailed(job.TaskType)
		log.Error("job failed terminally", "attempts", job.Attempts)
	} else {
		w.metrics.RecordRetry(job.TaskType)
	}
}

func (w *WorkerService) runHandler(ctx context.Context, handler tasks.HandlerFunc, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, w.deps, job)
}
