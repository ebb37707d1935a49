package service

import (
	"context"
	"time"

	"northpole/internal/logger"
	"northpole/internal/models"
	"northpole/internal/repository"
	"northpole/internal/tasks"
)

// SchedulerService periodically enqueues the inbox fetch. At most one
// fetch job is in flight at a time: if the previous one is still pending
// or processing, the tick is skipped instead of stacking another.
type SchedulerService struct {
	jobs     repository.JobRepository
	enqueuer tasks.Enqueuer
	log      *logger.Logger
	interval time.Duration
}

func NewSchedulerService(jobs repository.JobRepository, enqueuer tasks.Enqueuer, log *logger.Logger, interval time.Duration) *SchedulerService {
	return &SchedulerService{jobs: jobs, enqueuer: enqueuer, log: log, interval: interval}
}

// Run enqueues one fetch immediately and then on every interval tick
// until ctx is canceled.
func (s *SchedulerService) Run(ctx context.Context) error {
	s.log.Info("scheduler started", "fetch_interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick enqueues a fetch job unless one is already active.
func (s *SchedulerService) Tick(ctx context.Context) {
	active, err := s.jobs.HasActiveJob(ctx, models.TaskFetchEmails)
	if err != nil {
		s.log.Error("failed to check for active fetch job", "error", err)
		return
	}
	if active {
		s.log.Debug("fetch job already active, skipping tick")
		return
	}
	if _, err := s.enqueuer.Enqueue(ctx, models.TaskFetchEmails, nil, models.PriorityFetch); err != nil {
		s.log.Error("failed to enqueue fetch job", "error", err)
	}
}
