package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"northpole/internal/logger"
	"northpole/internal/metrics"
	"northpole/internal/models"
	"northpole/internal/repository"
)

// JobService creates jobs in the durable queue. It is the single
// implementation of tasks.Enqueuer, so handlers, the scheduler and the
// ops API all enqueue through the same path.
type JobService struct {
	jobs        repository.JobRepository
	metrics     *metrics.Collector
	log         *logger.Logger
	maxAttempts int
}

func NewJobService(jobs repository.JobRepository, m *metrics.Collector, log *logger.Logger, maxAttempts int) *JobService {
	if maxAttempts < 1 {
		maxAttempts = models.DefaultMaxAttempts
	}
	return &JobService{jobs: jobs, metrics: m, log: log, maxAttempts: maxAttempts}
}

// Enqueue inserts a new pending job.
func (s *JobService) Enqueue(ctx context.Context, taskType string, payload map[string]any, priority int) (*models.Job, error) {
	job := &models.Job{
		ID:          uuid.New().String(),
		TaskType:    taskType,
		Payload:     payload,
		Status:      models.JobPending,
		Priority:    priority,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.jobs.EnqueueJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", taskType, err)
	}
	s.metrics.RecordEnqueue(taskType)
	s.log.Debug("job enqueued", "job_id", job.ID, "task_type", taskType, "priority", priority)
	return job, nil
}

func (s *JobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.jobs.GetJobByID(ctx, id)
}

func (s *JobService) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	return s.jobs.ListJobsByStatus(ctx, status)
}
