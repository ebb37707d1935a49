package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"northpole/internal/logger"
	"northpole/internal/metrics"
	"northpole/internal/models"
	"northpole/internal/repository"
	"northpole/internal/tasks"
)

type workerEnv struct {
	repo     *repository.SQLiteRepository
	jobs     *JobService
	registry *tasks.Registry
	worker   *WorkerService
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(
		filepath.Join(t.TempDir(), "test.db"),
		repository.WithRetryBackoff(func(int) time.Duration { return 0 }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	log := logger.NewNop()
	collector := metrics.NewCollector()
	registry := tasks.NewRegistry()
	deps := &tasks.Deps{Log: log, Metrics: collector}

	return &workerEnv{
		repo:     repo,
		jobs:     NewJobService(repo, collector, log, models.DefaultMaxAttempts),
		registry: registry,
		worker: NewWorkerService(repo, registry, deps, collector, log,
			10*time.Millisecond, time.Minute),
	}
}

func TestWorkerExecutesJob(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	var got []string
	env.registry.Register("greet", func(ctx context.Context, deps *tasks.Deps, job *models.Job) error {
		got = append(got, job.PayloadString("name"))
		return nil
	})

	job, err := env.jobs.Enqueue(ctx, "greet", map[string]any{"name": "Emma"}, 0)
	require.NoError(t, err)

	require.NoError(t, env.worker.drain(ctx))

	assert.Equal(t, []string{"Emma"}, got)
	stored, err := env.repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, stored.Status)
}

func TestWorkerRetriesUntilExhaustion(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	calls := 0
	env.registry.Register("flaky", func(ctx context.Context, deps *tasks.Deps, job *models.Job) error {
		calls++
		return assert.AnError
	})

	job, err := env.jobs.Enqueue(ctx, "flaky", nil, 0)
	require.NoError(t, err)

	// Zero backoff means one drain pass burns through every attempt.
	require.NoError(t, env.worker.drain(ctx))

	assert.Equal(t, models.DefaultMaxAttempts, calls)
	stored, err := env.repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
}

func TestWorkerFailsUnknownTaskTypeTerminally(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	job, err := env.jobs.Enqueue(ctx, "launch_sleigh", nil, 0)
	require.NoError(t, err)

	require.NoError(t, env.worker.drain(ctx))

	stored, err := env.repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)
	assert.Equal(t, stored.MaxAttempts, stored.Attempts, "no attempts left for retries")
	assert.Contains(t, stored.ErrorMessage, "unknown task type")
}

func TestWorkerContainsHandlerPanic(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	env.registry.Register("kaboom", func(ctx context.Context, deps *tasks.Deps, job *models.Job) error {
		panic("reindeer escaped")
	})

	job, err := env.jobs.Enqueue(ctx, "kaboom", nil, 0)
	require.NoError(t, err)

	require.NoError(t, env.worker.drain(ctx))

	stored, err := env.repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "panicked")
	assert.Contains(t, stored.ErrorMessage, "reindeer escaped")
}

func TestWorkerFinishesInFlightJobOnShutdown(t *testing.T) {
	env := newWorkerEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Termination arrives while the handler is running. The handler must
	// see a live context and its completion must still be recorded.
	env.registry.Register("slow", func(hCtx context.Context, deps *tasks.Deps, job *models.Job) error {
		cancel()
		return hCtx.Err()
	})

	first, err := env.jobs.Enqueue(ctx, "slow", nil, 0)
	require.NoError(t, err)
	second, err := env.jobs.Enqueue(ctx, "slow", nil, 0)
	require.NoError(t, err)

	err = env.worker.drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The in-flight job finished and was recorded as completed, not left
	// stuck in processing for lease reclaim.
	stored, err := env.repo.GetJobByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	// Cancellation only stops claiming: the next job stays untouched.
	stored, err = env.repo.GetJobByID(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	env := newWorkerEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.worker.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestJobServiceAppliesDefaults(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	job, err := env.jobs.Enqueue(ctx, "greet", nil, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, models.DefaultMaxAttempts, job.MaxAttempts)

	pending, err := env.jobs.ListByStatus(ctx, models.JobPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)
}
