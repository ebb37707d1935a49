package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"northpole/internal/models"
)

func newTestRepo(t *testing.T, opts ...Option) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func enqueueTestJob(t *testing.T, repo *SQLiteRepository, taskType string, priority int) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:       uuid.New().String(),
		TaskType: taskType,
		Priority: priority,
	}
	require.NoError(t, repo.EnqueueJob(context.Background(), job))
	return job
}

func TestClaimNextJobEmpty(t *testing.T) {
	repo := newTestRepo(t)
	job, err := repo.ClaimNextJob(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimNextJobMarksProcessing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	enqueued := enqueueTestJob(t, repo, "fetch_emails", 0)

	job, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, enqueued.ID, job.ID)
	assert.Equal(t, models.JobProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.NotNil(t, job.StartedAt)
	require.NotNil(t, job.LeaseExpiresAt)
	assert.True(t, job.LeaseExpiresAt.After(time.Now()))

	// The claimed job is no longer eligible.
	second, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestClaimOrderPriorityThenFIFO(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := enqueueTestJob(t, repo, "a", 1)
	second := enqueueTestJob(t, repo, "b", 5)
	third := enqueueTestJob(t, repo, "c", 1)
	fourth := enqueueTestJob(t, repo, "d", 5)

	var order []string
	for {
		job, err := repo.ClaimNextJob(ctx, time.Minute)
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.ID)
	}

	// High priority first, insertion order within a priority band.
	assert.Equal(t, []string{second.ID, fourth.ID, first.ID, third.ID}, order)
}

func TestClaimMutualExclusion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	const jobCount = 20
	for i := 0; i < jobCount; i++ {
		enqueueTestJob(t, repo, fmt.Sprintf("task-%d", i), 0)
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := repo.ClaimNextJob(ctx, time.Minute)
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobCount)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestScheduledForGatesClaim(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	future := &models.Job{
		ID:           uuid.New().String(),
		TaskType:     "later",
		ScheduledFor: time.Now().Add(time.Hour),
	}
	require.NoError(t, repo.EnqueueJob(ctx, future))

	job, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)

	due := &models.Job{
		ID:           uuid.New().String(),
		TaskType:     "now",
		ScheduledFor: time.Now().Add(-time.Second),
	}
	require.NoError(t, repo.EnqueueJob(ctx, due))

	job, err = repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, due.ID, job.ID)
}

func TestLeaseExpiryReclaim(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	enqueueTestJob(t, repo, "crashy", 0)

	// Claim with an already-expired lease to simulate a worker that died
	// mid-job.
	job, err := repo.ClaimNextJob(ctx, -time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)

	reclaimed, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, job.ID, reclaimed.ID)
	assert.Equal(t, 2, reclaimed.Attempts)
}

func TestCompleteJobSuccess(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	enqueueTestJob(t, repo, "ok", 0)
	job, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, repo.CompleteJob(ctx, job, true, ""))

	stored, err := repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.JobCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.LeaseExpiresAt)
}

func TestCompleteJobFailureRequeuesWithBackoff(t *testing.T) {
	backoff := 42 * time.Second
	repo := newTestRepo(t, WithRetryBackoff(func(int) time.Duration { return backoff }))
	ctx := context.Background()

	enqueueTestJob(t, repo, "flaky", 0)
	job, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, repo.CompleteJob(ctx, job, false, "boom"))

	stored, err := repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.JobPending, stored.Status)
	assert.Equal(t, "boom", stored.ErrorMessage)
	assert.Nil(t, stored.LeaseExpiresAt)

	// scheduled_for is pushed into the future, so the job is not
	// immediately reclaimable.
	assert.True(t, stored.ScheduledFor.After(time.Now().Add(backoff/2)))
	next, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestRetryExhaustion(t *testing.T) {
	repo := newTestRepo(t, WithRetryBackoff(func(int) time.Duration { return 0 }))
	ctx := context.Background()

	enqueueTestJob(t, repo, "doomed", 0)

	for i := 1; i <= models.DefaultMaxAttempts; i++ {
		job, err := repo.ClaimNextJob(ctx, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d should be claimable", i)
		assert.Equal(t, i, job.Attempts)
		require.NoError(t, repo.CompleteJob(ctx, job, false, "still broken"))
	}

	jobs, err := repo.ListJobsByStatus(ctx, models.JobFailed)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.DefaultMaxAttempts, jobs[0].Attempts)
	assert.Equal(t, "still broken", jobs[0].ErrorMessage)

	// Exhausted jobs are never handed out again.
	job, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestFailJobTerminal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	enqueueTestJob(t, repo, "unknown_thing", 0)
	job, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, repo.FailJobTerminal(ctx, job, "unknown task type: unknown_thing"))

	stored, err := repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.JobFailed, stored.Status)
	assert.Equal(t, stored.MaxAttempts, stored.Attempts)

	next, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestHasActiveJob(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	active, err := repo.HasActiveJob(ctx, "fetch_emails")
	require.NoError(t, err)
	assert.False(t, active)

	enqueueTestJob(t, repo, "fetch_emails", 1)
	active, err = repo.HasActiveJob(ctx, "fetch_emails")
	require.NoError(t, err)
	assert.True(t, active)

	job, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	active, err = repo.HasActiveJob(ctx, "fetch_emails")
	require.NoError(t, err)
	assert.True(t, active, "processing still counts as active")

	require.NoError(t, repo.CompleteJob(ctx, job, true, ""))
	active, err = repo.HasActiveJob(ctx, "fetch_emails")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestGetJobByIDMissing(t *testing.T) {
	repo := newTestRepo(t)
	job, err := repo.GetJobByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestEnqueuePreservesPayload(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := &models.Job{
		ID:       uuid.New().String(),
		TaskType: "process_letter",
		Payload:  map[string]any{"letter_id": "abc-123"},
	}
	require.NoError(t, repo.EnqueueJob(ctx, job))

	claimed, err := repo.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "abc-123", claimed.PayloadString("letter_id"))
}
