package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"northpole/internal/logger"
	"northpole/internal/metrics"
	"northpole/internal/models"
	"northpole/internal/repository"
	"northpole/internal/service"
)

type apiEnv struct {
	repo   *repository.SQLiteRepository
	jobs   *service.JobService
	server http.Handler
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	log := logger.NewNop()
	collector := metrics.NewCollector()
	jobs := service.NewJobService(repo, collector, log, models.DefaultMaxAttempts)
	return &apiEnv{
		repo:   repo,
		jobs:   jobs,
		server: New(jobs, repo, collector, log).Routes(),
	}
}

func (env *apiEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListJobs(t *testing.T) {
	env := newAPIEnv(t)
	job, err := env.jobs.Enqueue(context.Background(), "fetch_emails", nil, 1)
	require.NoError(t, err)

	rec := env.get(t, "/jobs?status=pending")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs []*models.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, job.ID, body.Jobs[0].ID)

	rec = env.get(t, "/jobs?status=failed")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Jobs)
}

func TestListJobsRejectsInvalidStatus(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.get(t, "/jobs?status=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	env := newAPIEnv(t)
	job, err := env.jobs.Enqueue(context.Background(), "process_letter",
		map[string]any{"letter_id": "L1"}, 5)
	require.NoError(t, err)

	rec := env.get(t, "/jobs/"+job.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "L1", got.PayloadString("letter_id"))

	rec = env.get(t, "/jobs/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSentEmails(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	require.NoError(t, env.repo.CreateSentEmail(ctx, &models.SentEmail{
		ChildID:        "c1",
		EmailType:      models.EmailTypeLetterReply,
		Subject:        "Ho ho ho",
		BodyText:       "Hello!",
		DeliveryStatus: models.DeliverySent,
	}))

	rec := env.get(t, "/sent-emails?type=letter_reply")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		SentEmails []*models.SentEmail `json:"sent_emails"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.SentEmails, 1)
	assert.Equal(t, "Ho ho ho", body.SentEmails[0].Subject)

	rec = env.get(t, "/sent-emails?limit=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	_, err := env.jobs.Enqueue(context.Background(), "fetch_emails", nil, 1)
	require.NoError(t, err)

	rec := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`northpole_jobs_enqueued_total{task_type="fetch_emails"} 1`)
}
