package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"northpole/internal/logger"
	"northpole/internal/metrics"
	"northpole/internal/models"
	"northpole/internal/repository"
	"northpole/internal/service"
)

// Handler is the read-only ops surface: queue introspection, the sent
// email audit trail, metrics and health. Nothing here mutates state; all
// writes go through the queue.
type Handler struct {
	jobs     *service.JobService
	entities repository.EntityRepository
	metrics  *metrics.Collector
	log      *logger.Logger
}

func New(jobs *service.JobService, entities repository.EntityRepository, m *metrics.Collector, log *logger.Logger) *Handler {
	return &Handler{jobs: jobs, entities: entities, metrics: m, log: log}
}

// Routes assembles the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	r.Get("/jobs", h.listJobs)
	r.Get("/jobs/{id}", h.getJob)
	r.Get("/sent-emails", h.listSentEmails)
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.JobPending
	}
	switch status {
	case models.JobPending, models.JobProcessing, models.JobCompleted, models.JobFailed:
	default:
		h.respondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	jobs, err := h.jobs.ListByStatus(r.Context(), status)
	if err != nil {
		h.log.Error("failed to list jobs", "status", status, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	h.respond(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		h.log.Error("failed to get job", "job_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respond(w, http.StatusOK, job)
}

func (h *Handler) listSentEmails(w http.ResponseWriter, r *http.Request) {
	emailType := r.URL.Query().Get("type")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	emails, err := h.entities.ListSentEmails(r.Context(), emailType, limit)
	if err != nil {
		h.log.Error("failed to list sent emails", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list sent emails")
		return
	}
	if emails == nil {
		emails = []*models.SentEmail{}
	}
	h.respond(w, http.StatusOK, map[string]any{"sent_emails": emails})
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respond(w, status, map[string]string{"error": msg})
}
