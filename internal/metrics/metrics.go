package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus instruments for the queue and pipeline.
// It carries its own registry so independent instances (one per process,
// many per test binary) never collide.
type Collector struct {
	registry *prometheus.Registry

	jobsEnqueued   *prometheus.CounterVec
	jobsDispatched *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	jobsFailed     *prometheus.CounterVec
	jobsRetried    *prometheus.CounterVec
	jobLatency     prometheus.Histogram

	lettersCreated  prometheus.Counter
	emailsSent      *prometheus.CounterVec
	emailsBlocked   *prometheus.CounterVec
	moderationFlags prometheus.Counter
}

// NewCollector creates and registers all instruments.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.jobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "northpole_jobs_enqueued_total",
		Help: "Total number of jobs enqueued",
	}, []string{"task_type"})
	c.jobsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "northpole_jobs_dispatched_total",
		Help: "Total number of jobs claimed and dispatched to a handler",
	}, []string{"task_type"})
	c.jobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "northpole_jobs_completed_total",
		Help: "Total number of jobs completed successfully",
	}, []string{"task_type"})
	c.jobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "northpole_jobs_failed_total",
		Help: "Total number of jobs that reached terminal failure",
	}, []string{"task_type"})
	c.jobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "northpole_jobs_retried_total",
		Help: "Total number of job attempts that failed and were requeued",
	}, []string{"task_type"})
	c.jobLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "northpole_job_duration_seconds",
		Help:    "Handler execution time in seconds",
		Buckets: prometheus.DefBuckets,
	})

	c.lettersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "northpole_letters_created_total",
		Help: "Total number of inbound letters matched to a child",
	})
	c.emailsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "northpole_emails_sent_total",
		Help: "Total number of emails dispatched through the mail transport",
	}, []string{"email_type"})
	c.emailsBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "northpole_emails_blocked_total",
		Help: "Total number of emails blocked by the safety gate",
	}, []string{"email_type"})
	c.moderationFlags = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "northpole_moderation_flags_total",
		Help: "Total number of moderation flags raised on letters",
	})

	c.registry.MustRegister(
		c.jobsEnqueued, c.jobsDispatched, c.jobsCompleted, c.jobsFailed,
		c.jobsRetried, c.jobLatency, c.lettersCreated, c.emailsSent,
		c.emailsBlocked, c.moderationFlags,
	)
	return c
}

func (c *Collector) RecordEnqueue(taskType string)  { c.jobsEnqueued.WithLabelValues(taskType).Inc() }
func (c *Collector) RecordDispatch(taskType string) { c.jobsDispatched.WithLabelValues(taskType).Inc() }
func (c *Collector) RecordRetry(taskType string)    { c.jobsRetried.WithLabelValues(taskType).Inc() }
func (c *Collector) RecordFailed(taskType string)   { c.jobsFailed.WithLabelValues(taskType).Inc() }

func (c *Collector) RecordCompleted(taskType string, seconds float64) {
	c.jobsCompleted.WithLabelValues(taskType).Inc()
	c.jobLatency.Observe(seconds)
}

func (c *Collector) RecordLetterCreated()            { c.lettersCreated.Inc() }
func (c *Collector) RecordModerationFlag()           { c.moderationFlags.Inc() }
func (c *Collector) RecordEmailSent(emailType string) {
	c.emailsSent.WithLabelValues(emailType).Inc()
}
func (c *Collector) RecordEmailBlocked(emailType string) {
	c.emailsBlocked.WithLabelValues(emailType).Inc()
}

// Handler exposes the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
