package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestCollectorRecordsQueueCounters(t *testing.T) {
	c := NewCollector()
	c.RecordEnqueue("process_letter")
	c.RecordDispatch("process_letter")
	c.RecordCompleted("process_letter", 0.25)
	c.RecordRetry("send_reply")
	c.RecordFailed("send_reply")

	body := scrape(t, c)
	assert.Contains(t, body, `northpole_jobs_enqueued_total{task_type="process_letter"} 1`)
	assert.Contains(t, body, `northpole_jobs_dispatched_total{task_type="process_letter"} 1`)
	assert.Contains(t, body, `northpole_jobs_completed_total{task_type="process_letter"} 1`)
	assert.Contains(t, body, `northpole_jobs_retried_total{task_type="send_reply"} 1`)
	assert.Contains(t, body, `northpole_jobs_failed_total{task_type="send_reply"} 1`)
	assert.Contains(t, body, "northpole_job_duration_seconds")
}

func TestCollectorRecordsPipelineCounters(t *testing.T) {
	c := NewCollector()
	c.RecordLetterCreated()
	c.RecordModerationFlag()
	c.RecordEmailSent("letter_reply")
	c.RecordEmailBlocked("deed_email")

	body := scrape(t, c)
	assert.Contains(t, body, "northpole_letters_created_total 1")
	assert.Contains(t, body, "northpole_moderation_flags_total 1")
	assert.Contains(t, body, `northpole_emails_sent_total{email_type="letter_reply"} 1`)
	assert.Contains(t, body, `northpole_emails_blocked_total{email_type="deed_email"} 1`)
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector()
	b := NewCollector()
	a.RecordLetterCreated()

	assert.Contains(t, scrape(t, a), "northpole_letters_created_total 1")
	assert.NotContains(t, scrape(t, b), "northpole_letters_created_total 1")
}
