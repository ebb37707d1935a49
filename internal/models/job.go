package models

import "time"

// JobStatus represents the state of a background job
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Task types known to the worker
const (
	TaskFetchEmails      = "fetch_emails"
	TaskProcessLetter    = "process_letter"
	TaskSendReply        = "send_reply"
	TaskSendDeedEmail    = "send_deed_email"
	TaskSendDeedCongrats = "send_deed_congrats"
)

// Queue priorities. Fetch outranks the per-letter jobs so new mail is
// picked up even when a processing backlog has built up.
const (
	PriorityFetch    = 10
	PriorityPipeline = 5
)

// DefaultMaxAttempts is applied when a job is enqueued without an explicit limit.
const DefaultMaxAttempts = 3

// Job is one unit of deferred work in the durable queue
type Job struct {
	ID             string         `json:"id"`
	TaskType       string         `json:"task_type"`
	Payload        map[string]any `json:"payload,omitempty"`
	Status         JobStatus      `json:"status"`
	Priority       int            `json:"priority"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ScheduledFor   time.Time      `json:"scheduled_for"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
}

// PayloadString returns a string payload field, or "" when absent.
func (j *Job) PayloadString(key string) string {
	if j.Payload == nil {
		return ""
	}
	s, _ := j.Payload[key].(string)
	return s
}
