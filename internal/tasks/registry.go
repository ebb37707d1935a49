package tasks

import (
	"context"

	"northpole/internal/email"
	"northpole/internal/llm"
	"northpole/internal/logger"
	"northpole/internal/metrics"
	"northpole/internal/models"
	"northpole/internal/notify"
	"northpole/internal/repository"
)

// Enqueuer lets handlers schedule follow-up work without depending on the
// service layer.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload map[string]any, priority int) (*models.Job, error)
}

// Deps carries everything a task handler may touch. Handlers receive it
// explicitly so tests can assemble exactly the collaborators they need.
type Deps struct {
	Entities repository.EntityRepository
	Enqueuer Enqueuer
	Mail     email.Transport
	LLM      llm.Client
	Notifier *notify.Notifier
	Metrics  *metrics.Collector
	Limiter  *RateLimiter
	Log      *logger.Logger

	// SafetyCheckEnabled gates outbound mail behind the independent
	// classifier pass. Off means every generated email is approved.
	SafetyCheckEnabled bool
}

// HandlerFunc executes one claimed job.
type HandlerFunc func(ctx context.Context, deps *Deps, job *models.Job) error

// Registry maps task types to handlers. It is assembled once at startup
// and read-only afterwards.
type Registry struct {
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func (r *Registry) Register(taskType string, h HandlerFunc) {
	r.handlers[taskType] = h
}

// Resolve returns the handler for a task type, or (nil, false) for types
// no handler claims.
func (r *Registry) Resolve(taskType string) (HandlerFunc, bool) {
	h, ok := r.handlers[taskType]
	return h, ok
}

// DefaultRegistry wires every known task type to its handler.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(models.TaskFetchEmails, HandleFetchEmails)
	r.Register(models.TaskProcessLetter, HandleProcessLetter)
	r.Register(models.TaskSendReply, HandleSendReply)
	r.Register(models.TaskSendDeedEmail, HandleSendDeedEmail)
	r.Register(models.TaskSendDeedCongrats, HandleSendDeedCongrats)
	return r
}
