package repository

import (
	"context"
	"errors"
	"time"

	"northpole/internal/models"
)

// ErrDuplicateMessageID is returned when a letter with the same transport
// message ID already exists.
var ErrDuplicateMessageID = errors.New("letter with this message_id already exists")

// JobRepository is the durable work queue contract.
type JobRepository interface {
	// EnqueueJob inserts a new pending job. Zero-value CreatedAt and
	// ScheduledFor default to now, zero MaxAttempts to the package default.
	EnqueueJob(ctx context.Context, job *models.Job) error

	// ClaimNextJob atomically claims the highest-priority, oldest eligible
	// job: pending rows whose scheduled_for has passed, plus processing
	// rows whose lease has expired (a crashed worker's leftovers). The
	// claim increments attempts, stamps started_at and extends the lease.
	// Returns (nil, nil) when nothing is eligible.
	ClaimNextJob(ctx context.Context, leaseDuration time.Duration) (*models.Job, error)

	// CompleteJob finishes an attempt. On success the job goes terminal
	// completed. On failure it is requeued with a backoff-pushed
	// scheduled_for, or goes terminal failed once attempts are exhausted.
	CompleteJob(ctx context.Context, job *models.Job, success bool, errMsg string) error

	// FailJobTerminal moves a job straight to failed regardless of
	// remaining attempts. Used for errors that can never succeed on
	// retry, such as an unknown task type.
	FailJobTerminal(ctx context.Context, job *models.Job, errMsg string) error

	// HasActiveJob reports whether any job of the given task type is
	// currently pending or processing.
	HasActiveJob(ctx context.Context, taskType string) (bool, error)

	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
}

// EntityRepository is the relational store for the letter-processing
// domain. The pipeline mutates entities only under the exclusivity of the
// enclosing claimed job.
type EntityRepository interface {
	CreateFamily(ctx context.Context, family *models.Family) error
	GetFamilyByID(ctx context.Context, id string) (*models.Family, error)

	CreateChild(ctx context.Context, child *models.Child) error
	GetChildByID(ctx context.Context, id string) (*models.Child, error)
	GetChildByEmailHash(ctx context.Context, hash string) (*models.Child, error)

	CreateLetter(ctx context.Context, letter *models.Letter) error
	GetLetterByID(ctx context.Context, id string) (*models.Letter, error)
	GetLetterByMessageID(ctx context.Context, messageID string) (*models.Letter, error)
	GetLatestLetterForChild(ctx context.Context, childID string) (*models.Letter, error)
	UpdateLetterStatus(ctx context.Context, id string, status models.LetterStatus, errMsg string) error
	MarkLetterProcessed(ctx context.Context, id string, at time.Time) error

	// ReplaceWishItems swaps the letter's extraction batch wholesale in
	// one transaction, keeping re-runs of the pipeline idempotent.
	ReplaceWishItems(ctx context.Context, letterID string, items []*models.WishItem) error
	ListWishItemsByLetter(ctx context.Context, letterID string) ([]*models.WishItem, error)
	UpdateWishItemStatus(ctx context.Context, id, status, denialReason string) error
	UpdateWishItemProduct(ctx context.Context, item *models.WishItem) error

	ReplaceModerationFlags(ctx context.Context, letterID string, flags []*models.ModerationFlag) error
	ListModerationFlagsByLetter(ctx context.Context, letterID string) ([]*models.ModerationFlag, error)

	CreateSantaReply(ctx context.Context, reply *models.SantaReply) error
	GetSantaReplyByID(ctx context.Context, id string) (*models.SantaReply, error)
	GetSantaReplyByLetter(ctx context.Context, letterID string) (*models.SantaReply, error)
	DeleteReplyForLetter(ctx context.Context, letterID string) error
	UpdateReplyDelivery(ctx context.Context, id string, status models.DeliveryStatus, errMsg string, sentAt *time.Time) error

	CreateGoodDeed(ctx context.Context, deed *models.GoodDeed) error
	GetGoodDeedByID(ctx context.Context, id string) (*models.GoodDeed, error)
	CompleteGoodDeed(ctx context.Context, id string, at time.Time) error
	ListIncompleteDeeds(ctx context.Context, childID string) ([]*models.GoodDeed, error)
	ListUnacknowledgedDeeds(ctx context.Context, childID string) ([]*models.GoodDeed, error)
	AcknowledgeDeeds(ctx context.Context, deedIDs []string, replyID string) error

	CreateSentEmail(ctx context.Context, email *models.SentEmail) error
	ListSentEmails(ctx context.Context, emailType string, limit int) ([]*models.SentEmail, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotificationsByFamily(ctx context.Context, familyID string) ([]*models.Notification, error)
}
