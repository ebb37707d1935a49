package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"northpole/internal/email"
	"northpole/internal/models"
	"northpole/internal/repository"
)

// HandleFetchEmails drains the inbox and turns each message from a
// registered child into a letter plus a process_letter job. Unknown
// senders and duplicates are skipped, so re-running after a partial
// failure is safe.
func HandleFetchEmails(ctx context.Context, deps *Deps, job *models.Job) error {
	messages, err := deps.Mail.FetchNewMessages(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}
	deps.Log.Info("fetched messages", "count", len(messages))

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := deps.ingestMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (deps *Deps) ingestMessage(ctx context.Context, msg *email.IncomingMessage) error {
	hash := email.HashAddress(msg.From)
	log := deps.Log.With("email_hash", hash, "message_id", msg.MessageID)

	if msg.MessageID != "" {
		existing, err := deps.Entities.GetLetterByMessageID(ctx, msg.MessageID)
		if err != nil {
			return fmt.Errorf("failed to check for duplicate letter: %w", err)
		}
		if existing != nil {
			log.Debug("duplicate message, skipping")
			return nil
		}
	}

	child, err := deps.Entities.GetChildByEmailHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to look up child: %w", err)
	}
	if child == nil {
		log.Info("message from unregistered sender, skipping")
		return nil
	}

	if deps.Limiter != nil && !deps.Limiter.Allow(hash) {
		log.Warn("sender over letter rate limit, skipping", "child_id", child.ID)
		return nil
	}

	letter := &models.Letter{
		ChildID:    child.ID,
		Year:       time.Now().Year(),
		Subject:    msg.Subject,
		BodyText:   msg.BodyText,
		BodyHTML:   msg.BodyHTML,
		ReceivedAt: msg.ReceivedAt,
		MessageID:  msg.MessageID,
		FromEmail:  msg.From,
		Status:     models.LetterPending,
	}
	if err := deps.Entities.CreateLetter(ctx, letter); err != nil {
		// A concurrent fetch can win the insert race; that is a duplicate,
		// not a failure.
		if errors.Is(err, repository.ErrDuplicateMessageID) {
			log.Debug("duplicate message lost insert race, skipping")
			return nil
		}
		return fmt.Errorf("failed to create letter: %w", err)
	}
	deps.Metrics.RecordLetterCreated()
	log.Info("letter created", "letter_id", letter.ID, "child_id", child.ID)

	if family, err := deps.Entities.GetFamilyByID(ctx, child.FamilyID); err == nil && family != nil {
		deps.Notifier.NewLetter(ctx, family, child, letter)
	}

	if _, err := deps.Enqueuer.Enqueue(ctx, models.TaskProcessLetter,
		map[string]any{"letter_id": letter.ID}, models.PriorityPipeline); err != nil {
		return fmt.Errorf("failed to enqueue letter processing: %w", err)
	}
	return nil
}
