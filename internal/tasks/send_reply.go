package tasks

import (
	"context"
	"fmt"
	"time"

	"northpole/internal/email"
	"northpole/internal/models"
)

// HandleSendReply delivers a generated reply, gated by the safety check.
// Blocked is a terminal outcome for the job: the reply stays in the
// database for a human to look at, and nothing retries the send.
func HandleSendReply(ctx context.Context, deps *Deps, job *models.Job) error {
	replyID := job.PayloadString("reply_id")
	if replyID == "" {
		return fmt.Errorf("send_reply job missing reply_id")
	}

	reply, err := deps.Entities.GetSantaReplyByID(ctx, replyID)
	if err != nil {
		return fmt.Errorf("failed to load reply: %w", err)
	}
	if reply == nil {
		return fmt.Errorf("reply %s not found", replyID)
	}
	if reply.DeliveryStatus == models.DeliverySent || reply.DeliveryStatus == models.DeliveryBlocked {
		deps.Log.Info("reply already resolved, skipping",
			"reply_id", replyID, "delivery_status", reply.DeliveryStatus)
		return nil
	}

	letter, err := deps.Entities.GetLetterByID(ctx, reply.LetterID)
	if err != nil {
		return fmt.Errorf("failed to load letter: %w", err)
	}
	if letter == nil {
		return fmt.Errorf("letter %s not found", reply.LetterID)
	}
	if letter.FromEmail == "" {
		return fmt.Errorf("letter %s has no sender address to reply to", letter.ID)
	}
	child, err := deps.Entities.GetChildByID(ctx, letter.ChildID)
	if err != nil {
		return fmt.Errorf("failed to load child: %w", err)
	}
	if child == nil {
		return fmt.Errorf("child %s not found", letter.ChildID)
	}

	subject := "A letter from Santa Claus"
	if letter.Subject != "" {
		subject = "Re: " + letter.Subject
	}

	audit := &models.SentEmail{
		ChildID:      child.ID,
		EmailType:    models.EmailTypeLetterReply,
		Subject:      subject,
		BodyText:     reply.BodyText,
		LetterID:     letter.ID,
		SantaReplyID: reply.ID,
	}

	if blocked, reason := deps.checkOutbound(ctx, reply.BodyText, models.EmailTypeLetterReply, child.Name); blocked {
		if err := deps.Entities.UpdateReplyDelivery(ctx, reply.ID, models.DeliveryBlocked, reason, nil); err != nil {
			return fmt.Errorf("failed to record blocked reply: %w", err)
		}
		audit.DeliveryStatus = models.DeliveryBlocked
		audit.BlockReason = reason
		if err := deps.Entities.CreateSentEmail(ctx, audit); err != nil {
			return fmt.Errorf("failed to record blocked email: %w", err)
		}
		return nil
	}

	msg := &email.OutgoingMessage{
		To:       letter.FromEmail,
		Subject:  subject,
		BodyText: reply.BodyText,
		BodyHTML: reply.BodyHTML,
	}
	if err := deps.Mail.Send(ctx, msg); err != nil {
		if stErr := deps.Entities.UpdateReplyDelivery(ctx, reply.ID, models.DeliveryFailed, err.Error(), nil); stErr != nil {
			deps.Log.Error("failed to record delivery failure", "reply_id", reply.ID, "error", stErr)
		}
		// The audit trail records every dispatch attempt, failures
		// included; the retry will append its own row.
		audit.DeliveryStatus = models.DeliveryFailed
		if aErr := deps.Entities.CreateSentEmail(ctx, audit); aErr != nil {
			deps.Log.Error("failed to record failed dispatch", "reply_id", reply.ID, "error", aErr)
		}
		return fmt.Errorf("failed to send reply: %w", err)
	}

	now := time.Now()
	if err := deps.Entities.UpdateReplyDelivery(ctx, reply.ID, models.DeliverySent, "", &now); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	audit.DeliveryStatus = models.DeliverySent
	audit.SentAt = now
	if err := deps.Entities.CreateSentEmail(ctx, audit); err != nil {
		return fmt.Errorf("failed to record sent email: %w", err)
	}
	deps.Metrics.RecordEmailSent(models.EmailTypeLetterReply)
	deps.Log.Info("reply sent", "reply_id", reply.ID, "child_id", child.ID)
	return nil
}
