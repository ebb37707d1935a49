package tasks

import (
	"context"
	"fmt"

	"northpole/internal/email"
	"northpole/internal/models"
)

// HandleSendDeedEmail sends a standalone email nudging a child toward a
// good deed.
func HandleSendDeedEmail(ctx context.Context, deps *Deps, job *models.Job) error {
	return deps.sendDeedEmail(ctx, job, false)
}

// HandleSendDeedCongrats sends a congratulations email for a completed
// deed.
func HandleSendDeedCongrats(ctx context.Context, deps *Deps, job *models.Job) error {
	return deps.sendDeedEmail(ctx, job, true)
}

func (deps *Deps) sendDeedEmail(ctx context.Context, job *models.Job, congrats bool) error {
	deedID := job.PayloadString("deed_id")
	if deedID == "" {
		return fmt.Errorf("%s job missing deed_id", job.TaskType)
	}

	deed, err := deps.Entities.GetGoodDeedByID(ctx, deedID)
	if err != nil {
		return fmt.Errorf("failed to load deed: %w", err)
	}
	if deed == nil {
		return fmt.Errorf("deed %s not found", deedID)
	}
	if congrats && !deed.Completed {
		return fmt.Errorf("deed %s is not completed, nothing to congratulate", deedID)
	}

	child, err := deps.Entities.GetChildByID(ctx, deed.ChildID)
	if err != nil {
		return fmt.Errorf("failed to load child: %w", err)
	}
	if child == nil {
		return fmt.Errorf("child %s not found", deed.ChildID)
	}

	// Only the address hash is stored on the child; the deliverable
	// address lives on the letters the child actually sent.
	latest, err := deps.Entities.GetLatestLetterForChild(ctx, child.ID)
	if err != nil {
		return fmt.Errorf("failed to find child's latest letter: %w", err)
	}
	if latest == nil || latest.FromEmail == "" {
		return fmt.Errorf("no deliverable address for child %s", child.ID)
	}

	emailType := models.EmailTypeDeedEmail
	if congrats {
		emailType = models.EmailTypeDeedCongrat
	}

	generated, err := deps.LLM.GenerateDeedEmail(ctx, deed.Description, child.Name, congrats)
	if err != nil {
		return fmt.Errorf("deed email generation failed: %w", err)
	}

	audit := &models.SentEmail{
		ChildID:   child.ID,
		EmailType: emailType,
		Subject:   generated.Subject,
		BodyText:  generated.BodyText,
		DeedID:    deed.ID,
	}

	if blocked, reason := deps.checkOutbound(ctx, generated.BodyText, emailType, child.Name); blocked {
		audit.DeliveryStatus = models.DeliveryBlocked
		audit.BlockReason = reason
		if err := deps.Entities.CreateSentEmail(ctx, audit); err != nil {
			return fmt.Errorf("failed to record blocked email: %w", err)
		}
		return nil
	}

	msg := &email.OutgoingMessage{
		To:       latest.FromEmail,
		Subject:  generated.Subject,
		BodyText: generated.BodyText,
	}
	if err := deps.Mail.Send(ctx, msg); err != nil {
		audit.DeliveryStatus = models.DeliveryFailed
		if aErr := deps.Entities.CreateSentEmail(ctx, audit); aErr != nil {
			deps.Log.Error("failed to record failed dispatch", "deed_id", deed.ID, "error", aErr)
		}
		return fmt.Errorf("failed to send deed email: %w", err)
	}

	audit.DeliveryStatus = models.DeliverySent
	if err := deps.Entities.CreateSentEmail(ctx, audit); err != nil {
		return fmt.Errorf("failed to record sent email: %w", err)
	}
	deps.Metrics.RecordEmailSent(emailType)
	deps.Log.Info("deed email sent", "deed_id", deed.ID, "email_type", emailType)
	return nil
}
