package notify

import (
	"context"
	"fmt"

	"northpole/internal/logger"
	"northpole/internal/models"
	"northpole/internal/repository"
)

// Notifier writes parent-facing notification rows. Failures are logged and
// swallowed: a missed notification must never fail the pipeline step that
// produced it.
type Notifier struct {
	repo repository.EntityRepository
	log  *logger.Logger
}

func NewNotifier(repo repository.EntityRepository, log *logger.Logger) *Notifier {
	return &Notifier{repo: repo, log: log}
}

// NewLetter records that a child's letter arrived.
func (n *Notifier) NewLetter(ctx context.Context, family *models.Family, child *models.Child, letter *models.Letter) {
	n.create(ctx, &models.Notification{
		FamilyID:        family.ID,
		Type:            models.NotifyNewLetter,
		Title:           fmt.Sprintf("New letter from %s", child.Name),
		Message:         fmt.Sprintf("%s wrote to Santa. Review the letter and any wishes.", child.Name),
		RelatedLetterID: letter.ID,
		RelatedChildID:  child.ID,
	})
}

// ModerationFlag alerts the family that a letter raised a safety concern.
func (n *Notifier) ModerationFlag(ctx context.Context, family *models.Family, child *models.Child, letter *models.Letter, flag *models.ModerationFlag) {
	n.create(ctx, &models.Notification{
		FamilyID:        family.ID,
		Type:            models.NotifyModerationFlag,
		Title:           fmt.Sprintf("A letter from %s needs your attention", child.Name),
		Message:         fmt.Sprintf("Severity %s: %s", flag.Severity, flag.FlagType),
		RelatedLetterID: letter.ID,
		RelatedChildID:  child.ID,
	})
}

func (n *Notifier) create(ctx context.Context, notification *models.Notification) {
	if err := n.repo.CreateNotification(ctx, notification); err != nil {
		n.log.Warn("failed to create notification",
			"type", notification.Type,
			"family_id", notification.FamilyID,
			"error", err)
	}
}
