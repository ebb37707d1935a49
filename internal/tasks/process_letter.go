package tasks

import (
	"context"
	"fmt"
	"time"

	"northpole/internal/llm"
	"northpole/internal/models"
)

// HandleProcessLetter runs the full pipeline for one letter: wish
// extraction, content moderation, deed bookkeeping and reply generation.
// Every stage replaces its previous output wholesale, so a retry after a
// mid-pipeline crash produces the same end state as a clean run.
func HandleProcessLetter(ctx context.Context, deps *Deps, job *models.Job) error {
	letterID := job.PayloadString("letter_id")
	if letterID == "" {
		return fmt.Errorf("process_letter job missing letter_id")
	}

	letter, err := deps.Entities.GetLetterByID(ctx, letterID)
	if err != nil {
		return fmt.Errorf("failed to load letter: %w", err)
	}
	if letter == nil {
		return fmt.Errorf("letter %s not found", letterID)
	}
	if letter.Status == models.LetterProcessed {
		deps.Log.Info("letter already processed, skipping", "letter_id", letterID)
		return nil
	}

	if err := deps.Entities.UpdateLetterStatus(ctx, letterID, models.LetterProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark letter processing: %w", err)
	}

	if err := deps.processLetter(ctx, letter); err != nil {
		if stErr := deps.Entities.UpdateLetterStatus(ctx, letterID, models.LetterFailed, err.Error()); stErr != nil {
			deps.Log.Error("failed to record letter failure", "letter_id", letterID, "error", stErr)
		}
		return err
	}
	return nil
}

func (deps *Deps) processLetter(ctx context.Context, letter *models.Letter) error {
	log := deps.Log.With("letter_id", letter.ID)

	child, err := deps.Entities.GetChildByID(ctx, letter.ChildID)
	if err != nil {
		return fmt.Errorf("failed to load child: %w", err)
	}
	if child == nil {
		return fmt.Errorf("child %s not found", letter.ChildID)
	}
	family, err := deps.Entities.GetFamilyByID(ctx, child.FamilyID)
	if err != nil {
		return fmt.Errorf("failed to load family: %w", err)
	}
	if family == nil {
		return fmt.Errorf("family %s not found", child.FamilyID)
	}

	// A reply left by an aborted earlier attempt is stale; regenerate.
	if err := deps.Entities.DeleteReplyForLetter(ctx, letter.ID); err != nil {
		return fmt.Errorf("failed to clear stale reply: %w", err)
	}

	wishes, err := deps.LLM.ExtractWishItems(ctx, child.Name, letter.BodyText)
	if err != nil {
		return fmt.Errorf("wish extraction failed: %w", err)
	}
	items := make([]*models.WishItem, 0, len(wishes))
	for _, w := range wishes {
		items = append(items, &models.WishItem{
			RawText:        w.RawText,
			NormalizedName: w.NormalizedName,
			Category:       w.Category,
			Status:         models.WishPending,
		})
	}
	if err := deps.Entities.ReplaceWishItems(ctx, letter.ID, items); err != nil {
		return fmt.Errorf("failed to store wish items: %w", err)
	}
	log.Info("wishes extracted", "count", len(items))

	contentFlags, err := deps.LLM.ClassifyContent(ctx, child.Name, letter.BodyText, family.ModerationStrictness)
	if err != nil {
		return fmt.Errorf("content classification failed: %w", err)
	}
	flags := make([]*models.ModerationFlag, 0, len(contentFlags))
	for _, f := range contentFlags {
		flags = append(flags, &models.ModerationFlag{
			FlagType:    f.FlagType,
			Severity:    f.Severity,
			Excerpt:     f.Excerpt,
			Confidence:  f.Confidence,
			Explanation: f.Explanation,
		})
	}
	if err := deps.Entities.ReplaceModerationFlags(ctx, letter.ID, flags); err != nil {
		return fmt.Errorf("failed to store moderation flags: %w", err)
	}
	for _, f := range flags {
		deps.Metrics.RecordModerationFlag()
		deps.Notifier.ModerationFlag(ctx, family, child, letter, f)
	}
	if len(flags) > 0 {
		log.Warn("letter raised moderation flags", "count", len(flags))
	}

	// Only after moderation passed is it worth spending lookups per wish.
	deps.enrichWishes(ctx, items, child.Country)

	completed, err := deps.Entities.ListUnacknowledgedDeeds(ctx, child.ID)
	if err != nil {
		return fmt.Errorf("failed to list completed deeds: %w", err)
	}
	incomplete, err := deps.Entities.ListIncompleteDeeds(ctx, child.ID)
	if err != nil {
		return fmt.Errorf("failed to list open deeds: %w", err)
	}

	rc := buildReplyContext(child, family, letter, items, completed, incomplete)

	generated, err := deps.LLM.GenerateReply(ctx, rc)
	if err != nil {
		return fmt.Errorf("reply generation failed: %w", err)
	}
	reply := &models.SantaReply{
		LetterID:       letter.ID,
		BodyText:       generated.BodyText,
		SuggestedDeed:  generated.SuggestedDeed,
		DeliveryStatus: models.DeliveryPending,
	}
	if err := deps.Entities.CreateSantaReply(ctx, reply); err != nil {
		return fmt.Errorf("failed to store reply: %w", err)
	}

	if generated.SuggestedDeed != "" {
		deed := &models.GoodDeed{
			ChildID:            child.ID,
			Description:        generated.SuggestedDeed,
			SuggestedInReplyID: reply.ID,
		}
		if err := deps.Entities.CreateGoodDeed(ctx, deed); err != nil {
			return fmt.Errorf("failed to store suggested deed: %w", err)
		}
	}

	if len(completed) > 0 {
		deedIDs := make([]string, 0, len(completed))
		for _, d := range completed {
			deedIDs = append(deedIDs, d.ID)
		}
		if err := deps.Entities.AcknowledgeDeeds(ctx, deedIDs, reply.ID); err != nil {
			return fmt.Errorf("failed to acknowledge deeds: %w", err)
		}
		log.Info("deeds acknowledged in reply", "count", len(deedIDs))
	}

	if err := deps.Entities.MarkLetterProcessed(ctx, letter.ID, time.Now()); err != nil {
		return fmt.Errorf("failed to mark letter processed: %w", err)
	}
	if _, err := deps.Enqueuer.Enqueue(ctx, models.TaskSendReply,
		map[string]any{"reply_id": reply.ID}, models.PriorityPipeline); err != nil {
		return fmt.Errorf("failed to enqueue reply send: %w", err)
	}
	log.Info("letter processed", "reply_id", reply.ID)
	return nil
}

// buildReplyContext assembles what the reply generator sees: the child's
// name and age, the letter, the wish list split into acknowledgeable and
// parent-denied items, and the deed ledger.
func buildReplyContext(
	child *models.Child,
	family *models.Family,
	letter *models.Letter,
	items []*models.WishItem,
	completed, incomplete []*models.GoodDeed,
) *llm.ReplyContext {
	rc := &llm.ReplyContext{
		ChildName:   child.Name,
		Language:    family.Language,
		LetterText:  letter.BodyText,
		SuggestDeed: len(incomplete) == 0,
	}
	if child.BirthYear > 0 {
		rc.ChildAge = time.Now().Year() - child.BirthYear
	}
	for _, item := range items {
		if item.Status == models.WishDenied {
			rc.DeniedWishes = append(rc.DeniedWishes, llm.DeniedWish{
				Name:   item.DisplayName(),
				Reason: item.DenialReason,
			})
			continue
		}
		rc.ApprovedWishes = append(rc.ApprovedWishes, item.DisplayName())
	}
	for _, d := range completed {
		rc.CompletedDeeds = append(rc.CompletedDeeds, d.Description)
	}
	for _, d := range incomplete {
		rc.IncompleteDeeds = append(rc.IncompleteDeeds, d.Description)
	}
	return rc
}

// enrichWishes attaches price and product hints to each wish. Lookups are
// best effort: a failed search leaves the wish bare rather than failing
// the pipeline.
func (deps *Deps) enrichWishes(ctx context.Context, items []*models.WishItem, country string) {
	for _, item := range items {
		info, err := deps.LLM.SearchProduct(ctx, item.DisplayName(), country)
		if err != nil {
			deps.Log.Warn("product lookup failed", "wish_item_id", item.ID, "error", err)
			continue
		}
		item.EstimatedPrice = info.EstimatedPrice
		item.Currency = info.Currency
		item.ProductURL = info.ProductURL
		item.ProductImage = info.ImageURL
		item.ProductDesc = info.Description
		if err := deps.Entities.UpdateWishItemProduct(ctx, item); err != nil {
			deps.Log.Warn("failed to store product info", "wish_item_id", item.ID, "error", err)
		}
	}
}
