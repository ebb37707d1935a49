package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"northpole/internal/models"
)

// Entity CRUD for the letter-processing domain. All methods live on the
// same SQLiteRepository as the job queue so one database file carries the
// whole system.

func (r *SQLiteRepository) CreateFamily(ctx context.Context, family *models.Family) error {
	if family.ID == "" {
		family.ID = uuid.New().String()
	}
	if family.CreatedAt.IsZero() {
		family.CreatedAt = time.Now()
	}
	if family.Language == "" {
		family.Language = "en"
	}
	if family.ModerationStrictness == "" {
		family.ModerationStrictness = "medium"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO families (id, name, language, moderation_strictness, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		family.ID, family.Name, family.Language, family.ModerationStrictness, family.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create family: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetFamilyByID(ctx context.Context, id string) (*models.Family, error) {
	var f models.Family
	var name sql.NullString
	var createdAt int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, language, moderation_strictness, created_at
		FROM families WHERE id = ?`, id).
		Scan(&f.ID, &name, &f.Language, &f.ModerationStrictness, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get family: %w", err)
	}
	f.Name = name.String
	f.CreatedAt = time.Unix(createdAt, 0)
	return &f, nil
}

func (r *SQLiteRepository) CreateChild(ctx context.Context, child *models.Child) error {
	if child.ID == "" {
		child.ID = uuid.New().String()
	}
	if child.CreatedAt.IsZero() {
		child.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO children (id, family_id, name, email_hash, country, birth_year, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		child.ID, child.FamilyID, child.Name, child.EmailHash,
		nullString(child.Country), nullInt(child.BirthYear), child.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create child: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetChildByID(ctx context.Context, id string) (*models.Child, error) {
	return r.getChild(ctx, `WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetChildByEmailHash(ctx context.Context, hash string) (*models.Child, error) {
	return r.getChild(ctx, `WHERE email_hash = ?`, hash)
}

func (r *SQLiteRepository) getChild(ctx context.Context, where string, arg any) (*models.Child, error) {
	var c models.Child
	var country sql.NullString
	var birthYear sql.NullInt64
	var createdAt int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, family_id, name, email_hash, country, birth_year, created_at
		FROM children `+where, arg).
		Scan(&c.ID, &c.FamilyID, &c.Name, &c.EmailHash, &country, &birthYear, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get child: %w", err)
	}
	c.Country = country.String
	c.BirthYear = int(birthYear.Int64)
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}

func (r *SQLiteRepository) CreateLetter(ctx context.Context, letter *models.Letter) error {
	if letter.ID == "" {
		letter.ID = uuid.New().String()
	}
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = time.Now()
	}
	if letter.Status == "" {
		letter.Status = models.LetterPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO letters (id, child_id, year, subject, body_text, body_html,
			received_at, message_id, from_email, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		letter.ID, letter.ChildID, letter.Year, nullString(letter.Subject),
		letter.BodyText, nullString(letter.BodyHTML), letter.ReceivedAt.Unix(),
		nullString(letter.MessageID), nullString(letter.FromEmail),
		letter.Status, letter.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: letters.message_id") {
			return ErrDuplicateMessageID
		}
		return fmt.Errorf("failed to create letter: %w", err)
	}
	return nil
}

const letterColumns = `id, child_id, year, subject, body_text, body_html,
	received_at, message_id, from_email, status, processed_at, error_message, created_at`

func (r *SQLiteRepository) GetLetterByID(ctx context.Context, id string) (*models.Letter, error) {
	return r.getLetter(ctx, `WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetLetterByMessageID(ctx context.Context, messageID string) (*models.Letter, error) {
	return r.getLetter(ctx, `WHERE message_id = ?`, messageID)
}

func (r *SQLiteRepository) GetLatestLetterForChild(ctx context.Context, childID string) (*models.Letter, error) {
	return r.getLetter(ctx, `WHERE child_id = ? ORDER BY received_at DESC, rowid DESC LIMIT 1`, childID)
}

func (r *SQLiteRepository) getLetter(ctx context.Context, where string, arg any) (*models.Letter, error) {
	var l models.Letter
	var subject, bodyHTML, messageID, fromEmail, errMsg sql.NullString
	var receivedAt, createdAt int64
	var processedAt sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT `+letterColumns+` FROM letters `+where, arg).
		Scan(&l.ID, &l.ChildID, &l.Year, &subject, &l.BodyText, &bodyHTML,
			&receivedAt, &messageID, &fromEmail, &l.Status, &processedAt, &errMsg, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get letter: %w", err)
	}
	l.Subject = subject.String
	l.BodyHTML = bodyHTML.String
	l.MessageID = messageID.String
	l.FromEmail = fromEmail.String
	l.ErrorMessage = errMsg.String
	l.ReceivedAt = time.Unix(receivedAt, 0)
	l.CreatedAt = time.Unix(createdAt, 0)
	if processedAt.Valid {
		t := time.Unix(processedAt.Int64, 0)
		l.ProcessedAt = &t
	}
	return &l, nil
}

func (r *SQLiteRepository) UpdateLetterStatus(ctx context.Context, id string, status models.LetterStatus, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE letters SET status = ?, error_message = ? WHERE id = ?`,
		status, nullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("failed to update letter status: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkLetterProcessed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE letters SET status = ?, processed_at = ?, error_message = NULL WHERE id = ?`,
		models.LetterProcessed, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark letter processed: %w", err)
	}
	return nil
}

// ReplaceWishItems swaps the letter's extraction batch in one transaction
func (r *SQLiteRepository) ReplaceWishItems(ctx context.Context, letterID string, items []*models.WishItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM wish_items WHERE letter_id = ?`, letterID); err != nil {
		return fmt.Errorf("failed to clear wish items: %w", err)
	}
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now()
		}
		if item.Status == "" {
			item.Status = models.WishPending
		}
		item.LetterID = letterID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wish_items (id, letter_id, raw_text, normalized_name, category, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.LetterID, item.RawText, nullString(item.NormalizedName),
			nullString(item.Category), item.Status, item.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert wish item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit wish items: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListWishItemsByLetter(ctx context.Context, letterID string) ([]*models.WishItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, letter_id, raw_text, normalized_name, category, status, denial_reason,
		       estimated_price, currency, product_url, product_image_url, product_description, created_at
		FROM wish_items WHERE letter_id = ? ORDER BY rowid ASC`, letterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wish items: %w", err)
	}
	defer rows.Close()

	var items []*models.WishItem
	for rows.Next() {
		var w models.WishItem
		var normalized, category, denial, currency, url, img, desc sql.NullString
		var price sql.NullFloat64
		var createdAt int64
		if err := rows.Scan(&w.ID, &w.LetterID, &w.RawText, &normalized, &category,
			&w.Status, &denial, &price, &currency, &url, &img, &desc, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan wish item: %w", err)
		}
		w.NormalizedName = normalized.String
		w.Category = category.String
		w.DenialReason = denial.String
		w.EstimatedPrice = price.Float64
		w.Currency = currency.String
		w.ProductURL = url.String
		w.ProductImage = img.String
		w.ProductDesc = desc.String
		w.CreatedAt = time.Unix(createdAt, 0)
		items = append(items, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wish items: %w", err)
	}
	return items, nil
}

func (r *SQLiteRepository) UpdateWishItemStatus(ctx context.Context, id, status, denialReason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE wish_items SET status = ?, denial_reason = ? WHERE id = ?`,
		status, nullString(denialReason), id)
	if err != nil {
		return fmt.Errorf("failed to update wish item status: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateWishItemProduct(ctx context.Context, item *models.WishItem) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE wish_items
		SET estimated_price = ?, currency = ?, product_url = ?,
		    product_image_url = ?, product_description = ?
		WHERE id = ?`,
		item.EstimatedPrice, nullString(item.Currency), nullString(item.ProductURL),
		nullString(item.ProductImage), nullString(item.ProductDesc), item.ID)
	if err != nil {
		return fmt.Errorf("failed to update wish item product: %w", err)
	}
	return nil
}

// ReplaceModerationFlags swaps the letter's flag batch in one transaction
func (r *SQLiteRepository) ReplaceModerationFlags(ctx context.Context, letterID string, flags []*models.ModerationFlag) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM moderation_flags WHERE letter_id = ?`, letterID); err != nil {
		return fmt.Errorf("failed to clear moderation flags: %w", err)
	}
	for _, flag := range flags {
		if flag.ID == "" {
			flag.ID = uuid.New().String()
		}
		if flag.CreatedAt.IsZero() {
			flag.CreatedAt = time.Now()
		}
		if flag.Severity == "" {
			flag.Severity = "medium"
		}
		flag.LetterID = letterID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO moderation_flags (id, letter_id, flag_type, severity, excerpt, ai_confidence, ai_explanation, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			flag.ID, flag.LetterID, flag.FlagType, flag.Severity,
			nullString(flag.Excerpt), flag.Confidence, nullString(flag.Explanation),
			flag.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert moderation flag: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit moderation flags: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListModerationFlagsByLetter(ctx context.Context, letterID string) ([]*models.ModerationFlag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, letter_id, flag_type, severity, excerpt, ai_confidence, ai_explanation, created_at
		FROM moderation_flags WHERE letter_id = ? ORDER BY rowid ASC`, letterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query moderation flags: %w", err)
	}
	defer rows.Close()

	var flags []*models.ModerationFlag
	for rows.Next() {
		var f models.ModerationFlag
		var excerpt, explanation sql.NullString
		var confidence sql.NullFloat64
		var createdAt int64
		if err := rows.Scan(&f.ID, &f.LetterID, &f.FlagType, &f.Severity,
			&excerpt, &confidence, &explanation, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan moderation flag: %w", err)
		}
		f.Excerpt = excerpt.String
		f.Confidence = confidence.Float64
		f.Explanation = explanation.String
		f.CreatedAt = time.Unix(createdAt, 0)
		flags = append(flags, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate moderation flags: %w", err)
	}
	return flags, nil
}

func (r *SQLiteRepository) CreateSantaReply(ctx context.Context, reply *models.SantaReply) error {
	if reply.ID == "" {
		reply.ID = uuid.New().String()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now()
	}
	if reply.DeliveryStatus == "" {
		reply.DeliveryStatus = models.DeliveryPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO santa_replies (id, letter_id, body_text, body_html, suggested_deed, delivery_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		reply.ID, reply.LetterID, reply.BodyText, nullString(reply.BodyHTML),
		nullString(reply.SuggestedDeed), reply.DeliveryStatus, reply.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create santa reply: %w", err)
	}
	return nil
}

const replyColumns = `id, letter_id, body_text, body_html, suggested_deed,
	delivery_status, delivery_error, sent_at, created_at`

func (r *SQLiteRepository) GetSantaReplyByID(ctx context.Context, id string) (*models.SantaReply, error) {
	return r.getReply(ctx, `WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetSantaReplyByLetter(ctx context.Context, letterID string) (*models.SantaReply, error) {
	return r.getReply(ctx, `WHERE letter_id = ?`, letterID)
}

func (r *SQLiteRepository) getReply(ctx context.Context, where string, arg any) (*models.SantaReply, error) {
	var reply models.SantaReply
	var bodyHTML, deed, deliveryErr sql.NullString
	var sentAt sql.NullInt64
	var createdAt int64
	err := r.db.QueryRowContext(ctx, `SELECT `+replyColumns+` FROM santa_replies `+where, arg).
		Scan(&reply.ID, &reply.LetterID, &reply.BodyText, &bodyHTML, &deed,
			&reply.DeliveryStatus, &deliveryErr, &sentAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get santa reply: %w", err)
	}
	reply.BodyHTML = bodyHTML.String
	reply.SuggestedDeed = deed.String
	reply.DeliveryError = deliveryErr.String
	reply.CreatedAt = time.Unix(createdAt, 0)
	if sentAt.Valid {
		t := time.Unix(sentAt.Int64, 0)
		reply.SentAt = &t
	}
	return &reply, nil
}

// DeleteReplyForLetter removes a stale reply left by an aborted pipeline
// attempt, together with the deed rows it suggested.
func (r *SQLiteRepository) DeleteReplyForLetter(ctx context.Context, letterID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var replyID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM santa_replies WHERE letter_id = ?`, letterID).Scan(&replyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to find reply: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM good_deeds WHERE suggested_in_reply_id = ?`, replyID); err != nil {
		return fmt.Errorf("failed to delete suggested deeds: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE good_deeds SET acknowledged_in_reply_id = NULL WHERE acknowledged_in_reply_id = ?`, replyID); err != nil {
		return fmt.Errorf("failed to unwind deed acknowledgments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM santa_replies WHERE id = ?`, replyID); err != nil {
		return fmt.Errorf("failed to delete reply: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reply deletion: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateReplyDelivery(ctx context.Context, id string, status models.DeliveryStatus, errMsg string, sentAt *time.Time) error {
	var sentAtUnix any
	if sentAt != nil {
		sentAtUnix = sentAt.Unix()
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE santa_replies SET delivery_status = ?, delivery_error = ?, sent_at = ? WHERE id = ?`,
		status, nullString(errMsg), sentAtUnix, id)
	if err != nil {
		return fmt.Errorf("failed to update reply delivery: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CreateGoodDeed(ctx context.Context, deed *models.GoodDeed) error {
	if deed.ID == "" {
		deed.ID = uuid.New().String()
	}
	if deed.CreatedAt.IsZero() {
		deed.CreatedAt = time.Now()
	}
	var completedAt any
	if deed.CompletedAt != nil {
		completedAt = deed.CompletedAt.Unix()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO good_deeds (id, child_id, description, completed, completed_at,
			suggested_in_reply_id, acknowledged_in_reply_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		deed.ID, deed.ChildID, deed.Description, deed.Completed, completedAt,
		nullString(deed.SuggestedInReplyID), nullString(deed.AcknowledgedReplyID),
		deed.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create good deed: %w", err)
	}
	return nil
}

const deedColumns = `id, child_id, description, completed, completed_at,
	suggested_in_reply_id, acknowledged_in_reply_id, created_at`

func (r *SQLiteRepository) GetGoodDeedByID(ctx context.Context, id string) (*models.GoodDeed, error) {
	deeds, err := r.listDeeds(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(deeds) == 0 {
		return nil, nil
	}
	return deeds[0], nil
}

func (r *SQLiteRepository) CompleteGoodDeed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE good_deeds SET completed = 1, completed_at = ? WHERE id = ?`, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to complete good deed: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListIncompleteDeeds(ctx context.Context, childID string) ([]*models.GoodDeed, error) {
	return r.listDeeds(ctx, `WHERE child_id = ? AND completed = 0 ORDER BY rowid ASC`, childID)
}

// ListUnacknowledgedDeeds returns deeds the child completed that no reply
// has congratulated yet.
func (r *SQLiteRepository) ListUnacknowledgedDeeds(ctx context.Context, childID string) ([]*models.GoodDeed, error) {
	return r.listDeeds(ctx,
		`WHERE child_id = ? AND completed = 1 AND acknowledged_in_reply_id IS NULL ORDER BY rowid ASC`,
		childID)
}

func (r *SQLiteRepository) listDeeds(ctx context.Context, where string, arg any) ([]*models.GoodDeed, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deedColumns+` FROM good_deeds `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query good deeds: %w", err)
	}
	defer rows.Close()

	var deeds []*models.GoodDeed
	for rows.Next() {
		var d models.GoodDeed
		var completedAt sql.NullInt64
		var suggestedIn, acknowledgedIn sql.NullString
		var createdAt int64
		if err := rows.Scan(&d.ID, &d.ChildID, &d.Description, &d.Completed,
			&completedAt, &suggestedIn, &acknowledgedIn, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan good deed: %w", err)
		}
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0)
			d.CompletedAt = &t
		}
		d.SuggestedInReplyID = suggestedIn.String
		d.AcknowledgedReplyID = acknowledgedIn.String
		d.CreatedAt = time.Unix(createdAt, 0)
		deeds = append(deeds, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate good deeds: %w", err)
	}
	return deeds, nil
}

// AcknowledgeDeeds stamps completed deeds with the reply that congratulated
// the child for them.
func (r *SQLiteRepository) AcknowledgeDeeds(ctx context.Context, deedIDs []string, replyID string) error {
	if len(deedIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(deedIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(deedIDs)+1)
	args = append(args, replyID)
	for _, id := range deedIDs {
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE good_deeds SET acknowledged_in_reply_id = ?
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to acknowledge deeds: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CreateSentEmail(ctx context.Context, email *models.SentEmail) error {
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	if email.SentAt.IsZero() {
		email.SentAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sent_emails (id, child_id, email_type, subject, body_text,
			letter_id, santa_reply_id, deed_id, delivery_status, block_reason, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		email.ID, email.ChildID, email.EmailType, email.Subject, email.BodyText,
		nullString(email.LetterID), nullString(email.SantaReplyID), nullString(email.DeedID),
		email.DeliveryStatus, nullString(email.BlockReason), email.SentAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create sent email: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListSentEmails(ctx context.Context, emailType string, limit int) ([]*models.SentEmail, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, child_id, email_type, subject, body_text, letter_id,
		       santa_reply_id, deed_id, delivery_status, block_reason, sent_at
		FROM sent_emails`
	args := []any{}
	if emailType != "" {
		query += ` WHERE email_type = ?`
		args = append(args, emailType)
	}
	query += ` ORDER BY sent_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sent emails: %w", err)
	}
	defer rows.Close()

	var emails []*models.SentEmail
	for rows.Next() {
		var e models.SentEmail
		var letterID, replyID, deedID, blockReason sql.NullString
		var sentAt int64
		if err := rows.Scan(&e.ID, &e.ChildID, &e.EmailType, &e.Subject, &e.BodyText,
			&letterID, &replyID, &deedID, &e.DeliveryStatus, &blockReason, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan sent email: %w", err)
		}
		e.LetterID = letterID.String
		e.SantaReplyID = replyID.String
		e.DeedID = deedID.String
		e.BlockReason = blockReason.String
		e.SentAt = time.Unix(sentAt, 0)
		emails = append(emails, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sent emails: %w", err)
	}
	return emails, nil
}

func (r *SQLiteRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, family_id, type, title, message, read,
			related_letter_id, related_child_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.FamilyID, n.Type, n.Title, nullString(n.Message), n.Read,
		nullString(n.RelatedLetterID), nullString(n.RelatedChildID), n.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListNotificationsByFamily(ctx context.Context, familyID string) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, family_id, type, title, message, read, related_letter_id, related_child_id, created_at
		FROM notifications WHERE family_id = ? ORDER BY created_at DESC, rowid DESC`, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		var message, letterID, childID sql.NullString
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.FamilyID, &n.Type, &n.Title, &message,
			&n.Read, &letterID, &childID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Message = message.String
		n.RelatedLetterID = letterID.String
		n.RelatedChildID = childID.String
		n.CreatedAt = time.Unix(createdAt, 0)
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}
