package models

import "time"

// LetterStatus tracks pipeline progress for one inbound letter
type LetterStatus string

const (
	LetterPending    LetterStatus = "pending"
	LetterProcessing LetterStatus = "processing"
	LetterProcessed  LetterStatus = "processed"
	LetterFailed     LetterStatus = "failed"
)

// WishItem statuses set by the parent-facing review flow
const (
	WishPending  = "pending"
	WishApproved = "approved"
	WishDenied   = "denied"
)

// DeliveryStatus of a generated email
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryBlocked DeliveryStatus = "blocked"
)

// Email type labels recorded on SentEmail audit rows and passed to the
// safety classifier.
const (
	EmailTypeLetterReply = "letter_reply"
	EmailTypeDeedEmail   = "deed_email"
	EmailTypeDeedCongrat = "deed_congrats"
)

// Notification types surfaced to parents
const (
	NotifyNewLetter      = "new_letter"
	NotifyModerationFlag = "moderation_flag"
)

// Family is the tenant unit with moderation settings
type Family struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Language             string    `json:"language"`
	ModerationStrictness string    `json:"moderation_strictness"` // low/medium/high
	CreatedAt            time.Time `json:"created_at"`
}

// Child is a registered child who can email Santa. Only a hash of the
// child's address is stored.
type Child struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"family_id"`
	Name      string    `json:"name"`
	EmailHash string    `json:"email_hash"`
	Country   string    `json:"country,omitempty"`
	BirthYear int       `json:"birth_year,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Letter is an inbound email mapped to a registered child
type Letter struct {
	ID           string       `json:"id"`
	ChildID      string       `json:"child_id"`
	Year         int          `json:"year"`
	Subject      string       `json:"subject,omitempty"`
	BodyText     string       `json:"body_text"`
	BodyHTML     string       `json:"body_html,omitempty"`
	ReceivedAt   time.Time    `json:"received_at"`
	MessageID    string       `json:"message_id,omitempty"`
	FromEmail    string       `json:"from_email,omitempty"`
	Status       LetterStatus `json:"status"`
	ProcessedAt  *time.Time   `json:"processed_at,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// WishItem is an extracted gift request, owned by a letter
type WishItem struct {
	ID             string    `json:"id"`
	LetterID       string    `json:"letter_id"`
	RawText        string    `json:"raw_text"`
	NormalizedName string    `json:"normalized_name,omitempty"`
	Category       string    `json:"category,omitempty"`
	Status         string    `json:"status"`
	DenialReason   string    `json:"denial_reason,omitempty"`
	EstimatedPrice float64   `json:"estimated_price,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	ProductURL     string    `json:"product_url,omitempty"`
	ProductImage   string    `json:"product_image_url,omitempty"`
	ProductDesc    string    `json:"product_description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DisplayName prefers the normalized product name over the raw mention.
func (w *WishItem) DisplayName() string {
	if w.NormalizedName != "" {
		return w.NormalizedName
	}
	return w.RawText
}

// ModerationFlag is a child-safety concern surfaced from a letter
type ModerationFlag struct {
	ID          string    `json:"id"`
	LetterID    string    `json:"letter_id"`
	FlagType    string    `json:"flag_type"`
	Severity    string    `json:"severity"`
	Excerpt     string    `json:"excerpt,omitempty"`
	Confidence  float64   `json:"ai_confidence,omitempty"`
	Explanation string    `json:"ai_explanation,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SantaReply is the generated response to a letter, one-to-one
type SantaReply struct {
	ID             string         `json:"id"`
	LetterID       string         `json:"letter_id"`
	BodyText       string         `json:"body_text"`
	BodyHTML       string         `json:"body_html,omitempty"`
	SuggestedDeed  string         `json:"suggested_deed,omitempty"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	DeliveryError  string         `json:"delivery_error,omitempty"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// GoodDeed is a suggested or tracked kindness task tied to a child
type GoodDeed struct {
	ID                  string     `json:"id"`
	ChildID             string     `json:"child_id"`
	Description         string     `json:"description"`
	Completed           bool       `json:"completed"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	SuggestedInReplyID  string     `json:"suggested_in_reply_id,omitempty"`
	AcknowledgedReplyID string     `json:"acknowledged_in_reply_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// SentEmail is an append-only audit record of every dispatch attempt
type SentEmail struct {
	ID             string         `json:"id"`
	ChildID        string         `json:"child_id"`
	EmailType      string         `json:"email_type"`
	Subject        string         `json:"subject"`
	BodyText       string         `json:"body_text"`
	LetterID       string         `json:"letter_id,omitempty"`
	SantaReplyID   string         `json:"santa_reply_id,omitempty"`
	DeedID         string         `json:"deed_id,omitempty"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	BlockReason    string         `json:"block_reason,omitempty"`
	SentAt         time.Time      `json:"sent_at"`
}

// Notification is a parent-facing alert row
type Notification struct {
	ID              string    `json:"id"`
	FamilyID        string    `json:"family_id"`
	Type            string    `json:"type"`
	Title           string    `json:"title"`
	Message         string    `json:"message,omitempty"`
	Read            bool      `json:"read"`
	RelatedLetterID string    `json:"related_letter_id,omitempty"`
	RelatedChildID  string    `json:"related_child_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
