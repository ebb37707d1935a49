package email

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// IncomingMessage is one email pulled from the inbox, already decoded.
type IncomingMessage struct {
	MessageID  string
	From       string
	Subject    string
	BodyText   string
	BodyHTML   string
	ReceivedAt time.Time
}

// OutgoingMessage is an email ready for dispatch.
type OutgoingMessage struct {
	To       string
	Subject  string
	BodyText string
	BodyHTML string
}

// Transport moves mail in and out. The production implementation speaks
// POP3 and SMTP against the configured mailbox; tests substitute stubs.
type Transport interface {
	// FetchNewMessages downloads and deletes all messages waiting in the
	// inbox. Message IDs are preserved so the caller can deduplicate.
	FetchNewMessages(ctx context.Context) ([]*IncomingMessage, error)

	// Send dispatches one outgoing message.
	Send(ctx context.Context, msg *OutgoingMessage) error
}

// HashAddress maps an email address to its stored form. Addresses are
// case-insensitive for our purposes, so normalize before hashing.
func HashAddress(addr string) string {
	normalized := strings.ToLower(strings.TrimSpace(addr))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
