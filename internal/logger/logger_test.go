package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRedactsSensitiveKeys(t *testing.T) {
	out := sanitize([]any{
		"smtp_password", "hunter2",
		"api_key", "sk-secret",
		"email", "emma@example.com",
		"from_email", "emma@example.com",
		"santa_address", "santa@northpole.example",
		"letter_id", "L1",
	})

	assert.Equal(t, []any{
		"smtp_password", "[REDACTED]",
		"api_key", "[REDACTED]",
		"email", "[REDACTED]",
		"from_email", "[REDACTED]",
		"santa_address", "[REDACTED]",
		"letter_id", "L1",
	}, out)
}

func TestSanitizeKeepsHashesAndOddArity(t *testing.T) {
	out := sanitize([]any{"email_hash", "deadbeef", "dangling"})
	assert.Equal(t, []any{"email_hash", "deadbeef", "dangling"}, out)
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "production", ""} {
		log, err := New(mode)
		assert.NoError(t, err, mode)
		assert.NotNil(t, log, mode)
	}
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	log := NewNop()
	log.Debug("d", "k", "v")
	log.Info("i")
	log.Warn("w", "email", "x@y.z")
	log.Error("e", "error", assert.AnError)
	log.With("job_id", "1").Info("chained")
}
