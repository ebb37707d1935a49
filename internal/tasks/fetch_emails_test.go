package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"northpole/internal/email"
	"northpole/internal/models"
)

func fetchJob() *models.Job {
	return &models.Job{ID: "job-1", TaskType: models.TaskFetchEmails}
}

func incoming(from, messageID, body string) *email.IncomingMessage {
	return &email.IncomingMessage{
		MessageID:  messageID,
		From:       from,
		Subject:    "To Santa",
		BodyText:   body,
		ReceivedAt: time.Now(),
	}
}

func TestFetchCreatesLetterAndEnqueuesProcessing(t *testing.T) {
	env := newTestEnv(t)
	_, child := env.seedChild(t, "emma@example.com")
	env.mail.inbox = []*email.IncomingMessage{
		incoming("emma@example.com", "m1@mail", "Dear Santa, I wish for a sled."),
	}

	require.NoError(t, HandleFetchEmails(context.Background(), env.deps, fetchJob()))

	letter, err := env.repo.GetLetterByMessageID(context.Background(), "m1@mail")
	require.NoError(t, err)
	require.NotNil(t, letter)
	assert.Equal(t, child.ID, letter.ChildID)
	assert.Equal(t, models.LetterPending, letter.Status)
	assert.Equal(t, "emma@example.com", letter.FromEmail)

	require.Len(t, env.enqueuer.calls, 1)
	assert.Equal(t, models.TaskProcessLetter, env.enqueuer.calls[0].taskType)
	assert.Equal(t, letter.ID, env.enqueuer.calls[0].payload["letter_id"])
}

func TestFetchSkipsUnregisteredSender(t *testing.T) {
	env := newTestEnv(t)
	env.seedChild(t, "emma@example.com")
	env.mail.inbox = []*email.IncomingMessage{
		incoming("stranger@example.com", "m2@mail", "hello"),
	}

	require.NoError(t, HandleFetchEmails(context.Background(), env.deps, fetchJob()))

	letter, err := env.repo.GetLetterByMessageID(context.Background(), "m2@mail")
	require.NoError(t, err)
	assert.Nil(t, letter)
	assert.Empty(t, env.enqueuer.calls)
}

func TestFetchIsIdempotentAcrossRuns(t *testing.T) {
	env := newTestEnv(t)
	env.seedChild(t, "emma@example.com")
	env.mail.inbox = []*email.IncomingMessage{
		incoming("emma@example.com", "m3@mail", "Dear Santa, a puzzle please."),
	}

	// The same batch arriving twice (e.g. a crash between RETR and QUIT)
	// produces exactly one letter and one processing job.
	require.NoError(t, HandleFetchEmails(context.Background(), env.deps, fetchJob()))
	require.NoError(t, HandleFetchEmails(context.Background(), env.deps, fetchJob()))

	assert.Len(t, env.enqueuer.calls, 1)
}

func TestFetchRateLimitsSender(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Limiter = NewRateLimiter(2, time.Hour)
	env.seedChild(t, "emma@example.com")
	env.mail.inbox = []*email.IncomingMessage{
		incoming("emma@example.com", "r1@mail", "first"),
		incoming("emma@example.com", "r2@mail", "second"),
		incoming("emma@example.com", "r3@mail", "third"),
	}

	require.NoError(t, HandleFetchEmails(context.Background(), env.deps, fetchJob()))

	assert.Len(t, env.enqueuer.calls, 2)
	third, err := env.repo.GetLetterByMessageID(context.Background(), "r3@mail")
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestFetchPropagatesTransportError(t *testing.T) {
	env := newTestEnv(t)
	env.mail.fetchErr = assert.AnError

	err := HandleFetchEmails(context.Background(), env.deps, fetchJob())
	assert.ErrorIs(t, err, assert.AnError)
}
