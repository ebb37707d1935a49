package tasks

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"northpole/internal/email"
	"northpole/internal/llm"
	"northpole/internal/logger"
	"northpole/internal/metrics"
	"northpole/internal/models"
	"northpole/internal/notify"
	"northpole/internal/repository"
)

// stubLLM returns canned answers and records safety-check calls.
type stubLLM struct {
	wishes    []*llm.ExtractedWish
	flags     []*llm.ContentFlag
	reply     *llm.GeneratedReply
	deedEmail *llm.GeneratedEmail
	verdict   *llm.SafetyVerdict
	product   *llm.ProductInfo

	extractErr  error
	classifyErr error
	replyErr    error
	safetyErr   error

	safetyCalls int
	replyCalls  int
	searchCalls int

	extractName  string
	classifyName string
	lastReplyCtx *llm.ReplyContext
}

func (s *stubLLM) ExtractWishItems(ctx context.Context, childName, letterText string) ([]*llm.ExtractedWish, error) {
	s.extractName = childName
	return s.wishes, s.extractErr
}

func (s *stubLLM) ClassifyContent(ctx context.Context, childName, letterText, strictness string) ([]*llm.ContentFlag, error) {
	s.classifyName = childName
	return s.flags, s.classifyErr
}

func (s *stubLLM) GenerateReply(ctx context.Context, rc *llm.ReplyContext) (*llm.GeneratedReply, error) {
	s.replyCalls++
	s.lastReplyCtx = rc
	if s.replyErr != nil {
		return nil, s.replyErr
	}
	if s.reply != nil {
		return s.reply, nil
	}
	return &llm.GeneratedReply{BodyText: "Ho ho ho, " + rc.ChildName + "!"}, nil
}

func (s *stubLLM) GenerateDeedEmail(ctx context.Context, deedDescription, childName string, congrats bool) (*llm.GeneratedEmail, error) {
	if s.deedEmail != nil {
		return s.deedEmail, nil
	}
	return &llm.GeneratedEmail{Subject: "A little mission", BodyText: "Try this: " + deedDescription}, nil
}

func (s *stubLLM) CheckEmailSafety(ctx context.Context, content, emailType, childName string) (*llm.SafetyVerdict, error) {
	s.safetyCalls++
	if s.safetyErr != nil {
		return nil, s.safetyErr
	}
	if s.verdict != nil {
		return s.verdict, nil
	}
	return &llm.SafetyVerdict{IsSafe: true, Severity: "none", Recommendation: "APPROVE"}, nil
}

func (s *stubLLM) SearchProduct(ctx context.Context, itemName, country string) (*llm.ProductInfo, error) {
	s.searchCalls++
	if s.product != nil {
		return s.product, nil
	}
	return nil, context.Canceled
}

// stubTransport serves a fixed inbox and records everything sent.
type stubTransport struct {
	inbox    []*email.IncomingMessage
	fetchErr error
	sent     []*email.OutgoingMessage
	sendErr  error
}

func (s *stubTransport) FetchNewMessages(ctx context.Context) ([]*email.IncomingMessage, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.inbox, nil
}

func (s *stubTransport) Send(ctx context.Context, msg *email.OutgoingMessage) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, msg)
	return nil
}

type enqueuedCall struct {
	taskType string
	payload  map[string]any
	priority int
}

// stubEnqueuer records enqueue calls instead of writing to the queue.
type stubEnqueuer struct {
	calls []enqueuedCall
}

func (s *stubEnqueuer) Enqueue(ctx context.Context, taskType string, payload map[string]any, priority int) (*models.Job, error) {
	s.calls = append(s.calls, enqueuedCall{taskType: taskType, payload: payload, priority: priority})
	return &models.Job{ID: "stub", TaskType: taskType, Payload: payload, Priority: priority}, nil
}

type testEnv struct {
	deps     *Deps
	repo     *repository.SQLiteRepository
	llm      *stubLLM
	mail     *stubTransport
	enqueuer *stubEnqueuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	log := logger.NewNop()
	env := &testEnv{
		repo:     repo,
		llm:      &stubLLM{},
		mail:     &stubTransport{},
		enqueuer: &stubEnqueuer{},
	}
	env.deps = &Deps{
		Entities:           repo,
		Enqueuer:           env.enqueuer,
		Mail:               env.mail,
		LLM:                env.llm,
		Notifier:           notify.NewNotifier(repo, log),
		Metrics:            metrics.NewCollector(),
		Limiter:            NewRateLimiter(100, time.Hour),
		Log:                log,
		SafetyCheckEnabled: true,
	}
	return env
}

func (env *testEnv) seedChild(t *testing.T, emailAddr string) (*models.Family, *models.Child) {
	t.Helper()
	ctx := context.Background()
	family := &models.Family{Name: "Andersen"}
	require.NoError(t, env.repo.CreateFamily(ctx, family))
	child := &models.Child{
		FamilyID:  family.ID,
		Name:      "Emma",
		EmailHash: email.HashAddress(emailAddr),
		BirthYear: 2018,
	}
	require.NoError(t, env.repo.CreateChild(ctx, child))
	return family, child
}

func (env *testEnv) seedLetter(t *testing.T, childID string) *models.Letter {
	t.Helper()
	letter := &models.Letter{
		ChildID:    childID,
		Year:       2026,
		BodyText:   "Dear Santa, I would love a red bicycle. I promise I was good!",
		ReceivedAt: time.Now(),
		FromEmail:  "emma@example.com",
	}
	require.NoError(t, env.repo.CreateLetter(context.Background(), letter))
	return letter
}
