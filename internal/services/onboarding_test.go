package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github-telegram-notifier/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscriptionStore is an in-memory SubscriptionStore.
type fakeSubscriptionStore struct {
	subs      map[string]*models.Subscription
	upsertErr error
	getErr    error
	listErr   error
}

var _ SubscriptionStore = (*fakeSubscriptionStore)(nil)

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{subs: make(map[string]*models.Subscription)}
}

func subKey(chatID int64, repoFullName string) string {
	return fmt.Sprintf("%d#%s", chatID, repoFullName)
}

func (f *fakeSubscriptionStore) UpsertSubscription(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	key := subKey(sub.ChatID, sub.RepoFullName)
	if existing, ok := f.subs[key]; ok && existing.Active() {
		copied := *existing
		return &copied, nil
	}
	copied := *sub
	copied.ID = key
	copied.State = models.SubscriptionStateActive
	f.subs[key] = &copied
	result := copied
	return &result, nil
}

func (f *fakeSubscriptionStore) GetSubscription(_ context.Context, chatID int64, repoFullName string) (*models.Subscription, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	sub, ok := f.subs[subKey(chatID, repoFullName)]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (f *fakeSubscriptionStore) ListSubscriptionsByChat(_ context.Context, chatID int64) ([]*models.Subscription, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var result []*models.Subscription
	for _, sub := range f.subs {
		if sub.ChatID == chatID {
			copied := *sub
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (f *fakeSubscriptionStore) RevokeSubscription(_ context.Context, chatID int64, repoFullName string) error {
	sub, ok := f.subs[subKey(chatID, repoFullName)]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.State = models.SubscriptionStateRevoked
	return nil
}

// fakeRepoChecker answers existence checks from a fixed set.
type fakeRepoChecker struct {
	existing map[string]bool
	err      error
}

var _ RepoChecker = (*fakeRepoChecker)(nil)

func (f *fakeRepoChecker) RepoExists(_ context.Context, owner, name string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.existing[owner+"/"+name], nil
}

// recordingReplyQueue captures outbound replies in order.
type recordingReplyQueue struct {
	replies []models.Notification
	err     error
}

var _ ReplyQueue = (*recordingReplyQueue)(nil)

func (r *recordingReplyQueue) Enqueue(chatID int64, text string) error {
	if r.err != nil {
		return r.err
	}
	r.replies = append(r.replies, models.Notification{ChatID: chatID, Text: text})
	return nil
}

func (r *recordingReplyQueue) last(t *testing.T) models.Notification {
	t.Helper()
	require.NotEmpty(t, r.replies)
	return r.replies[len(r.replies)-1]
}

type onboardingFixture struct {
	svc     *OnboardingService
	subs    *fakeSubscriptionStore
	creds   *fakeCredentialStore
	github  *fakeRepoChecker
	replies *recordingReplyQueue
}

func newOnboardingFixture() *onboardingFixture {
	subs := newFakeSubscriptionStore()
	creds := newFakeCredentialStore()
	github := &fakeRepoChecker{existing: map[string]bool{"agomzy/emple": true, "octocat/hello-world": true}}
	replies := &recordingReplyQueue{}

	svc := NewOnboardingService(subs, NewCredentialService(creds), github, replies, OnboardingConfig{
		MaxAttempts:   3,
		IdleTimeout:   30 * time.Minute,
		PublicBaseURL: "https://bot.example.com",
	})

	return &onboardingFixture{svc: svc, subs: subs, creds: creds, github: github, replies: replies}
}

func (f *onboardingFixture) send(t *testing.T, chatID int64, text string) {
	t.Helper()
	require.NoError(t, f.svc.HandleMessage(context.Background(), chatID, text))
}

// TestOnboarding_FullFlowWithGeneratedKey walks the complete setup
// conversation: greeting, repository, generated key, active subscription.
func TestOnboarding_FullFlowWithGeneratedKey(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	f.send(t, chatID, "Hello")
	assert.Equal(t, msgWelcome, f.replies.last(t).Text)

	f.send(t, chatID, "Agomzy/Emple")
	assert.Equal(t, msgPromptCredential, f.replies.last(t).Text)

	f.send(t, chatID, "generate")
	confirmation := f.replies.last(t).Text
	assert.Contains(t, confirmation, "GitHub Integration Complete")
	assert.Contains(t, confirmation, "`agomzy/emple`")
	assert.Contains(t, confirmation, "https://bot.example.com/webhooks/github?key=")

	sub, err := f.subs.GetSubscription(context.Background(), chatID, "agomzy/emple")
	require.NoError(t, err)
	assert.True(t, sub.Active())
	assert.Equal(t, "agomzy", sub.RepoOwner)
	assert.Equal(t, "emple", sub.RepoName)
	assert.NotEmpty(t, sub.CredentialID)

	issued := f.creds.creds[sub.CredentialID]
	require.NotNil(t, issued)
	assert.Equal(t, chatID, issued.OwnerChatID)
	assert.NotContains(t, confirmation, issued.SecretHash)

	// The conversation folded back to idle.
	f.send(t, chatID, "random text")
	assert.Equal(t, msgIdleHint, f.replies.last(t).Text)
}

// TestOnboarding_FullFlowWithSuppliedKey reuses a previously issued key for a
// second repository in the same chat.
func TestOnboarding_FullFlowWithSuppliedKey(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	_, rawSecret, err := NewCredentialService(f.creds).Issue(context.Background(), chatID)
	require.NoError(t, err)

	f.send(t, chatID, "/start")
	f.send(t, chatID, "octocat/hello-world")
	f.send(t, chatID, rawSecret)

	assert.Contains(t, f.replies.last(t).Text, "access key is valid")

	sub, err := f.subs.GetSubscription(context.Background(), chatID, "octocat/hello-world")
	require.NoError(t, err)
	assert.True(t, sub.Active())
}

func TestOnboarding_KeyOwnedByAnotherChatIsRejected(t *testing.T) {
	f := newOnboardingFixture()

	_, foreignSecret, err := NewCredentialService(f.creds).Issue(context.Background(), 999)
	require.NoError(t, err)

	f.send(t, 42, "/start")
	f.send(t, 42, "octocat/hello-world")
	f.send(t, 42, foreignSecret)

	assert.Equal(t, msgInvalidKey, f.replies.last(t).Text)

	_, err = f.subs.GetSubscription(context.Background(), 42, "octocat/hello-world")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestOnboarding_InvalidRepoFormatReprompts(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	f.send(t, chatID, "/start")

	f.send(t, chatID, "not a repository")
	assert.Equal(t, msgInvalidRepoFormat, f.replies.last(t).Text)

	// Still awaiting the repo: a valid one proceeds.
	f.send(t, chatID, "octocat/hello-world")
	assert.Equal(t, msgPromptCredential, f.replies.last(t).Text)
}

func TestOnboarding_AttemptBudgetResetsConversation(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	f.send(t, chatID, "/start")

	for i := 0; i < 3; i++ {
		f.send(t, chatID, "garbage input")
		assert.Equal(t, msgInvalidRepoFormat, f.replies.last(t).Text)
	}

	f.send(t, chatID, "still garbage")
	assert.Equal(t, msgAttemptsExceeded, f.replies.last(t).Text)

	// Back at idle: repository input no longer advances anything.
	f.send(t, chatID, "octocat/hello-world")
	assert.Equal(t, msgIdleHint, f.replies.last(t).Text)
}

func TestOnboarding_RepoNotFoundCountsAsInvalidInput(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	f.send(t, chatID, "/start")
	f.send(t, chatID, "octocat/no-such-repo")
	assert.Equal(t, msgRepoNotFound, f.replies.last(t).Text)

	f.send(t, chatID, "octocat/hello-world")
	assert.Equal(t, msgPromptCredential, f.replies.last(t).Text)
}

func TestOnboarding_DuplicateActiveSubscriptionShortCircuits(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	f.send(t, chatID, "/start")
	f.send(t, chatID, "octocat/hello-world")
	f.send(t, chatID, "generate")

	before := len(f.subs.subs)

	f.send(t, chatID, "/start")
	f.send(t, chatID, "octocat/hello-world")
	assert.Equal(t, fmt.Sprintf(msgAlreadySubscribed, "octocat/hello-world"), f.replies.last(t).Text)
	assert.Len(t, f.subs.subs, before)

	// The conversation still awaits a repository, so a different one works.
	f.send(t, chatID, "agomzy/emple")
	assert.Equal(t, msgPromptCredential, f.replies.last(t).Text)
}

func TestOnboarding_DuplicateRepoRecognizedWhileIdle(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	f.send(t, chatID, "/start")
	f.send(t, chatID, "octocat/hello-world")
	f.send(t, chatID, "generate")

	// No conversation in progress, yet a known repo still gets the
	// informational reply instead of the generic hint.
	f.send(t, chatID, "octocat/hello-world")
	assert.Equal(t, fmt.Sprintf(msgAlreadySubscribed, "octocat/hello-world"), f.replies.last(t).Text)
}

// TestOnboarding_StorageFailureKeepsStep verifies that an infrastructure
// failure asks the user to retry without losing conversation position.
func TestOnboarding_StorageFailureKeepsStep(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	f.send(t, chatID, "/start")
	f.send(t, chatID, "octocat/hello-world")

	f.subs.upsertErr = errors.New("firestore down")
	err := f.svc.HandleMessage(context.Background(), chatID, "generate")
	require.Error(t, err)
	assert.Equal(t, msgTryAgain, f.replies.last(t).Text)

	// Replaying the same input after recovery completes the flow.
	f.subs.upsertErr = nil
	f.send(t, chatID, "generate")
	assert.Contains(t, f.replies.last(t).Text, "GitHub Integration Complete")
}

func TestOnboarding_CancelAbandonsSetup(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	f.send(t, chatID, "/start")
	f.send(t, chatID, "octocat/hello-world")
	f.send(t, chatID, "/cancel")
	assert.Equal(t, msgCancelled, f.replies.last(t).Text)

	f.send(t, chatID, "generate")
	assert.Equal(t, msgIdleHint, f.replies.last(t).Text)
}

func TestOnboarding_ListSubscriptions(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	f.send(t, chatID, "/list")
	assert.Equal(t, msgNoSubscriptions, f.replies.last(t).Text)

	f.send(t, chatID, "/start")
	f.send(t, chatID, "octocat/hello-world")
	f.send(t, chatID, "generate")

	f.send(t, chatID, "/list")
	listing := f.replies.last(t).Text
	assert.Contains(t, listing, "octocat/hello-world")
	assert.Contains(t, listing, "active")
}

func TestOnboarding_Unsubscribe(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	f.send(t, chatID, "/start")
	f.send(t, chatID, "octocat/hello-world")
	f.send(t, chatID, "generate")

	f.send(t, chatID, "/unsubscribe")
	assert.Equal(t, msgUnsubscribeUsage, f.replies.last(t).Text)

	f.send(t, chatID, "/unsubscribe agomzy/emple")
	assert.Equal(t, fmt.Sprintf(msgNotSubscribed, "agomzy/emple"), f.replies.last(t).Text)

	f.send(t, chatID, "/unsubscribe octocat/hello-world")
	assert.Equal(t, fmt.Sprintf(msgUnsubscribed, "octocat/hello-world"), f.replies.last(t).Text)

	sub, err := f.subs.GetSubscription(context.Background(), chatID, "octocat/hello-world")
	require.NoError(t, err)
	assert.False(t, sub.Active())
}

func TestOnboarding_ChatsProgressIndependently(t *testing.T) {
	f := newOnboardingFixture()

	f.send(t, 1, "/start")
	f.send(t, 2, "/start")

	f.send(t, 1, "octocat/hello-world")
	f.send(t, 2, "agomzy/emple")

	f.send(t, 1, "generate")
	f.send(t, 2, "generate")

	sub1, err := f.subs.GetSubscription(context.Background(), 1, "octocat/hello-world")
	require.NoError(t, err)
	assert.True(t, sub1.Active())

	sub2, err := f.subs.GetSubscription(context.Background(), 2, "agomzy/emple")
	require.NoError(t, err)
	assert.True(t, sub2.Active())

	assert.NotEqual(t, sub1.CredentialID, sub2.CredentialID)
}

func TestOnboarding_EvictIdleConversations(t *testing.T) {
	f := newOnboardingFixture()

	f.send(t, 1, "/start")
	f.send(t, 2, "/start")

	evicted := f.svc.evictIdle(time.Now())
	assert.Equal(t, 0, evicted)

	evicted = f.svc.evictIdle(time.Now().Add(time.Hour))
	assert.Equal(t, 2, evicted)

	// Eviction loses only the in-memory position; the chat starts over.
	f.send(t, 1, "hi")
	assert.Equal(t, msgWelcome, f.replies.last(t).Text)
}

func TestOnboarding_RepoCheckFailureAsksForRetry(t *testing.T) {
	f := newOnboardingFixture()
	const chatID int64 = 42

	f.send(t, chatID, "/start")

	f.github.err = errors.New("github unreachable")
	err := f.svc.HandleMessage(context.Background(), chatID, "octocat/hello-world")
	require.Error(t, err)
	assert.Equal(t, msgTryAgain, f.replies.last(t).Text)

	f.github.err = nil
	f.send(t, chatID, "octocat/hello-world")
	assert.Equal(t, msgPromptCredential, f.replies.last(t).Text)
}
