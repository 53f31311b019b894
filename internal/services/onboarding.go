package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github-telegram-notifier/internal/log"
	"github-telegram-notifier/internal/models"
)

// SubscriptionStore is the registry surface the onboarding machine needs.
// *FirestoreService satisfies it.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	GetSubscription(ctx context.Context, chatID int64, repoFullName string) (*models.Subscription, error)
	ListSubscriptionsByChat(ctx context.Context, chatID int64) ([]*models.Subscription, error)
	RevokeSubscription(ctx context.Context, chatID int64, repoFullName string) error
}

// CredentialManager issues and validates access keys. *CredentialService
// satisfies it.
type CredentialManager interface {
	Issue(ctx context.Context, ownerChatID int64) (credentialID, rawSecret string, err error)
	Validate(ctx context.Context, candidate string) (*models.Credential, error)
}

// RepoChecker answers repository existence checks. *GitHubService satisfies it.
type RepoChecker interface {
	RepoExists(ctx context.Context, owner, name string) (bool, error)
}

// ReplyQueue receives the outbound conversational replies. *Dispatcher
// satisfies it.
type ReplyQueue interface {
	Enqueue(chatID int64, text string) error
}

// OnboardingConfig holds the conversation knobs.
type OnboardingConfig struct {
	MaxAttempts   int           // consecutive invalid inputs tolerated before reset
	IdleTimeout   time.Duration // GC horizon for stale conversations
	PublicBaseURL string        // used in webhook setup instructions
}

// conversation pairs a chat's state with its own lock. Transitions for one
// chat must never interleave; the per-conversation mutex serializes them
// without blocking unrelated chats.
type conversation struct {
	mu    sync.Mutex
	state models.ConversationContext
}

// OnboardingService drives the per-chat setup conversation from greeting to
// an active subscription.
type OnboardingService struct {
	subs    SubscriptionStore
	creds   CredentialManager
	github  RepoChecker
	replies ReplyQueue
	cfg     OnboardingConfig

	mu            sync.Mutex
	conversations map[int64]*conversation
}

// NewOnboardingService creates an OnboardingService.
func NewOnboardingService(
	subs SubscriptionStore,
	creds CredentialManager,
	github RepoChecker,
	replies ReplyQueue,
	cfg OnboardingConfig,
) *OnboardingService {
	return &OnboardingService{
		subs:          subs,
		creds:         creds,
		github:        github,
		replies:       replies,
		cfg:           cfg,
		conversations: make(map[int64]*conversation),
	}
}

// HandleMessage processes one inbound chat message and enqueues any replies.
// All input failures are converted to friendly re-prompts; the returned error
// reports infrastructure trouble only, after the user has already been asked
// to retry.
func (s *OnboardingService) HandleMessage(ctx context.Context, chatID int64, text string) error {
	conv := s.conversation(chatID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	conv.state.LastActivityAt = time.Now()
	in := classifyMessage(text)

	// Commands work from any conversation state.
	switch in.kind {
	case intentGreeting:
		return s.startOnboarding(ctx, conv)
	case intentList:
		return s.listSubscriptions(ctx, conv)
	case intentUnsubscribe:
		return s.unsubscribe(ctx, conv, in)
	case intentCancel:
		conv.state.Step = models.StepIdle
		conv.state.PendingRepoOwner = ""
		conv.state.PendingRepoName = ""
		conv.state.AttemptCount = 0
		return s.reply(conv.state.ChatID, msgCancelled)
	case intentHelp:
		return s.reply(conv.state.ChatID, msgHelp)
	}

	switch conv.state.Step {
	case models.StepAwaitingRepo:
		return s.handleRepoInput(ctx, conv, in)
	case models.StepAwaitingCredential:
		return s.handleCredentialInput(ctx, conv, in, text)
	default:
		// A repo the chat already follows gets an informational reply even
		// outside an onboarding conversation.
		if in.kind == intentRepo {
			repoFullName := in.repoOwner + "/" + in.repoName
			existing, err := s.subs.GetSubscription(ctx, conv.state.ChatID, repoFullName)
			if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
				return s.infraFailure(ctx, conv, fmt.Errorf("duplicate check failed: %w", err))
			}
			if existing != nil && existing.Active() {
				return s.reply(conv.state.ChatID, fmt.Sprintf(msgAlreadySubscribed, repoFullName))
			}
		}
		return s.reply(conv.state.ChatID, msgIdleHint)
	}
}

// conversation returns the chat's conversation, creating it at idle on first
// contact.
func (s *OnboardingService) conversation(chatID int64) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[chatID]
	if !ok {
		conv = &conversation{state: models.ConversationContext{
			ChatID: chatID,
			Step:   models.StepIdle,
		}}
		s.conversations[chatID] = conv
	}
	return conv
}

func (s *OnboardingService) startOnboarding(ctx context.Context, conv *conversation) error {
	conv.state.Step = models.StepAwaitingRepo
	conv.state.PendingRepoOwner = ""
	conv.state.PendingRepoName = ""
	conv.state.AttemptCount = 0

	log.Info(ctx, "Onboarding started", "chat_id", conv.state.ChatID)
	return s.reply(conv.state.ChatID, msgWelcome)
}

// handleRepoInput processes input while a repository name is expected.
func (s *OnboardingService) handleRepoInput(ctx context.Context, conv *conversation, in intent) error {
	if in.kind != intentRepo {
		return s.invalidInput(ctx, conv, msgInvalidRepoFormat)
	}

	repoFullName := in.repoOwner + "/" + in.repoName

	// A repo the chat already follows short-circuits to an informational
	// reply: no second row, no state change.
	existing, err := s.subs.GetSubscription(ctx, conv.state.ChatID, repoFullName)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return s.infraFailure(ctx, conv, fmt.Errorf("duplicate check failed: %w", err))
	}
	if existing != nil && existing.Active() {
		return s.reply(conv.state.ChatID, fmt.Sprintf(msgAlreadySubscribed, repoFullName))
	}

	exists, err := s.github.RepoExists(ctx, in.repoOwner, in.repoName)
	if err != nil {
		return s.infraFailure(ctx, conv, fmt.Errorf("repository existence check failed: %w", err))
	}
	if !exists {
		return s.invalidInput(ctx, conv, msgRepoNotFound)
	}

	conv.state.PendingRepoOwner = in.repoOwner
	conv.state.PendingRepoName = in.repoName
	conv.state.Step = models.StepAwaitingCredential
	conv.state.AttemptCount = 0

	log.Info(ctx, "Repository accepted for onboarding",
		"chat_id", conv.state.ChatID,
		"repo", repoFullName,
	)
	return s.reply(conv.state.ChatID, msgPromptCredential)
}

// handleCredentialInput processes input while an access key (or a generation
// request) is expected.
func (s *OnboardingService) handleCredentialInput(
	ctx context.Context, conv *conversation, in intent, text string,
) error {
	if in.kind == intentGenerate {
		return s.completeWithFreshCredential(ctx, conv)
	}
	return s.completeWithSuppliedKey(ctx, conv, text)
}

func (s *OnboardingService) completeWithFreshCredential(ctx context.Context, conv *conversation) error {
	credentialID, rawSecret, err := s.creds.Issue(ctx, conv.state.ChatID)
	if err != nil {
		return s.infraFailure(ctx, conv, fmt.Errorf("credential issuance failed: %w", err))
	}

	if err := s.activateSubscription(ctx, conv, credentialID); err != nil {
		// The fresh credential stays valid; the user can retry with it or
		// generate again without harm.
		return s.infraFailure(ctx, conv, err)
	}

	repo := conv.state.PendingRepoFullName()
	confirmation := fmt.Sprintf(msgIntegrationComplete,
		repo, rawSecret, s.cfg.PublicBaseURL, rawSecret, repo)

	s.finishOnboarding(ctx, conv)
	return s.reply(conv.state.ChatID, confirmation)
}

func (s *OnboardingService) completeWithSuppliedKey(ctx context.Context, conv *conversation, candidate string) error {
	cred, err := s.creds.Validate(ctx, candidate)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return s.invalidInput(ctx, conv, msgInvalidKey)
		}
		return s.infraFailure(ctx, conv, fmt.Errorf("credential validation failed: %w", err))
	}

	// A key issued to another chat is as invalid as an unknown one, and the
	// reply does not distinguish the two cases.
	if cred.OwnerChatID != conv.state.ChatID {
		return s.invalidInput(ctx, conv, msgInvalidKey)
	}

	if err := s.activateSubscription(ctx, conv, cred.ID); err != nil {
		return s.infraFailure(ctx, conv, err)
	}

	confirmation := fmt.Sprintf(msgKeyAccepted, conv.state.PendingRepoFullName(), s.cfg.PublicBaseURL)

	s.finishOnboarding(ctx, conv)
	return s.reply(conv.state.ChatID, confirmation)
}

// activateSubscription upserts the (chat, pending repo) subscription as
// active. The upsert is idempotent, so a retried conversation turn cannot
// create a second row.
func (s *OnboardingService) activateSubscription(ctx context.Context, conv *conversation, credentialID string) error {
	sub := &models.Subscription{
		ChatID:       conv.state.ChatID,
		RepoOwner:    conv.state.PendingRepoOwner,
		RepoName:     conv.state.PendingRepoName,
		RepoFullName: conv.state.PendingRepoFullName(),
		CredentialID: credentialID,
		State:        models.SubscriptionStateActive,
	}

	if _, err := s.subs.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("subscription activation failed: %w", err)
	}
	return nil
}

// finishOnboarding folds the completed conversation back to idle so the chat
// can onboard additional repositories later.
func (s *OnboardingService) finishOnboarding(ctx context.Context, conv *conversation) {
	log.Info(ctx, "Onboarding completed",
		"chat_id", conv.state.ChatID,
		"repo", conv.state.PendingRepoFullName(),
	)
	conv.state.Step = models.StepIdle
	conv.state.PendingRepoOwner = ""
	conv.state.PendingRepoName = ""
	conv.state.AttemptCount = 0
}

// invalidInput counts one malformed input. Within the attempt budget the user
// is re-prompted in place; past it the conversation resets to idle with an
// explanation instead of looping forever.
func (s *OnboardingService) invalidInput(ctx context.Context, conv *conversation, prompt string) error {
	if conv.state.AttemptCount >= s.cfg.MaxAttempts {
		log.Info(ctx, "Onboarding reset after too many invalid inputs",
			"chat_id", conv.state.ChatID,
			"step", string(conv.state.Step),
			"attempts", conv.state.AttemptCount,
		)
		conv.state.Step = models.StepIdle
		conv.state.PendingRepoOwner = ""
		conv.state.PendingRepoName = ""
		conv.state.AttemptCount = 0
		return s.reply(conv.state.ChatID, msgAttemptsExceeded)
	}

	conv.state.AttemptCount++
	return s.reply(conv.state.ChatID, prompt)
}

// infraFailure asks the user to retry the same input without advancing the
// conversation, then surfaces the underlying error to the caller. Registry
// writes are idempotent, so replaying the input is safe.
func (s *OnboardingService) infraFailure(ctx context.Context, conv *conversation, err error) error {
	log.Error(ctx, "Onboarding step failed",
		"error", err,
		"chat_id", conv.state.ChatID,
		"step", string(conv.state.Step),
	)
	if replyErr := s.reply(conv.state.ChatID, msgTryAgain); replyErr != nil {
		return errors.Join(err, replyErr)
	}
	return err
}

func (s *OnboardingService) listSubscriptions(ctx context.Context, conv *conversation) error {
	subs, err := s.subs.ListSubscriptionsByChat(ctx, conv.state.ChatID)
	if err != nil {
		return s.infraFailure(ctx, conv, fmt.Errorf("subscription listing failed: %w", err))
	}
	return s.reply(conv.state.ChatID, renderSubscriptionList(subs))
}

func (s *OnboardingService) unsubscribe(ctx context.Context, conv *conversation, in intent) error {
	if in.repoOwner == "" {
		return s.reply(conv.state.ChatID, msgUnsubscribeUsage)
	}

	repoFullName := in.repoOwner + "/" + in.repoName
	err := s.subs.RevokeSubscription(ctx, conv.state.ChatID, repoFullName)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return s.reply(conv.state.ChatID, fmt.Sprintf(msgNotSubscribed, repoFullName))
		}
		return s.infraFailure(ctx, conv, fmt.Errorf("unsubscribe failed: %w", err))
	}

	log.Info(ctx, "Subscription revoked by user",
		"chat_id", conv.state.ChatID,
		"repo", repoFullName,
	)
	return s.reply(conv.state.ChatID, fmt.Sprintf(msgUnsubscribed, repoFullName))
}

func (s *OnboardingService) reply(chatID int64, text string) error {
	if err := s.replies.Enqueue(chatID, text); err != nil {
		return fmt.Errorf("failed to queue reply for chat %d: %w", chatID, err)
	}
	return nil
}

// StartJanitor launches a background loop that evicts conversations idle past
// the configured timeout. It stops when ctx is cancelled.
func (s *OnboardingService) StartJanitor(ctx context.Context) {
	interval := s.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evicted := s.evictIdle(time.Now())
				if evicted > 0 {
					log.Debug(ctx, "Evicted idle conversations", "count", evicted)
				}
			}
		}
	}()
}

// evictIdle drops conversations whose last activity is older than the idle
// timeout. Conversations mid-transition hold their lock and are skipped until
// the next sweep.
func (s *OnboardingService) evictIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for chatID, conv := range s.conversations {
		if !conv.mu.TryLock() {
			continue
		}
		idle := now.Sub(conv.state.LastActivityAt) > s.cfg.IdleTimeout
		conv.mu.Unlock()
		if idle {
			delete(s.conversations, chatID)
			evicted++
		}
	}
	return evicted
}
