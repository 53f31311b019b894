package services

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github-telegram-notifier/internal/log"
	"github-telegram-notifier/internal/models"
)

var (
	// ErrEventAuthFailed rejects an inbound event whose presented credential
	// matches none of the repository's live subscriptions. Deliberately
	// carries no detail about which part of the check failed.
	ErrEventAuthFailed = errors.New("event authentication failed")

	// ErrMalformedPayload rejects an inbound event missing required fields.
	ErrMalformedPayload = errors.New("malformed event payload")
)

// SubscriptionFinder is the registry surface the router needs.
// *FirestoreService satisfies it.
type SubscriptionFinder interface {
	ListSubscriptionsByRepo(ctx context.Context, repoFullName string) ([]*models.Subscription, error)
}

// CredentialReader resolves credential references during event
// authentication. *FirestoreService satisfies it.
type CredentialReader interface {
	GetCredential(ctx context.Context, credentialID string) (*models.Credential, error)
}

// EventRouter authenticates inbound repository events and resolves them to
// the subscribed chats.
type EventRouter struct {
	subs  SubscriptionFinder
	creds CredentialReader
}

// NewEventRouter creates an EventRouter.
func NewEventRouter(subs SubscriptionFinder, creds CredentialReader) *EventRouter {
	return &EventRouter{subs: subs, creds: creds}
}

// Route runs the full inbound pipeline: authenticate, parse, resolve, render.
// A repository with no live subscribers yields zero notifications and no
// error; that is a normal condition.
func (r *EventRouter) Route(
	ctx context.Context, eventType string, payload []byte, candidateKey string,
) ([]models.Notification, error) {
	if _, err := r.Authenticate(ctx, payload, candidateKey); err != nil {
		return nil, err
	}
	return r.Resolve(ctx, eventType, payload)
}

// Authenticate verifies the presented credential against the live
// subscriptions of the repository the event claims to be from. It returns the
// number of live subscribers: zero with a nil error means the event should be
// dropped silently without authentication (a revoked or unknown repository
// must be indistinguishable from an unsubscribed one).
func (r *EventRouter) Authenticate(ctx context.Context, payload []byte, candidateKey string) (int, error) {
	repoFullName, err := parseRepoFullName(payload)
	if err != nil {
		return 0, err
	}

	live, hashes, err := r.liveSubscriptions(ctx, repoFullName)
	if err != nil {
		return 0, err
	}
	if len(live) == 0 {
		log.Debug(ctx, "Event for repository with no live subscribers", "repo", repoFullName)
		return 0, nil
	}

	if candidateKey == "" {
		return 0, ErrEventAuthFailed
	}

	candidateHash := []byte(HashSecret(candidateKey))
	matched := false
	for _, hash := range hashes {
		// No early exit: comparison work is uniform across candidates.
		if hmac.Equal([]byte(hash), candidateHash) {
			matched = true
		}
	}
	if !matched {
		return 0, ErrEventAuthFailed
	}

	return len(live), nil
}

// Resolve looks up the live subscribers for an already-authenticated event
// and renders one notification per chat. Rendering is deterministic, so
// Resolve is safe to replay from an async retry.
func (r *EventRouter) Resolve(ctx context.Context, eventType string, payload []byte) ([]models.Notification, error) {
	repoFullName, err := parseRepoFullName(payload)
	if err != nil {
		return nil, err
	}

	live, _, err := r.liveSubscriptions(ctx, repoFullName)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, nil
	}

	text, err := renderEvent(eventType, repoFullName, payload)
	if err != nil {
		return nil, err
	}

	notifications := make([]models.Notification, 0, len(live))
	for _, sub := range live {
		notifications = append(notifications, models.Notification{
			ChatID: sub.ChatID,
			Text:   text,
		})
	}

	log.Info(ctx, "Event resolved to subscribers",
		"repo", repoFullName,
		"event_type", eventType,
		"subscriber_count", len(notifications),
	)

	return notifications, nil
}

// liveSubscriptions returns the repository's active subscriptions whose
// credential has not been revoked, together with those credentials' secret
// hashes. A subscription with a revoked credential is invalid for new events
// but is not deleted.
func (r *EventRouter) liveSubscriptions(
	ctx context.Context, repoFullName string,
) ([]*models.Subscription, []string, error) {
	subs, err := r.subs.ListSubscriptionsByRepo(ctx, repoFullName)
	if err != nil {
		return nil, nil, fmt.Errorf("subscription lookup failed for %s: %w", repoFullName, err)
	}

	var live []*models.Subscription
	var hashes []string
	for _, sub := range subs {
		cred, err := r.creds.GetCredential(ctx, sub.CredentialID)
		if err != nil {
			if errors.Is(err, ErrCredentialNotFound) {
				log.Warn(ctx, "Subscription references missing credential",
					"chat_id", sub.ChatID,
					"repo", sub.RepoFullName,
					"credential_id", sub.CredentialID,
				)
				continue
			}
			return nil, nil, fmt.Errorf("credential lookup failed: %w", err)
		}
		if cred.Revoked() {
			continue
		}
		live = append(live, sub)
		hashes = append(hashes, cred.SecretHash)
	}

	return live, hashes, nil
}

// parseRepoFullName extracts the required repository identity from an event
// payload. Repository names are lowercased, matching how the registry stores
// them.
func parseRepoFullName(payload []byte) (string, error) {
	var envelope struct {
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if envelope.Repository.FullName == "" {
		return "", fmt.Errorf("%w: missing repository full name", ErrMalformedPayload)
	}

	fullName := strings.ToLower(envelope.Repository.FullName)
	if _, _, err := models.SplitRepoFullName(fullName); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return fullName, nil
}
