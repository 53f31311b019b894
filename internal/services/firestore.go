// Package services provides the business logic of the notifier: the
// subscription registry, credential management, onboarding conversations,
// event routing and outbound delivery.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"github-telegram-notifier/internal/log"
	"github-telegram-notifier/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors for not found cases.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrCredentialNotFound   = errors.New("credential not found")
)

const (
	subscriptionsCollection = "subscriptions"
	credentialsCollection   = "credentials"
)

// FirestoreService provides database operations for Firestore. It backs both
// the subscription registry and the credential store.
type FirestoreService struct {
	client *firestore.Client
}

// NewFirestoreService creates a new FirestoreService with the provided client.
func NewFirestoreService(client *firestore.Client) *FirestoreService {
	return &FirestoreService{client: client}
}

// subscriptionDocID builds the document ID for a subscription. The composite
// key enforces the at-most-one-row-per-(chat, repo) invariant structurally.
// Forward slashes are not allowed in document IDs, so the repo name is URL
// encoded.
func subscriptionDocID(chatID int64, repoFullName string) string {
	return fmt.Sprintf("%d#%s", chatID, url.QueryEscape(repoFullName))
}

// UpsertSubscription creates or reactivates a subscription. If an identical
// active subscription already exists the stored row is returned unchanged,
// which makes the call safe to replay from onboarding and network retries.
func (fs *FirestoreService) UpsertSubscription(
	ctx context.Context, sub *models.Subscription,
) (*models.Subscription, error) {
	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("invalid subscription: %w", err)
	}

	docID := subscriptionDocID(sub.ChatID, sub.RepoFullName)
	ref := fs.client.Collection(subscriptionsCollection).Doc(docID)

	var result models.Subscription
	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing models.Subscription
			if err := doc.DataTo(&existing); err != nil {
				return fmt.Errorf("failed to unmarshal subscription %s: %w", docID, err)
			}
			if existing.Active() {
				result = existing
				return nil
			}
			// Revoked row: reactivate in place, keeping the original
			// creation time for the audit trail.
			existing.CredentialID = sub.CredentialID
			existing.State = models.SubscriptionStateActive
			existing.UpdatedAt = time.Now()
			result = existing
			return tx.Set(ref, &existing)
		case status.Code(err) == codes.NotFound:
			now := time.Now()
			created := *sub
			created.ID = docID
			created.State = models.SubscriptionStateActive
			created.CreatedAt = now
			created.UpdatedAt = now
			result = created
			return tx.Set(ref, &created)
		default:
			return fmt.Errorf("failed to read subscription %s: %w", docID, err)
		}
	})
	if err != nil {
		log.Error(ctx, "Failed to upsert subscription",
			"error", err,
			"chat_id", sub.ChatID,
			"repo", sub.RepoFullName,
			"operation", "upsert_subscription",
		)
		return nil, fmt.Errorf("failed to upsert subscription for chat %d: %w", sub.ChatID, err)
	}

	return &result, nil
}

// GetSubscription retrieves one chat's subscription to one repository.
// Returns ErrSubscriptionNotFound if no row exists.
func (fs *FirestoreService) GetSubscription(
	ctx context.Context, chatID int64, repoFullName string,
) (*models.Subscription, error) {
	docID := subscriptionDocID(chatID, repoFullName)
	doc, err := fs.client.Collection(subscriptionsCollection).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSubscriptionNotFound
		}
		log.Error(ctx, "Failed to get subscription",
			"error", err,
			"chat_id", chatID,
			"repo", repoFullName,
			"operation", "get_subscription",
		)
		return nil, fmt.Errorf("failed to get subscription %s: %w", docID, err)
	}

	var sub models.Subscription
	if err := doc.DataTo(&sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription %s: %w", docID, err)
	}

	return &sub, nil
}

// ListSubscriptionsByRepo returns the active subscriptions for a repository.
// Revoked rows are excluded; a repository with no subscribers yields an empty
// slice, not an error.
func (fs *FirestoreService) ListSubscriptionsByRepo(
	ctx context.Context, repoFullName string,
) ([]*models.Subscription, error) {
	iter := fs.client.Collection(subscriptionsCollection).
		Where("repo_full_name", "==", repoFullName).
		Where("state", "==", string(models.SubscriptionStateActive)).
		Documents(ctx)
	defer iter.Stop()

	var subs []*models.Subscription
	for {
		doc, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			log.Error(ctx, "Failed to list subscriptions by repo",
				"error", err,
				"repo", repoFullName,
				"operation", "list_subscriptions_by_repo",
			)
			return nil, fmt.Errorf("failed to list subscriptions for repo %s: %w", repoFullName, err)
		}

		var sub models.Subscription
		if err := doc.DataTo(&sub); err != nil {
			log.Error(ctx, "Failed to unmarshal subscription",
				"error", err,
				"doc_id", doc.Ref.ID,
			)
			continue // Skip malformed documents
		}

		subs = append(subs, &sub)
	}

	return subs, nil
}

// ListSubscriptionsByChat returns all of a chat's subscriptions, including
// revoked ones, for status and listing features.
func (fs *FirestoreService) ListSubscriptionsByChat(
	ctx context.Context, chatID int64,
) ([]*models.Subscription, error) {
	iter := fs.client.Collection(subscriptionsCollection).
		Where("chat_id", "==", chatID).
		Documents(ctx)
	defer iter.Stop()

	var subs []*models.Subscription
	for {
		doc, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			log.Error(ctx, "Failed to list subscriptions by chat",
				"error", err,
				"chat_id", chatID,
				"operation", "list_subscriptions_by_chat",
			)
			return nil, fmt.Errorf("failed to list subscriptions for chat %d: %w", chatID, err)
		}

		var sub models.Subscription
		if err := doc.DataTo(&sub); err != nil {
			log.Error(ctx, "Failed to unmarshal subscription",
				"error", err,
				"doc_id", doc.Ref.ID,
			)
			continue
		}

		subs = append(subs, &sub)
	}

	return subs, nil
}

// RevokeSubscription transitions a subscription to the revoked state. The row
// is never deleted, so re-subscription and auditing remain possible.
func (fs *FirestoreService) RevokeSubscription(ctx context.Context, chatID int64, repoFullName string) error {
	docID := subscriptionDocID(chatID, repoFullName)
	ref := fs.client.Collection(subscriptionsCollection).Doc(docID)

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrSubscriptionNotFound
			}
			return fmt.Errorf("failed to read subscription %s: %w", docID, err)
		}

		var sub models.Subscription
		if err := doc.DataTo(&sub); err != nil {
			return fmt.Errorf("failed to unmarshal subscription %s: %w", docID, err)
		}
		if !sub.Active() {
			// Already revoked, treat as success.
			return nil
		}

		sub.State = models.SubscriptionStateRevoked
		sub.UpdatedAt = time.Now()
		return tx.Set(ref, &sub)
	})
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return ErrSubscriptionNotFound
		}
		log.Error(ctx, "Failed to revoke subscription",
			"error", err,
			"chat_id", chatID,
			"repo", repoFullName,
			"operation", "revoke_subscription",
		)
		return fmt.Errorf("failed to revoke subscription %s: %w", docID, err)
	}

	return nil
}

// Credential operations.

// CreateCredential stores a new credential document. Only the secret hash is
// persisted; callers must never pass raw secrets here.
func (fs *FirestoreService) CreateCredential(ctx context.Context, cred *models.Credential) error {
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("invalid credential: %w", err)
	}

	_, err := fs.client.Collection(credentialsCollection).Doc(cred.ID).Set(ctx, cred)
	if err != nil {
		log.Error(ctx, "Failed to create credential",
			"error", err,
			"credential_id", cred.ID,
			"owner_chat_id", cred.OwnerChatID,
			"operation", "create_credential",
		)
		return fmt.Errorf("failed to create credential %s: %w", cred.ID, err)
	}
	return nil
}

// GetCredential retrieves a credential by ID.
func (fs *FirestoreService) GetCredential(ctx context.Context, credentialID string) (*models.Credential, error) {
	doc, err := fs.client.Collection(credentialsCollection).Doc(credentialID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrCredentialNotFound
		}
		log.Error(ctx, "Failed to get credential",
			"error", err,
			"credential_id", credentialID,
			"operation", "get_credential",
		)
		return nil, fmt.Errorf("failed to get credential %s: %w", credentialID, err)
	}

	var cred models.Credential
	if err := doc.DataTo(&cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential %s: %w", credentialID, err)
	}

	return &cred, nil
}

// GetCredentialBySecretHash looks up a credential by its secret hash. The
// secret_hash field carries a uniqueness constraint, so the first match is
// the only match.
func (fs *FirestoreService) GetCredentialBySecretHash(ctx context.Context, secretHash string) (*models.Credential, error) {
	iter := fs.client.Collection(credentialsCollection).
		Where("secret_hash", "==", secretHash).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err != nil {
		if errors.Is(err, iterator.Done) {
			return nil, ErrCredentialNotFound
		}
		log.Error(ctx, "Failed to query credential by hash",
			"error", err,
			"operation", "get_credential_by_secret_hash",
		)
		return nil, fmt.Errorf("failed to query credential by hash: %w", err)
	}

	var cred models.Credential
	if err := doc.DataTo(&cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential %s: %w", doc.Ref.ID, err)
	}

	return &cred, nil
}

// RevokeCredential sets revoked_at on a credential. Revoking an already
// revoked credential is not an error.
func (fs *FirestoreService) RevokeCredential(ctx context.Context, credentialID string) error {
	ref := fs.client.Collection(credentialsCollection).Doc(credentialID)

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrCredentialNotFound
			}
			return fmt.Errorf("failed to read credential %s: %w", credentialID, err)
		}

		var cred models.Credential
		if err := doc.DataTo(&cred); err != nil {
			return fmt.Errorf("failed to unmarshal credential %s: %w", credentialID, err)
		}
		if cred.Revoked() {
			return nil
		}

		now := time.Now()
		cred.RevokedAt = &now
		return tx.Set(ref, &cred)
	})
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrCredentialNotFound
		}
		log.Error(ctx, "Failed to revoke credential",
			"error", err,
			"credential_id", credentialID,
			"operation", "revoke_credential",
		)
		return fmt.Errorf("failed to revoke credential %s: %w", credentialID, err)
	}

	return nil
}
