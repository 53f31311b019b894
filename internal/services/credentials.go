package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github-telegram-notifier/internal/log"
	"github-telegram-notifier/internal/models"

	"github.com/google/uuid"
)

const rawSecretBytes = 16

// CredentialStore is the persistence surface the credential manager needs.
// *FirestoreService satisfies it.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *models.Credential) error
	GetCredentialBySecretHash(ctx context.Context, secretHash string) (*models.Credential, error)
	RevokeCredential(ctx context.Context, credentialID string) error
}

// CredentialService issues and validates opaque access keys. Raw secrets are
// returned to the caller exactly once at issuance and never persisted or
// logged; only their SHA-256 hash is stored.
type CredentialService struct {
	store CredentialStore
}

// NewCredentialService creates a new CredentialService.
func NewCredentialService(store CredentialStore) *CredentialService {
	return &CredentialService{store: store}
}

// HashSecret returns the hex SHA-256 digest of a raw key. This is the only
// form in which secrets are stored or compared.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Issue generates a fresh credential for a chat and returns its ID together
// with the raw secret. Issuance is deliberately not transactional with
// subscription creation: a failed follow-up simply leaves an extra valid
// credential behind, which is harmless, instead of risking an orphaned
// subscription.
func (s *CredentialService) Issue(ctx context.Context, ownerChatID int64) (credentialID, rawSecret string, err error) {
	buf := make([]byte, rawSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate credential secret: %w", err)
	}
	rawSecret = hex.EncodeToString(buf)

	cred := &models.Credential{
		ID:          uuid.New().String(),
		SecretHash:  HashSecret(rawSecret),
		OwnerChatID: ownerChatID,
		IssuedAt:    time.Now(),
	}

	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return "", "", fmt.Errorf("failed to persist credential: %w", err)
	}

	log.Info(ctx, "Credential issued",
		"credential_id", cred.ID,
		"owner_chat_id", ownerChatID,
	)

	return cred.ID, rawSecret, nil
}

// Validate hashes the candidate key and resolves it to a credential. Revoked
// and unknown keys both yield ErrCredentialNotFound; the caller learns
// nothing about which case occurred. Digest comparison is constant-time.
func (s *CredentialService) Validate(ctx context.Context, candidate string) (*models.Credential, error) {
	candidateHash := HashSecret(candidate)

	cred, err := s.store.GetCredentialBySecretHash(ctx, candidateHash)
	if err != nil {
		return nil, err
	}

	if !hmac.Equal([]byte(cred.SecretHash), []byte(candidateHash)) {
		return nil, ErrCredentialNotFound
	}
	if cred.Revoked() {
		return nil, ErrCredentialNotFound
	}

	return cred, nil
}

// Revoke marks a credential revoked. Idempotent: revoking twice is not an
// error. Dependent subscriptions stop matching new events but are not
// deleted.
func (s *CredentialService) Revoke(ctx context.Context, credentialID string) error {
	return s.store.RevokeCredential(ctx, credentialID)
}
