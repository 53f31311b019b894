package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github-telegram-notifier/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCredentialStore is an in-memory CredentialStore keyed by secret hash.
type fakeCredentialStore struct {
	creds     map[string]*models.Credential // by ID
	createErr error
	lookupErr error
}

var _ CredentialStore = (*fakeCredentialStore)(nil)

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{creds: make(map[string]*models.Credential)}
}

func (f *fakeCredentialStore) CreateCredential(_ context.Context, cred *models.Credential) error {
	if f.createErr != nil {
		return f.createErr
	}
	copied := *cred
	f.creds[cred.ID] = &copied
	return nil
}

func (f *fakeCredentialStore) GetCredentialBySecretHash(_ context.Context, secretHash string) (*models.Credential, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for _, cred := range f.creds {
		if cred.SecretHash == secretHash {
			copied := *cred
			return &copied, nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (f *fakeCredentialStore) RevokeCredential(_ context.Context, credentialID string) error {
	cred, ok := f.creds[credentialID]
	if !ok {
		return ErrCredentialNotFound
	}
	if cred.RevokedAt == nil {
		now := time.Now()
		cred.RevokedAt = &now
	}
	return nil
}

func TestCredentialService_Issue(t *testing.T) {
	store := newFakeCredentialStore()
	svc := NewCredentialService(store)

	credentialID, rawSecret, err := svc.Issue(context.Background(), 42)
	require.NoError(t, err)
	assert.NotEmpty(t, credentialID)
	assert.Len(t, rawSecret, 32) // 16 random bytes, hex encoded

	stored := store.creds[credentialID]
	require.NotNil(t, stored)
	assert.Equal(t, int64(42), stored.OwnerChatID)
	assert.Equal(t, HashSecret(rawSecret), stored.SecretHash)
	assert.NotEqual(t, rawSecret, stored.SecretHash)
	assert.False(t, stored.Revoked())
}

func TestCredentialService_Issue_StoreFailure(t *testing.T) {
	store := newFakeCredentialStore()
	store.createErr = errors.New("firestore down")
	svc := NewCredentialService(store)

	_, _, err := svc.Issue(context.Background(), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist credential")
}

func TestCredentialService_Validate(t *testing.T) {
	store := newFakeCredentialStore()
	svc := NewCredentialService(store)

	credentialID, rawSecret, err := svc.Issue(context.Background(), 42)
	require.NoError(t, err)

	t.Run("Valid key resolves to its credential", func(t *testing.T) {
		cred, err := svc.Validate(context.Background(), rawSecret)
		require.NoError(t, err)
		assert.Equal(t, credentialID, cred.ID)
		assert.Equal(t, int64(42), cred.OwnerChatID)
	})

	t.Run("Unknown key is rejected", func(t *testing.T) {
		_, err := svc.Validate(context.Background(), "not-a-real-key")
		assert.ErrorIs(t, err, ErrCredentialNotFound)
	})

	t.Run("Revoked key is rejected like an unknown one", func(t *testing.T) {
		require.NoError(t, svc.Revoke(context.Background(), credentialID))

		_, err := svc.Validate(context.Background(), rawSecret)
		assert.ErrorIs(t, err, ErrCredentialNotFound)
	})
}

func TestCredentialService_Revoke_Idempotent(t *testing.T) {
	store := newFakeCredentialStore()
	svc := NewCredentialService(store)

	credentialID, _, err := svc.Issue(context.Background(), 42)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), credentialID))
	require.NoError(t, svc.Revoke(context.Background(), credentialID))
}

func TestHashSecret_Deterministic(t *testing.T) {
	a := HashSecret("some-key")
	b := HashSecret("some-key")
	c := HashSecret("other-key")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64) // hex SHA-256
}
