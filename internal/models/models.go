package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrChatIDRequired       = errors.New("chat ID is required")
	ErrRepoOwnerRequired    = errors.New("repository owner is required")
	ErrRepoNameRequired     = errors.New("repository name is required")
	ErrCredentialIDRequired = errors.New("credential ID is required")
	ErrSecretHashRequired   = errors.New("secret hash is required")
	ErrJobIDRequired        = errors.New("job ID is required")
	ErrEventTypeRequired    = errors.New("event type is required")
	ErrPayloadRequired      = errors.New("payload is required")

	// Onboarding input failures. All of these are recovered locally by
	// re-prompting the user, never surfaced as fatal.
	ErrInvalidRepoFormat = errors.New("invalid repository format")
	ErrRepoNotFound      = errors.New("repository not found")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrAttemptsExceeded  = errors.New("too many invalid attempts")
)

// SubscriptionState is the lifecycle state of a subscription.
type SubscriptionState string

const (
	SubscriptionStateActive  SubscriptionState = "active"
	SubscriptionStateRevoked SubscriptionState = "revoked"
)

// Subscription links one chat to one repository. Rows are never deleted;
// revocation is a soft-state transition so the audit trail survives.
type Subscription struct {
	ID           string            `firestore:"id"`             // {chat_id}#{url-escaped repo full name}
	ChatID       int64             `firestore:"chat_id"`        // Telegram chat ID
	RepoOwner    string            `firestore:"repo_owner"`     // lowercased
	RepoName     string            `firestore:"repo_name"`      // lowercased
	RepoFullName string            `firestore:"repo_full_name"` // "owner/name", denormalized for queries
	CredentialID string            `firestore:"credential_id"`  // reference, never the raw secret
	State        SubscriptionState `firestore:"state"`
	CreatedAt    time.Time         `firestore:"created_at"`
	UpdatedAt    time.Time         `firestore:"updated_at"`
}

// Validate checks required fields for Subscription.
func (s *Subscription) Validate() error {
	if s.ChatID == 0 {
		return ErrChatIDRequired
	}
	if s.RepoOwner == "" {
		return ErrRepoOwnerRequired
	}
	if s.RepoName == "" {
		return ErrRepoNameRequired
	}
	if s.CredentialID == "" {
		return ErrCredentialIDRequired
	}
	return nil
}

// Active reports whether the subscription should receive event deliveries.
func (s *Subscription) Active() bool {
	return s.State == SubscriptionStateActive
}

// Credential is an access key proving a chat's right to complete and maintain
// a subscription. Only the one-way hash of the secret is ever stored; the raw
// value is shown to the user exactly once at issuance.
type Credential struct {
	ID          string     `firestore:"id"`
	SecretHash  string     `firestore:"secret_hash"` // hex SHA-256 of the raw key
	OwnerChatID int64      `firestore:"owner_chat_id"`
	IssuedAt    time.Time  `firestore:"issued_at"`
	RevokedAt   *time.Time `firestore:"revoked_at,omitempty"`
}

// Validate checks required fields for Credential.
func (c *Credential) Validate() error {
	if c.ID == "" {
		return ErrCredentialIDRequired
	}
	if c.SecretHash == "" {
		return ErrSecretHashRequired
	}
	if c.OwnerChatID == 0 {
		return ErrChatIDRequired
	}
	return nil
}

// Revoked reports whether the credential has been revoked.
func (c *Credential) Revoked() bool {
	return c.RevokedAt != nil
}

// ConversationStep is the position of a chat in the onboarding conversation.
type ConversationStep string

const (
	StepIdle               ConversationStep = "idle"
	StepAwaitingRepo       ConversationStep = "awaiting_repo"
	StepAwaitingCredential ConversationStep = "awaiting_credential"
)

// ConversationContext is the ephemeral per-chat onboarding state. It lives in
// memory only while onboarding is incomplete and is safe to lose on restart:
// the conversation simply restarts at idle.
type ConversationContext struct {
	ChatID           int64
	Step             ConversationStep
	PendingRepoOwner string
	PendingRepoName  string
	AttemptCount     int
	LastActivityAt   time.Time
}

// PendingRepoFullName returns "owner/name" for the repository captured during
// onboarding, or "" if none has been entered yet.
func (c *ConversationContext) PendingRepoFullName() string {
	if c.PendingRepoOwner == "" || c.PendingRepoName == "" {
		return ""
	}
	return c.PendingRepoOwner + "/" + c.PendingRepoName
}

// Notification is one rendered outbound message bound for one chat.
type Notification struct {
	ChatID int64
	Text   string
}

// EventJob is an authenticated repository event queued for asynchronous
// processing. The presented credential is deliberately absent: events are
// authenticated at the edge before a job is created, and raw secrets must
// never be serialized.
type EventJob struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	DeliveryID string    `json:"delivery_id"`
	TraceID    string    `json:"trace_id"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks required fields for EventJob.
func (j *EventJob) Validate() error {
	if j.ID == "" {
		return ErrJobIDRequired
	}
	if j.EventType == "" {
		return ErrEventTypeRequired
	}
	if len(j.Payload) == 0 {
		return ErrPayloadRequired
	}
	return nil
}

// SplitRepoFullName splits "owner/name" into its two segments.
func SplitRepoFullName(fullName string) (owner, name string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidRepoFormat, fullName)
	}
	return parts[0], parts[1], nil
}
