package channel

import (
	"context"
	"time"
)

// Store is the persistence contract the hub depends on. The production
// implementation lives in internal/storage and is backed by PostgreSQL.
type Store interface {
	// Accounts.
	GetAccount(ctx context.Context, ch, accountID string) (*Account, error)
	UpsertAccount(ctx context.Context, acc *Account) error
	ListActiveAccounts(ctx context.Context, ch string) ([]*Account, error)

	// Routing.
	ListEnabledBindings(ctx context.Context) ([]*Binding, error)
	GetUserBinding(ctx context.Context, ch, externalID string) (*UserBinding, error)

	// Sessions.
	GetSession(ctx context.Context, key SessionKey) (*Session, error)
	UpsertSession(ctx context.Context, sess *Session) error
	GetChatSession(ctx context.Context, id string) (*ChatSession, error)
	UpsertChatSession(ctx context.Context, sess *ChatSession) error
	FindMainChatSession(ctx context.Context, userID, agentID string) (*ChatSession, error)

	// Audit and media. Failures here are non-fatal to the pipeline.
	SaveMessage(ctx context.Context, rec *MessageRecord) error
	UpsertMediaAsset(ctx context.Context, asset *MediaAsset) error

	// Outbox.
	InsertOutbox(ctx context.Context, rec *OutboxRecord) (string, error)
	ClaimDueOutbox(ctx context.Context, now time.Time, limit int) ([]*OutboxRecord, error)
	MarkOutboxSent(ctx context.Context, id string, at time.Time) error
	MarkOutboxRetry(ctx context.Context, id string, retryCount int, retryAt time.Time, lastError string) error
	MarkOutboxFailed(ctx context.Context, id string, retryCount int, lastError string) error
	GetOutbox(ctx context.Context, id string) (*OutboxRecord, error)
	ListOutboxByStatus(ctx context.Context, status string, limit int) ([]*OutboxRecord, error)
}

