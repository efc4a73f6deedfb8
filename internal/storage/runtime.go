package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaydesk/channelhub/internal/channel"
)

// AgentRuntime resolves the single main conversation per (user, agent)
// pair, creating it on first use.
type AgentRuntime struct {
	store *Store
}

func NewAgentRuntime(store *Store) *AgentRuntime {
	return &AgentRuntime{store: store}
}

func (r *AgentRuntime) ResolveOrCreateMainSessionID(ctx context.Context, userID, agentID string) (string, error) {
	existing, err := r.store.FindMainChatSession(ctx, userID, agentID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, channel.ErrNotFound) {
		return "", fmt.Errorf("find main session: %w", err)
	}

	cs := &channel.ChatSession{
		ID:      uuid.NewString(),
		UserID:  userID,
		AgentID: agentID,
		IsMain:  true,
	}
	if err := r.store.UpsertChatSession(ctx, cs); err != nil {
		return "", fmt.Errorf("create main session: %w", err)
	}
	// Concurrent first messages can race the insert; re-read so every
	// caller converges on the oldest main session.
	canonical, err := r.store.FindMainChatSession(ctx, userID, agentID)
	if err != nil {
		return "", fmt.Errorf("reload main session: %w", err)
	}
	return canonical.ID, nil
}
