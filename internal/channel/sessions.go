package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Session strategies. MainThread funnels every peer of a user into that
// user's single main conversation; PerPeer keeps one session per
// peer/thread; Hybrid uses the main thread for direct chats and per-peer
// sessions for groups and channels.
const (
	StrategyMainThread = "main_thread"
	StrategyPerPeer    = "per_peer"
	StrategyHybrid     = "hybrid"
)

// SessionManager resolves the platform user and conversation session for
// each inbound message and keeps the chat_sessions/channel_sessions rows
// in step. Minted ids are cached under an RWMutex so concurrent messages
// for the same new peer agree on a single session id.
type SessionManager struct {
	store    Store
	runtime  AgentRuntime
	strategy string

	mu     sync.RWMutex
	minted map[SessionKey]string
}

func NewSessionManager(store Store, runtime AgentRuntime, strategy string) *SessionManager {
	switch strategy {
	case StrategyMainThread, StrategyPerPeer, StrategyHybrid:
	default:
		strategy = StrategyPerPeer
	}
	return &SessionManager{
		store:    store,
		runtime:  runtime,
		strategy: strategy,
		minted:   make(map[SessionKey]string),
	}
}

// Resolve returns the channel session for the message, creating identities
// as needed, and persists the updated session rows.
func (m *SessionManager) Resolve(ctx context.Context, msg Message, route Route) (*Session, error) {
	key := msg.SessionKey()

	prev, err := m.store.GetSession(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: load session: %v", ErrStorage, err)
	}

	userID, err := m.resolveUserID(ctx, msg, prev)
	if err != nil {
		return nil, err
	}

	useMain := m.strategy == StrategyMainThread ||
		(m.strategy == StrategyHybrid && IsDirectPeerKind(key.PeerKind))

	var sessionID string
	if useMain {
		sessionID, err = m.runtime.ResolveOrCreateMainSessionID(ctx, userID, route.AgentID)
		if err != nil {
			return nil, fmt.Errorf("%w: main session: %v", ErrOrchestrator, err)
		}
	} else if prev != nil {
		sessionID = prev.SessionID
	} else {
		sessionID = m.mintSessionID(key)
	}

	if err := m.syncChatSession(ctx, msg, route, sessionID, userID, useMain); err != nil {
		return nil, err
	}

	sess := &Session{
		SessionKey: key,
		SessionID:  sessionID,
		AgentID:    route.AgentID,
		UserID:     userID,
	}
	applyTTS(sess, msg, prev)
	if prev != nil {
		sess.CreatedAt = prev.CreatedAt
		sess.Metadata = prev.Metadata
	}
	sess.LastMessageAt = msg.Timestamp

	if err := m.store.UpsertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: save session: %v", ErrStorage, err)
	}
	return sess, nil
}

// resolveUserID picks the platform user in precedence order: an explicit
// user binding for the external identity, then the previous session's
// user, then a synthetic per-peer identity.
func (m *SessionManager) resolveUserID(ctx context.Context, msg Message, prev *Session) (string, error) {
	externalID := msg.Sender.ID
	if externalID == "" {
		externalID = msg.Peer.ID
	}
	ub, err := m.store.GetUserBinding(ctx, msg.Channel, externalID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("%w: load user binding: %v", ErrStorage, err)
	}
	if ub != nil && ub.UserID != "" {
		return ub.UserID, nil
	}
	if prev != nil && prev.UserID != "" {
		return prev.UserID, nil
	}
	return fmt.Sprintf("chan:%s:%s:%s:%s", msg.Channel, msg.AccountID, msg.Peer.Kind, msg.Peer.ID), nil
}

func (m *SessionManager) mintSessionID(key SessionKey) string {
	m.mu.RLock()
	id, ok := m.minted[key]
	m.mu.RUnlock()
	if ok {
		return id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.minted[key]; ok {
		return id
	}
	id = uuid.NewString()
	m.minted[key] = id
	return id
}

// syncChatSession upserts the orchestration-side conversation record.
// Existing titles are never overwritten; under the main-thread path the
// tool overrides are only replaced when the route carries a non-empty set,
// so per-peer traffic cannot wipe the main session's configuration.
func (m *SessionManager) syncChatSession(ctx context.Context, msg Message, route Route, sessionID, userID string, useMain bool) error {
	existing, err := m.store.GetChatSession(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: load chat session: %v", ErrStorage, err)
	}

	cs := &ChatSession{
		ID:      sessionID,
		UserID:  userID,
		AgentID: route.AgentID,
		IsMain:  useMain,
	}
	if existing != nil {
		cs.CreatedAt = existing.CreatedAt
		cs.Title = existing.Title
		cs.ToolOverrides = existing.ToolOverrides
		cs.Metadata = existing.Metadata
		cs.IsMain = existing.IsMain || useMain
	}
	if cs.Title == "" {
		cs.Title = peerTitle(msg)
	}
	if useMain {
		if len(route.ToolOverrides) > 0 {
			cs.ToolOverrides = route.ToolOverrides
		}
	} else {
		cs.ToolOverrides = route.ToolOverrides
	}

	if err := m.store.UpsertChatSession(ctx, cs); err != nil {
		return fmt.Errorf("%w: save chat session: %v", ErrStorage, err)
	}
	return nil
}

func peerTitle(msg Message) string {
	if msg.Peer.Name != "" {
		return msg.Peer.Name
	}
	return fmt.Sprintf("%s %s", msg.Channel, msg.Peer.ID)
}

// applyTTS takes voice preferences from message metadata when present and
// inherits the stored values otherwise.
func applyTTS(sess *Session, msg Message, prev *Session) {
	if v, ok := msg.Meta["tts_enabled"].(bool); ok {
		sess.TTSEnabled = &v
	} else if prev != nil {
		sess.TTSEnabled = prev.TTSEnabled
	}
	if v, ok := msg.Meta["tts_voice"].(string); ok && v != "" {
		sess.TTSVoice = v
	} else if prev != nil {
		sess.TTSVoice = prev.TTSVoice
	}
}
