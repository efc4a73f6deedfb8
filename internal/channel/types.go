// Package channel implements the inbound/outbound messaging hub: webhook
// normalization, admission control, binding resolution, session identity,
// and the durable outbox.
package channel

import (
	"strings"
	"time"
)

// Peer kinds. "dm", "direct", "single", and "user" are treated as one
// synonym set when matching bindings and choosing session strategies.
const (
	PeerKindDM      = "dm"
	PeerKindGroup   = "group"
	PeerKindChannel = "channel"
)

// PeerWildcard matches any peer id in a binding.
const PeerWildcard = "*"

// Message types derived during normalization.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeAudio = "audio"
	MessageTypeVideo = "video"
	MessageTypeFile  = "file"
)

// Peer identifies the remote party of a conversation.
type Peer struct {
	Kind string `json:"kind,omitempty"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Sender identifies the individual author inside a peer (relevant for groups).
type Sender struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Attachment is a media reference carried by a message.
type Attachment struct {
	Type       string         `json:"type"`
	URL        string         `json:"url,omitempty"`
	Name       string         `json:"name,omitempty"`
	Mime       string         `json:"mime,omitempty"`
	Size       int64          `json:"size,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Location is an optional geo payload.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

// Message is the canonical inbound unit every provider payload is
// normalized into. After normalization Channel, AccountID, and Peer.ID are
// non-empty, Peer.Kind defaults to "dm", and Type defaults from attachment
// presence.
type Message struct {
	Channel     string         `json:"channel"`
	AccountID   string         `json:"account_id"`
	Peer        Peer           `json:"peer"`
	ThreadID    string         `json:"thread,omitempty"`
	MessageID   string         `json:"message_id,omitempty"`
	Sender      Sender         `json:"sender,omitempty"`
	Type        string         `json:"message_type,omitempty"`
	Text        string         `json:"text,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Location    *Location      `json:"location,omitempty"`
	Timestamp   time.Time      `json:"timestamp,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// OutboundMessage mirrors the inbound shape and is the reply envelope.
type OutboundMessage struct {
	Channel     string         `json:"channel"`
	AccountID   string         `json:"account_id"`
	Peer        Peer           `json:"peer"`
	ThreadID    string         `json:"thread,omitempty"`
	Text        string         `json:"text,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Binding is a routing rule mapping a (channel, account, peer) pattern to
// an agent and tool-override set. Empty criteria fields match anything;
// non-empty fields must match (case-insensitively) or the binding is
// excluded.
type Binding struct {
	ID            string    `json:"binding_id"`
	Channel       string    `json:"channel,omitempty"`
	AccountID     string    `json:"account_id,omitempty"`
	PeerKind      string    `json:"peer_kind,omitempty"`
	PeerID        string    `json:"peer_id,omitempty"`
	AgentID       string    `json:"agent_id,omitempty"`
	ToolOverrides []string  `json:"tool_overrides,omitempty"`
	Priority      int       `json:"priority"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// SessionKey is the composite identity of a channel session row.
type SessionKey struct {
	Channel   string
	AccountID string
	PeerKind  string
	PeerID    string
	ThreadID  string
}

// Session is the persisted mirror of a peer/thread-to-session mapping,
// upserted on every inbound message and never deleted by the hub.
type Session struct {
	SessionKey
	SessionID     string
	AgentID       string
	UserID        string
	TTSEnabled    *bool
	TTSVoice      string
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageAt time.Time
}

// ChatSession is the orchestration-facing conversation record kept in step
// with channel sessions.
type ChatSession struct {
	ID            string
	UserID        string
	AgentID       string
	Title         string
	ToolOverrides []string
	IsMain        bool
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Outbox statuses. pending and retry are claimable; sent and failed are
// terminal.
const (
	OutboxStatusPending = "pending"
	OutboxStatusRetry   = "retry"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// OutboxRecord is one durable outbound work item.
type OutboxRecord struct {
	ID          string
	Channel     string
	AccountID   string
	PeerKind    string
	PeerID      string
	ThreadID    string
	Payload     []byte
	Status      string
	RetryCount  int
	RetryAt     time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeliveredAt *time.Time
}

// Account is a tenant-scoped credential/config set for one channel.
type Account struct {
	Channel         string
	AccountID       string
	Status          string
	InboundToken    string
	OutboundURL     string
	OutboundToken   string
	OutboundHeaders map[string]string
	Credentials     map[string]any
	AllowedPeers    []string
	BlockedPeers    []string
	AllowedSenders  []string
	BlockedSenders  []string
	DefaultAgentID  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AccountStatusActive is the only status accepted for inbound traffic.
const AccountStatusActive = "active"

// UserBinding maps a channel-external identity to a platform user.
type UserBinding struct {
	Channel    string
	ExternalID string
	UserID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MessageRecord is the inbound/outbound audit row.
type MessageRecord struct {
	Channel   string
	AccountID string
	PeerKind  string
	PeerID    string
	ThreadID  string
	MessageID string
	SenderID  string
	SessionID string
	Direction string
	Body      []byte
	CreatedAt time.Time
}

// MediaAsset is a stored reference to an inbound attachment.
type MediaAsset struct {
	Channel   string
	AccountID string
	Kind      string
	URL       string
	Name      string
	Mime      string
	Size      int64
	Metadata  map[string]any
}

// HandleResult accumulates per-message outcomes for one inbound batch.
type HandleResult struct {
	Accepted   int      `json:"accepted"`
	SessionIDs []string `json:"session_ids"`
	OutboxIDs  []string `json:"outbox_ids"`
	Errors     []string `json:"errors"`
}

// Key returns the admission-control key "{channel}:{account_id}".
func (m Message) Key() string {
	return strings.ToLower(strings.TrimSpace(m.Channel)) + ":" + strings.TrimSpace(m.AccountID)
}

// SessionKey returns the composite session key for the message's peer/thread.
func (m Message) SessionKey() SessionKey {
	return SessionKey{
		Channel:   strings.ToLower(strings.TrimSpace(m.Channel)),
		AccountID: strings.TrimSpace(m.AccountID),
		PeerKind:  strings.ToLower(strings.TrimSpace(m.Peer.Kind)),
		PeerID:    strings.TrimSpace(m.Peer.ID),
		ThreadID:  strings.TrimSpace(m.ThreadID),
	}
}

// IsDirectPeerKind reports whether kind belongs to the "direct" synonym set.
func IsDirectPeerKind(kind string) bool {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case PeerKindDM, "direct", "single", "user":
		return true
	default:
		return false
	}
}
