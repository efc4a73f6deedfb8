package channel

import "context"

// AgentRequest is what the hub hands to the orchestrator for one inbound
// message after routing and session resolution.
type AgentRequest struct {
	SessionID     string
	AgentID       string
	UserID        string
	Text          string
	Attachments   []Attachment
	ToolOverrides []string
	Metadata      map[string]any
}

// AgentReply is the orchestrator's answer. An empty reply suppresses the
// outbound leg for that message.
type AgentReply struct {
	Text        string
	Attachments []Attachment
	Metadata    map[string]any
}

// Orchestrator runs an agent turn for a resolved session.
type Orchestrator interface {
	Run(ctx context.Context, req AgentRequest) (*AgentReply, error)
}

// MediaProcessor prepares inbound attachments before the agent sees them
// (e.g. re-hosting provider-expiring URLs) and optionally synthesizes a
// voice rendering of the reply. Process must return the input unchanged on
// failure rather than erroring the pipeline; SynthesizeTTS returns a nil
// attachment when no speech engine is configured.
type MediaProcessor interface {
	Process(ctx context.Context, msg Message) Message
	SynthesizeTTS(ctx context.Context, text, voice string) (*Attachment, error)
}

// Monitor receives pipeline lifecycle events for observability.
// PersistenceFailed reports non-fatal storage writes (audit rows, media
// assets) that were skipped; the pipeline keeps going after emitting it.
type Monitor interface {
	MessageAccepted(msg Message, sessionID string)
	MessageRejected(msg Message, reason error)
	DeliverySucceeded(rec *OutboxRecord)
	DeliveryFailed(rec *OutboxRecord, err error)
	PersistenceFailed(kind string, err error)
}

// AgentRuntime owns orchestration-level session identity: the single main
// conversation per (user, agent) pair.
type AgentRuntime interface {
	ResolveOrCreateMainSessionID(ctx context.Context, userID, agentID string) (string, error)
}
