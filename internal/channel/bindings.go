package channel

import (
	"context"
	"fmt"
	"strings"
)

// Route is the outcome of binding resolution: which agent handles the
// message and which tool overrides apply.
type Route struct {
	AgentID       string
	ToolOverrides []string
	Binding       *Binding
}

// matchesBinding reports whether a binding's criteria admit the message.
// Empty criteria match anything; peer_id additionally accepts "*".
func matchesBinding(b *Binding, msg Message) bool {
	if !b.Enabled {
		return false
	}
	if b.Channel != "" && !strings.EqualFold(b.Channel, msg.Channel) {
		return false
	}
	if b.AccountID != "" && !strings.EqualFold(b.AccountID, msg.AccountID) {
		return false
	}
	if b.PeerKind != "" && !peerKindMatches(b.PeerKind, msg.Peer.Kind) {
		return false
	}
	if b.PeerID != "" && b.PeerID != PeerWildcard && !strings.EqualFold(b.PeerID, msg.Peer.ID) {
		return false
	}
	return true
}

func peerKindMatches(want, got string) bool {
	if strings.EqualFold(want, got) {
		return true
	}
	return IsDirectPeerKind(want) && IsDirectPeerKind(got)
}

// specificity scores a matching binding: channel +1, account +2,
// peer_kind +4, literal peer_id +8. A wildcard peer_id counts as unset.
func specificity(b *Binding) int {
	score := 0
	if b.Channel != "" {
		score++
	}
	if b.AccountID != "" {
		score += 2
	}
	if b.PeerKind != "" {
		score += 4
	}
	if b.PeerID != "" && b.PeerID != PeerWildcard {
		score += 8
	}
	return score
}

// ResolveBinding picks the winning binding for a message: highest
// specificity, then highest priority, then smallest binding id so ties
// resolve the same way on every node. Returns nil when nothing matches.
func ResolveBinding(bindings []*Binding, msg Message) *Binding {
	var best *Binding
	bestScore := -1
	for _, b := range bindings {
		if !matchesBinding(b, msg) {
			continue
		}
		score := specificity(b)
		switch {
		case score > bestScore:
		case score == bestScore && b.Priority > best.Priority:
		case score == bestScore && b.Priority == best.Priority && b.ID < best.ID:
		default:
			continue
		}
		best = b
		bestScore = score
	}
	return best
}

// Router resolves the agent route for inbound messages from the stored
// binding table, falling back to the account default and then the
// configured default agent.
type Router struct {
	store          Store
	defaultAgentID string
	defaultTools   []string
}

func NewRouter(store Store, defaultAgentID string, defaultTools []string) *Router {
	return &Router{store: store, defaultAgentID: defaultAgentID, defaultTools: defaultTools}
}

// Route resolves the winning binding for the message. When no binding
// matches, the account's default agent (then the global default) is used
// with the configured default tool overrides.
func (r *Router) Route(ctx context.Context, msg Message, acc *Account) (Route, error) {
	bindings, err := r.store.ListEnabledBindings(ctx)
	if err != nil {
		return Route{}, fmt.Errorf("%w: list bindings: %v", ErrStorage, err)
	}

	if b := ResolveBinding(bindings, msg); b != nil {
		agentID := strings.TrimSpace(b.AgentID)
		if agentID == "" {
			agentID = r.fallbackAgent(acc)
		}
		return Route{AgentID: agentID, ToolOverrides: b.ToolOverrides, Binding: b}, nil
	}
	return Route{AgentID: r.fallbackAgent(acc), ToolOverrides: r.defaultTools}, nil
}

func (r *Router) fallbackAgent(acc *Account) string {
	if acc != nil && acc.DefaultAgentID != "" {
		return acc.DefaultAgentID
	}
	return r.defaultAgentID
}
