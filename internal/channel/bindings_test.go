package channel_test

import (
	"context"
	"testing"

	"github.com/relaydesk/channelhub/internal/channel"
)

func msgFor(ch, acc, kind, peer string) channel.Message {
	return channel.Message{
		Channel:   ch,
		AccountID: acc,
		Peer:      channel.Peer{Kind: kind, ID: peer},
	}
}

func TestResolveBindingSpecificityWins(t *testing.T) {
	t.Parallel()

	broad := &channel.Binding{ID: "b-broad", Channel: "telegram", Enabled: true, AgentID: "agent-broad", Priority: 100}
	exact := &channel.Binding{
		ID: "b-exact", Channel: "telegram", AccountID: "acc-1",
		PeerKind: "group", PeerID: "g-42", Enabled: true, AgentID: "agent-exact",
	}

	got := channel.ResolveBinding([]*channel.Binding{broad, exact}, msgFor("telegram", "acc-1", "group", "g-42"))
	if got == nil || got.ID != "b-exact" {
		t.Fatalf("expected exact binding regardless of priority, got %+v", got)
	}
}

func TestResolveBindingLiteralBeatsWildcard(t *testing.T) {
	t.Parallel()

	wildcard := &channel.Binding{ID: "b-wild", Channel: "telegram", PeerKind: "group", PeerID: "*", Priority: 100, Enabled: true}
	literal := &channel.Binding{ID: "b-lit", Channel: "telegram", PeerKind: "group", PeerID: "g-1", Priority: 1, Enabled: true}

	got := channel.ResolveBinding([]*channel.Binding{wildcard, literal}, msgFor("telegram", "acc", "group", "g-1"))
	if got == nil || got.ID != "b-lit" {
		t.Fatalf("literal peer_id should outrank wildcard, got %+v", got)
	}

	// Wildcard still matches other peers.
	got = channel.ResolveBinding([]*channel.Binding{wildcard, literal}, msgFor("telegram", "acc", "group", "g-2"))
	if got == nil || got.ID != "b-wild" {
		t.Fatalf("wildcard should match other peers, got %+v", got)
	}
}

func TestResolveBindingMatchesCaseInsensitively(t *testing.T) {
	t.Parallel()

	b := &channel.Binding{
		ID: "b1", Channel: "feishu", AccountID: "ACC_1",
		PeerKind: "Group", PeerID: "Chat_1", Enabled: true,
	}

	got := channel.ResolveBinding([]*channel.Binding{b}, msgFor("feishu", "acc_1", "group", "chat_1"))
	if got == nil || got.ID != "b1" {
		t.Fatalf("account_id and peer_id should match case-insensitively, got %+v", got)
	}

	got = channel.ResolveBinding([]*channel.Binding{b}, msgFor("feishu", "acc_2", "group", "chat_1"))
	if got != nil {
		t.Fatalf("different account should not match, got %+v", got)
	}
}

func TestResolveBindingPriorityBreaksTies(t *testing.T) {
	t.Parallel()

	low := &channel.Binding{ID: "b-low", Channel: "feishu", Priority: 1, Enabled: true}
	high := &channel.Binding{ID: "b-high", Channel: "feishu", Priority: 9, Enabled: true}

	got := channel.ResolveBinding([]*channel.Binding{low, high}, msgFor("feishu", "acc", "dm", "u1"))
	if got == nil || got.ID != "b-high" {
		t.Fatalf("higher priority should win the tie, got %+v", got)
	}
}

func TestResolveBindingIDBreaksFullTies(t *testing.T) {
	t.Parallel()

	a := &channel.Binding{ID: "aaa", Channel: "feishu", Priority: 5, Enabled: true}
	b := &channel.Binding{ID: "zzz", Channel: "feishu", Priority: 5, Enabled: true}

	for _, order := range [][]*channel.Binding{{a, b}, {b, a}} {
		got := channel.ResolveBinding(order, msgFor("feishu", "acc", "dm", "u1"))
		if got == nil || got.ID != "aaa" {
			t.Fatalf("smallest id should win deterministically, got %+v", got)
		}
	}
}

func TestResolveBindingDirectSynonyms(t *testing.T) {
	t.Parallel()

	b := &channel.Binding{ID: "b-dm", PeerKind: "direct", Enabled: true}
	for _, kind := range []string{"dm", "direct", "single", "user"} {
		if got := channel.ResolveBinding([]*channel.Binding{b}, msgFor("telegram", "acc", kind, "u1")); got == nil {
			t.Fatalf("peer kind %q should match a direct binding", kind)
		}
	}
	if got := channel.ResolveBinding([]*channel.Binding{b}, msgFor("telegram", "acc", "group", "g1")); got != nil {
		t.Fatalf("group peer should not match a direct binding, got %+v", got)
	}
}

func TestRouteBlankAgentFallsBack(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.bindings = []*channel.Binding{
		{ID: "b1", Channel: "telegram", AgentID: "   ", Enabled: true},
	}
	r := channel.NewRouter(store, "agent-default", nil)

	route, err := r.Route(context.Background(), msgFor("telegram", "acc", "dm", "u1"), nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if route.AgentID != "agent-default" {
		t.Fatalf("blank agent_id should fall back, got %q", route.AgentID)
	}
	if route.Binding == nil || route.Binding.ID != "b1" {
		t.Fatalf("binding should still be resolved, got %+v", route.Binding)
	}
}

func TestResolveBindingSkipsDisabledAndMismatched(t *testing.T) {
	t.Parallel()

	disabled := &channel.Binding{ID: "b-off", Channel: "telegram", Enabled: false}
	otherAcc := &channel.Binding{ID: "b-other", Channel: "telegram", AccountID: "acc-2", Enabled: true}

	got := channel.ResolveBinding([]*channel.Binding{disabled, otherAcc}, msgFor("telegram", "acc-1", "dm", "u1"))
	if got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}
}
