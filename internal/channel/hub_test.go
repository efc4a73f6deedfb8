package channel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relaydesk/channelhub/internal/channel"
	"github.com/relaydesk/channelhub/internal/config"
)

type fakeOrchestrator struct {
	replies map[string]string
	reqs    []channel.AgentRequest
}

func (o *fakeOrchestrator) Run(_ context.Context, req channel.AgentRequest) (*channel.AgentReply, error) {
	o.reqs = append(o.reqs, req)
	text, ok := o.replies[req.Text]
	if !ok {
		text = "echo: " + req.Text
	}
	if text == "" {
		return &channel.AgentReply{}, nil
	}
	return &channel.AgentReply{Text: text}, nil
}

// passthroughMedia forwards messages untouched; tests that exercise voice
// replies set tts to the attachment SynthesizeTTS should return.
type passthroughMedia struct {
	tts *channel.Attachment
}

func (*passthroughMedia) Process(_ context.Context, msg channel.Message) channel.Message {
	return msg
}

func (m *passthroughMedia) SynthesizeTTS(context.Context, string, string) (*channel.Attachment, error) {
	return m.tts, nil
}

type hubFixture struct {
	hub   *channel.Hub
	store *fakeStore
	orch  *fakeOrchestrator
	mon   *fakeMonitor
	media *passthroughMedia
}

func newHubFixture(t *testing.T, mutate func(*config.ChannelsConfig)) *hubFixture {
	t.Helper()

	cfg := config.ChannelsConfig{
		Enabled:         true,
		SessionStrategy: channel.StrategyPerPeer,
		DefaultAgentID:  "agent-default",
		RateLimit:       config.RateLimitConfig{DefaultQPS: 100, DefaultConcurrency: 10},
		Outbox: config.OutboxConfig{
			PollIntervalMs: 1000,
			MaxBatch:       16,
			MaxRetries:     3,
			RetryBaseS:     1,
			RetryMaxS:      60,
			SendTimeoutS:   5,
			WorkerEnabled:  true,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	store := newFakeStore()
	mon := &fakeMonitor{}
	orch := &fakeOrchestrator{replies: map[string]string{}}
	media := &passthroughMedia{}
	outbox := channel.NewOutbox(store, channel.NewRegistry(), mon, cfg.Outbox)

	hub := channel.NewHub(
		cfg,
		channel.NewLimiter(cfg.RateLimit),
		channel.NewAccountResolver(store, cfg),
		channel.NewRouter(store, cfg.DefaultAgentID, cfg.DefaultToolOverrides),
		channel.NewSessionManager(store, newFakeRuntime(), cfg.SessionStrategy),
		outbox,
		store,
		orch,
		media,
		mon,
	)
	return &hubFixture{hub: hub, store: store, orch: orch, mon: mon, media: media}
}

func seedActiveAccount(t *testing.T, store *fakeStore, ch, accountID string) {
	t.Helper()
	if err := store.UpsertAccount(context.Background(), &channel.Account{
		Channel:   ch,
		AccountID: accountID,
		Status:    channel.AccountStatusActive,
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func TestHandleInboundHappyPath(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, nil)
	seedActiveAccount(t, f.store, "telegram", "acc-1")

	body := []byte(`{"account_id":"acc-1","peer":{"kind":"dm","id":"u1","name":"Uma"},"text":"hello"}`)
	res, err := f.hub.HandleInbound(context.Background(), "telegram", "", "", body)
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Accepted != 1 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.SessionIDs) != 1 || res.SessionIDs[0] == "" {
		t.Fatalf("session ids = %v", res.SessionIDs)
	}
	if len(res.OutboxIDs) != 1 {
		t.Fatalf("outbox ids = %v", res.OutboxIDs)
	}

	rec, err := f.store.GetOutbox(context.Background(), res.OutboxIDs[0])
	if err != nil {
		t.Fatalf("outbox record: %v", err)
	}
	if rec.Status != channel.OutboxStatusPending {
		t.Fatalf("outbox status = %q", rec.Status)
	}
	if !strings.Contains(string(rec.Payload), "echo: hello") {
		t.Fatalf("payload = %s", rec.Payload)
	}

	// Inbound and outbound audit rows.
	if len(f.store.messages) != 2 {
		t.Fatalf("audit rows = %d", len(f.store.messages))
	}
	if f.mon.accepted != 1 {
		t.Fatalf("monitor accepted = %d", f.mon.accepted)
	}
}

func TestHandleInboundBatchPartialFailure(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, nil)
	seedActiveAccount(t, f.store, "telegram", "acc-1")

	body := []byte(`[
		{"account_id":"acc-1","peer":{"id":"u1"},"text":"ok"},
		{"account_id":"acc-missing","peer":{"id":"u2"},"text":"nope"},
		{"account_id":"acc-1","peer":{"id":"u3"},"text":"also ok"}
	]`)
	res, err := f.hub.HandleInbound(context.Background(), "telegram", "", "", body)
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Accepted != 2 {
		t.Fatalf("accepted = %d, errors = %v", res.Accepted, res.Errors)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "account_not_found") {
		t.Fatalf("errors = %v", res.Errors)
	}
	if len(f.mon.rejected) != 1 {
		t.Fatalf("monitor rejected = %d", len(f.mon.rejected))
	}
}

func TestHandleInboundParseFailure(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, nil)
	if _, err := f.hub.HandleInbound(context.Background(), "telegram", "", "", []byte("not json")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestHandleInboundDisabled(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, func(cfg *config.ChannelsConfig) { cfg.Enabled = false })
	seedActiveAccount(t, f.store, "telegram", "acc-1")

	res, err := f.hub.HandleInbound(context.Background(), "telegram", "", "", []byte(`{"account_id":"acc-1","peer":{"id":"u1"}}`))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Accepted != 0 || len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "disabled") {
		t.Fatalf("result = %+v", res)
	}
}

func TestHandleInboundAutoProvision(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, func(cfg *config.ChannelsConfig) { cfg.AllowUnknownAccounts = true })

	res, err := f.hub.HandleInbound(context.Background(), "telegram", "acc-new", "", []byte(`{"peer":{"id":"u1"},"text":"hi"}`))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Accepted != 1 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := f.store.GetAccount(context.Background(), "telegram", "acc-new"); err != nil {
		t.Fatalf("account should be provisioned: %v", err)
	}
}

func TestHandleInboundTokenCheck(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, nil)
	if err := f.store.UpsertAccount(context.Background(), &channel.Account{
		Channel:      "telegram",
		AccountID:    "acc-1",
		Status:       channel.AccountStatusActive,
		InboundToken: "s3cret",
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	body := []byte(`{"account_id":"acc-1","peer":{"id":"u1"},"text":"hi"}`)

	res, err := f.hub.HandleInbound(context.Background(), "telegram", "", "wrong", body)
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Accepted != 0 || !strings.Contains(strings.Join(res.Errors, " "), "invalid_token") {
		t.Fatalf("result = %+v", res)
	}

	res, err = f.hub.HandleInbound(context.Background(), "telegram", "", "s3cret", body)
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Accepted != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestHandleInboundDenyBeatsAllow(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, nil)
	if err := f.store.UpsertAccount(context.Background(), &channel.Account{
		Channel:      "telegram",
		AccountID:    "acc-1",
		Status:       channel.AccountStatusActive,
		AllowedPeers: []string{"u1"},
		BlockedPeers: []string{"u1"},
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	res, err := f.hub.HandleInbound(context.Background(), "telegram", "", "", []byte(`{"account_id":"acc-1","peer":{"id":"u1"}}`))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !strings.Contains(strings.Join(res.Errors, " "), "peer_blocked") {
		t.Fatalf("deny list should win: %+v", res)
	}
}

func TestHandleInboundEmptyReplySkipsOutbox(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, nil)
	seedActiveAccount(t, f.store, "telegram", "acc-1")
	f.orch.replies["silent"] = ""

	res, err := f.hub.HandleInbound(context.Background(), "telegram", "", "", []byte(`{"account_id":"acc-1","peer":{"id":"u1"},"text":"silent"}`))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Accepted != 1 || len(res.OutboxIDs) != 0 {
		t.Fatalf("empty reply should accept without enqueueing: %+v", res)
	}
}

func TestHandleInboundVoiceReply(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, nil)
	seedActiveAccount(t, f.store, "telegram", "acc-1")
	f.media.tts = &channel.Attachment{Type: "audio", URL: "https://cdn.example/reply.ogg"}

	body := []byte(`{"account_id":"acc-1","peer":{"id":"u1"},"text":"hello","meta":{"tts_enabled":true}}`)
	res, err := f.hub.HandleInbound(context.Background(), "telegram", "", "", body)
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(res.OutboxIDs) != 1 {
		t.Fatalf("result = %+v", res)
	}
	rec, err := f.store.GetOutbox(context.Background(), res.OutboxIDs[0])
	if err != nil {
		t.Fatalf("outbox record: %v", err)
	}
	if !strings.Contains(string(rec.Payload), "reply.ogg") {
		t.Fatalf("voice attachment missing from payload: %s", rec.Payload)
	}

	// Sessions without the preference stay text-only.
	res, err = f.hub.HandleInbound(context.Background(), "telegram", "", "", []byte(`{"account_id":"acc-1","peer":{"id":"u2"},"text":"hello"}`))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	rec, err = f.store.GetOutbox(context.Background(), res.OutboxIDs[0])
	if err != nil {
		t.Fatalf("outbox record: %v", err)
	}
	if strings.Contains(string(rec.Payload), "reply.ogg") {
		t.Fatalf("unexpected voice attachment: %s", rec.Payload)
	}
}

func TestHandleInboundBindingRoutesAgent(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, nil)
	seedActiveAccount(t, f.store, "telegram", "acc-1")
	f.store.bindings = []*channel.Binding{
		{ID: "b1", Channel: "telegram", PeerKind: "group", AgentID: "agent-group", Enabled: true},
	}

	if _, err := f.hub.HandleInbound(context.Background(), "telegram", "", "", []byte(`{"account_id":"acc-1","peer":{"kind":"group","id":"g1"},"text":"hi"}`)); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(f.orch.reqs) != 1 || f.orch.reqs[0].AgentID != "agent-group" {
		t.Fatalf("agent routing = %+v", f.orch.reqs)
	}

	// Unmatched peers fall back to the configured default agent.
	if _, err := f.hub.HandleInbound(context.Background(), "telegram", "", "", []byte(`{"account_id":"acc-1","peer":{"kind":"dm","id":"u1"},"text":"hi"}`)); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if f.orch.reqs[1].AgentID != "agent-default" {
		t.Fatalf("fallback agent = %q", f.orch.reqs[1].AgentID)
	}
}

func TestHandleInboundAuditFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, nil)
	seedActiveAccount(t, f.store, "telegram", "acc-1")
	f.store.failSaveMessage = true

	res, err := f.hub.HandleInbound(context.Background(), "telegram", "", "", []byte(`{"account_id":"acc-1","peer":{"id":"u1"},"text":"hi"}`))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Accepted != 1 {
		t.Fatalf("audit failure must not reject the message: %+v", res)
	}

	// Both audit writes (inbound and outbound) surface as monitor events.
	if len(f.mon.persistence) != 2 || f.mon.persistence[0] != "message_audit" {
		t.Fatalf("persistence events = %v", f.mon.persistence)
	}
}

func TestHandleInboundInlineDrainWhenWorkerDisabled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newHubFixture(t, func(cfg *config.ChannelsConfig) { cfg.Outbox.WorkerEnabled = false })
	if err := f.store.UpsertAccount(context.Background(), &channel.Account{
		Channel:     "telegram",
		AccountID:   "acc-1",
		Status:      channel.AccountStatusActive,
		OutboundURL: srv.URL,
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	res, err := f.hub.HandleInbound(context.Background(), "telegram", "", "", []byte(`{"account_id":"acc-1","peer":{"id":"u1"},"text":"hi"}`))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	rec, err := f.store.GetOutbox(context.Background(), res.OutboxIDs[0])
	if err != nil {
		t.Fatalf("outbox record: %v", err)
	}
	if rec.Status != channel.OutboxStatusSent {
		t.Fatalf("inline drain should deliver immediately, status = %q", rec.Status)
	}
}
