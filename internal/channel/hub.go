package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaydesk/channelhub/internal/config"
	"github.com/relaydesk/channelhub/internal/logger"
)

// Hub drives the inbound pipeline: normalize, admit, authorize, route,
// resolve the session, run the agent, and enqueue the reply.
type Hub struct {
	cfg      config.ChannelsConfig
	limiter  *Limiter
	accounts *AccountResolver
	router   *Router
	sessions *SessionManager
	outbox   *Outbox
	store    Store
	orch     Orchestrator
	media    MediaProcessor
	monitor  Monitor
}

func NewHub(
	cfg config.ChannelsConfig,
	limiter *Limiter,
	accounts *AccountResolver,
	router *Router,
	sessions *SessionManager,
	outbox *Outbox,
	store Store,
	orch Orchestrator,
	media MediaProcessor,
	monitor Monitor,
) *Hub {
	return &Hub{
		cfg:      cfg,
		limiter:  limiter,
		accounts: accounts,
		router:   router,
		sessions: sessions,
		outbox:   outbox,
		store:    store,
		orch:     orch,
		media:    media,
		monitor:  monitor,
	}
}

// HandleInbound processes one webhook body, which may carry one message or
// a batch. It returns an error only when the body cannot be parsed at all;
// per-message failures are reported inside the result so one bad message
// never blocks the rest of the batch.
func (h *Hub) HandleInbound(ctx context.Context, routeChannel, routeAccountID, token string, body []byte) (*HandleResult, error) {
	msgs, err := ParseInbound(body)
	if err != nil {
		return nil, err
	}

	res := &HandleResult{
		SessionIDs: []string{},
		OutboxIDs:  []string{},
		Errors:     []string{},
	}
	for _, raw := range msgs {
		sessionID, outboxID, err := h.handleOne(ctx, raw, routeChannel, routeAccountID, token)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			h.monitor.MessageRejected(raw, err)
			continue
		}
		res.Accepted++
		res.SessionIDs = append(res.SessionIDs, sessionID)
		if outboxID != "" {
			res.OutboxIDs = append(res.OutboxIDs, outboxID)
		}
	}
	return res, nil
}

func (h *Hub) handleOne(ctx context.Context, raw Message, routeChannel, routeAccountID, token string) (sessionID, outboxID string, err error) {
	if !h.cfg.Enabled {
		return "", "", ErrDisabled
	}

	msg, err := Normalize(raw, routeChannel, routeAccountID, h.outbox.now())
	if err != nil {
		return "", "", err
	}

	release, err := h.limiter.Acquire(msg.Channel, msg.AccountID)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", err, msg.Key())
	}
	defer release()

	acc, err := h.accounts.Resolve(ctx, msg, token)
	if err != nil {
		return "", "", err
	}

	msg = h.media.Process(ctx, msg)

	route, err := h.router.Route(ctx, msg, acc)
	if err != nil {
		return "", "", err
	}

	sess, err := h.sessions.Resolve(ctx, msg, route)
	if err != nil {
		return "", "", err
	}

	h.auditMessage(ctx, msg, sess.SessionID, "inbound")
	h.saveMediaAssets(ctx, msg)
	h.monitor.MessageAccepted(msg, sess.SessionID)

	reply, err := h.orch.Run(ctx, AgentRequest{
		SessionID:     sess.SessionID,
		AgentID:       route.AgentID,
		UserID:        sess.UserID,
		Text:          msg.Text,
		Attachments:   msg.Attachments,
		ToolOverrides: route.ToolOverrides,
		Metadata:      msg.Meta,
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrOrchestrator, err)
	}
	if reply == nil || (reply.Text == "" && len(reply.Attachments) == 0) {
		return sess.SessionID, "", nil
	}

	if reply.Text != "" && sess.TTSEnabled != nil && *sess.TTSEnabled {
		if att, err := h.media.SynthesizeTTS(ctx, reply.Text, sess.TTSVoice); err != nil {
			logger.Warn("synthesize tts", "session_id", sess.SessionID, "error", err)
		} else if att != nil {
			reply.Attachments = append(reply.Attachments, *att)
		}
	}

	out := OutboundMessage{
		Channel:     msg.Channel,
		AccountID:   msg.AccountID,
		Peer:        msg.Peer,
		ThreadID:    msg.ThreadID,
		Text:        reply.Text,
		Attachments: reply.Attachments,
		Meta:        reply.Metadata,
	}
	outboxID, err = h.outbox.Enqueue(ctx, out)
	if err != nil {
		return "", "", err
	}
	h.auditOutbound(ctx, out, sess.SessionID)

	// Without the background worker, deliver in-line so single-node
	// deployments still drain the queue.
	if !h.cfg.Outbox.WorkerEnabled {
		if err := h.outbox.DrainOnce(ctx); err != nil {
			logger.Error("inline outbox drain", "error", err)
		}
	}
	return sess.SessionID, outboxID, nil
}

// auditMessage records the inbound message for later inspection. Audit
// failures are logged and never abort the pipeline.
func (h *Hub) auditMessage(ctx context.Context, msg Message, sessionID, direction string) {
	body, err := json.Marshal(msg)
	if err != nil {
		logger.Error("encode audit body", "error", err)
		return
	}
	rec := &MessageRecord{
		Channel:   msg.Channel,
		AccountID: msg.AccountID,
		PeerKind:  msg.Peer.Kind,
		PeerID:    msg.Peer.ID,
		ThreadID:  msg.ThreadID,
		MessageID: msg.MessageID,
		SenderID:  msg.Sender.ID,
		SessionID: sessionID,
		Direction: direction,
		Body:      body,
	}
	if err := h.store.SaveMessage(ctx, rec); err != nil {
		logger.Error("save message audit", "channel", msg.Channel, "error", err)
		h.monitor.PersistenceFailed("message_audit", err)
	}
}

func (h *Hub) auditOutbound(ctx context.Context, out OutboundMessage, sessionID string) {
	body, err := json.Marshal(out)
	if err != nil {
		logger.Error("encode audit body", "error", err)
		return
	}
	rec := &MessageRecord{
		Channel:   out.Channel,
		AccountID: out.AccountID,
		PeerKind:  out.Peer.Kind,
		PeerID:    out.Peer.ID,
		ThreadID:  out.ThreadID,
		SessionID: sessionID,
		Direction: "outbound",
		Body:      body,
	}
	if err := h.store.SaveMessage(ctx, rec); err != nil {
		logger.Error("save message audit", "channel", out.Channel, "error", err)
		h.monitor.PersistenceFailed("message_audit", err)
	}
}

func (h *Hub) saveMediaAssets(ctx context.Context, msg Message) {
	for _, att := range msg.Attachments {
		if att.URL == "" {
			continue
		}
		asset := &MediaAsset{
			Channel:   msg.Channel,
			AccountID: msg.AccountID,
			Kind:      att.Type,
			URL:       att.URL,
			Name:      att.Name,
			Mime:      att.Mime,
			Size:      att.Size,
			Metadata:  att.Metadata,
		}
		if err := h.store.UpsertMediaAsset(ctx, asset); err != nil {
			logger.Error("save media asset", "url", att.URL, "error", err)
			h.monitor.PersistenceFailed("media_asset", err)
		}
	}
}
