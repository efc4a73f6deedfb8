// Package handlers exposes the hub's HTTP surface: provider webhooks and
// outbox inspection.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/relaydesk/channelhub/internal/channel"
	"github.com/relaydesk/channelhub/internal/channel/adapters/whatsapp"
)

// WebhookHandler receives provider webhooks and feeds them into the hub.
type WebhookHandler struct {
	hub    *channel.Hub
	store  channel.Store
	logger *slog.Logger
}

func NewWebhookHandler(hub *channel.Hub, store channel.Store, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{hub: hub, store: store, logger: log.With(slog.String("component", "webhook"))}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	// WhatsApp needs its own routes for the subscribe challenge and the
	// signed POST body, registered before the generic provider route.
	e.GET("/channel/whatsapp/webhook", h.WhatsAppChallenge)
	e.POST("/channel/whatsapp/webhook", h.WhatsAppInbound)

	e.POST("/channel/:provider/webhook", h.Inbound)

	e.GET("/channel/outbox/:id", h.GetOutbox)
	e.GET("/channel/outbox", h.ListOutbox)
}

// Inbound handles the generic provider webhook. The body may be a single
// message, an array, or a {"messages": [...]} envelope; only a completely
// unparseable body is a 400. Per-message failures come back inside the
// result with HTTP 200.
func (h *WebhookHandler) Inbound(c echo.Context) error {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}

	res, err := h.hub.HandleInbound(
		c.Request().Context(),
		provider,
		accountIDOverride(c),
		inboundToken(c),
		body,
	)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, DataResponse{Data: res})
}

// WhatsAppChallenge answers Meta's webhook subscribe handshake: echo
// hub.challenge when hub.mode is "subscribe" and the verify token matches
// one of the active accounts.
func (h *WebhookHandler) WhatsAppChallenge(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if mode != "subscribe" || token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subscribe request")
	}

	accounts, err := h.store.ListActiveAccounts(c.Request().Context(), whatsapp.Name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, acc := range accounts {
		if whatsapp.VerifyToken(acc) == token {
			return c.String(http.StatusOK, challenge)
		}
	}
	return echo.NewHTTPError(http.StatusForbidden, "verify token mismatch")
}

// WhatsAppInbound checks the X-Hub-Signature-256 header against each
// active account's app secret before handing the body to the hub.
func (h *WebhookHandler) WhatsAppInbound(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}

	signature := c.Request().Header.Get("X-Hub-Signature-256")
	acc, err := h.verifyWhatsAppSignature(c.Request().Context(), body, signature)
	if err != nil {
		return err
	}

	res, err := h.hub.HandleInbound(
		c.Request().Context(),
		whatsapp.Name,
		acc.AccountID,
		acc.InboundToken,
		body,
	)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, DataResponse{Data: res})
}

func (h *WebhookHandler) verifyWhatsAppSignature(ctx context.Context, body []byte, signature string) (*channel.Account, error) {
	accounts, err := h.store.ListActiveAccounts(ctx, whatsapp.Name)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, acc := range accounts {
		if whatsapp.VerifySignature(whatsapp.AppSecret(acc), body, signature) {
			return acc, nil
		}
	}
	return nil, echo.NewHTTPError(http.StatusUnauthorized, "signature mismatch")
}

// GetOutbox returns one outbox record for inspection.
func (h *WebhookHandler) GetOutbox(c echo.Context) error {
	rec, err := h.store.GetOutbox(c.Request().Context(), c.Param("id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, DataResponse{Data: outboxView(rec)})
}

// ListOutbox returns recent outbox records filtered by status.
func (h *WebhookHandler) ListOutbox(c echo.Context) error {
	status := strings.ToLower(strings.TrimSpace(c.QueryParam("status")))
	switch status {
	case channel.OutboxStatusPending, channel.OutboxStatusRetry,
		channel.OutboxStatusSent, channel.OutboxStatusFailed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be pending, retry, sent, or failed")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = parsed
	}

	records, err := h.store.ListOutboxByStatus(c.Request().Context(), status, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		views = append(views, outboxView(rec))
	}
	return c.JSON(http.StatusOK, DataResponse{Data: views})
}

func outboxView(rec *channel.OutboxRecord) map[string]any {
	view := map[string]any{
		"id":          rec.ID,
		"channel":     rec.Channel,
		"account_id":  rec.AccountID,
		"peer_kind":   rec.PeerKind,
		"peer_id":     rec.PeerID,
		"status":      rec.Status,
		"retry_count": rec.RetryCount,
		"retry_at":    rec.RetryAt,
		"created_at":  rec.CreatedAt,
	}
	if rec.ThreadID != "" {
		view["thread_id"] = rec.ThreadID
	}
	if rec.LastError != "" {
		view["last_error"] = rec.LastError
	}
	if rec.DeliveredAt != nil {
		view["delivered_at"] = rec.DeliveredAt
	}
	return view
}

// accountIDOverride reads the account id the caller routes under when the
// payload omits it: the account_id query param, then the X-Account-ID
// header.
func accountIDOverride(c echo.Context) string {
	if id := strings.TrimSpace(c.QueryParam("account_id")); id != "" {
		return id
	}
	return strings.TrimSpace(c.Request().Header.Get("X-Account-ID"))
}

// inboundToken extracts the caller's shared secret from X-Channel-Token or
// a bearer Authorization header.
func inboundToken(c echo.Context) string {
	if token := strings.TrimSpace(c.Request().Header.Get("X-Channel-Token")); token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Request().Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}
