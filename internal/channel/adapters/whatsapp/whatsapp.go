// Package whatsapp delivers outbound messages through the WhatsApp Cloud
// API and verifies inbound webhook signatures.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/relaydesk/channelhub/internal/channel"
)

// Name is the channel identifier this adapter registers under.
const Name = "whatsapp"

const defaultGraphBase = "https://graph.facebook.com/v19.0"

type Adapter struct {
	logger *slog.Logger
	client *http.Client
	base   string
}

func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", Name)),
		client: http.DefaultClient,
		base:   defaultGraphBase,
	}
}

func (a *Adapter) Name() string {
	return Name
}

// CanSend requires an access token and phone number id in the account
// credentials.
func (a *Adapter) CanSend(acc *channel.Account) bool {
	token, phoneID := cloudCredentials(acc)
	return token != "" && phoneID != ""
}

func (a *Adapter) SendOutbound(ctx context.Context, out channel.OutboundContext) error {
	token, phoneID := cloudCredentials(out.Account)
	if token == "" || phoneID == "" {
		return fmt.Errorf("whatsapp cloud credentials are required")
	}
	to := strings.TrimSpace(out.Message.Peer.ID)
	if to == "" {
		return fmt.Errorf("whatsapp target is required")
	}

	payloads, err := buildPayloads(to, out.Message)
	if err != nil {
		return err
	}
	for _, payload := range payloads {
		if err := a.post(ctx, token, phoneID, payload); err != nil {
			a.logger.Error("send failed", slog.String("account_id", out.Account.AccountID), slog.Any("error", err))
			return err
		}
	}
	a.logger.Info("send success", slog.String("account_id", out.Account.AccountID))
	return nil
}

// buildPayloads converts an outbound message into one Cloud API request
// per part: each attachment becomes its own message, the text rides as
// the first media caption when possible.
func buildPayloads(to string, msg channel.OutboundMessage) ([]map[string]any, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" && len(msg.Attachments) == 0 {
		return nil, fmt.Errorf("message is required")
	}

	var payloads []map[string]any
	usedCaption := false
	for _, att := range msg.Attachments {
		if att.URL == "" {
			continue
		}
		kind := mediaKind(att.Type)
		media := map[string]any{"link": att.URL}
		if !usedCaption && text != "" && kind != "audio" {
			media["caption"] = text
			usedCaption = true
		}
		payloads = append(payloads, map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              kind,
			kind:                media,
		})
	}
	if text != "" && !usedCaption {
		payloads = append(payloads, map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "text",
			"text":              map[string]any{"body": text},
		})
	}
	return payloads, nil
}

func mediaKind(attType string) string {
	switch strings.ToLower(attType) {
	case channel.MessageTypeImage, "photo":
		return "image"
	case channel.MessageTypeAudio, "voice":
		return "audio"
	case channel.MessageTypeVideo:
		return "video"
	default:
		return "document"
	}
}

func (a *Adapter) post(ctx context.Context, token, phoneID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", a.base, phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("cloud api post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("cloud api status %d: %s", resp.StatusCode, detail)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func cloudCredentials(acc *channel.Account) (string, string) {
	if acc == nil {
		return "", ""
	}
	token, _ := acc.Credentials["access_token"].(string)
	phoneID, _ := acc.Credentials["phone_number_id"].(string)
	return strings.TrimSpace(token), strings.TrimSpace(phoneID)
}

// AppSecret returns the Meta app secret used for webhook signatures.
func AppSecret(acc *channel.Account) string {
	if acc == nil {
		return ""
	}
	secret, _ := acc.Credentials["app_secret"].(string)
	return strings.TrimSpace(secret)
}

// VerifyToken returns the account's webhook subscribe verify token.
func VerifyToken(acc *channel.Account) string {
	if acc == nil {
		return ""
	}
	token, _ := acc.Credentials["verify_token"].(string)
	return strings.TrimSpace(token)
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw
// body using HMAC-SHA256 keyed with the app secret. The header carries a
// "sha256=" prefix.
func VerifySignature(appSecret string, body []byte, header string) bool {
	if appSecret == "" || header == "" {
		return false
	}
	sig := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
