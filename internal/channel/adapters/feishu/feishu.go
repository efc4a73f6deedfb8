// Package feishu delivers outbound messages through the Feishu (Lark)
// open platform.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/relaydesk/channelhub/internal/channel"
)

// Name is the channel identifier this adapter registers under.
const Name = "feishu"

type Adapter struct {
	logger *slog.Logger
}

func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{logger: log.With(slog.String("adapter", Name))}
}

func (a *Adapter) Name() string {
	return Name
}

// CanSend requires app_id and app_secret in the account credentials.
func (a *Adapter) CanSend(acc *channel.Account) bool {
	appID, appSecret := appCredentials(acc)
	return appID != "" && appSecret != ""
}

func (a *Adapter) SendOutbound(ctx context.Context, out channel.OutboundContext) error {
	appID, appSecret := appCredentials(out.Account)
	if appID == "" || appSecret == "" {
		return fmt.Errorf("feishu app credentials are required")
	}

	receiveID, receiveType, err := resolveReceiveID(strings.TrimSpace(out.Message.Peer.ID))
	if err != nil {
		return err
	}

	client := lark.NewClient(appID, appSecret)

	text := strings.TrimSpace(out.Message.Text)
	if text == "" && len(out.Message.Attachments) == 0 {
		return fmt.Errorf("message is required")
	}
	if text == "" {
		// URL fallback: the hub does not re-upload media to Feishu, it
		// sends attachment links as text.
		text = attachmentLinks(out.Message.Attachments)
	} else if len(out.Message.Attachments) > 0 {
		text = text + "\n" + attachmentLinks(out.Message.Attachments)
	}

	payload, _ := json.Marshal(map[string]string{"text": text})
	content := string(payload)

	if replyID := strings.TrimSpace(out.Message.ThreadID); replyID != "" {
		replyReq := larkim.NewReplyMessageReqBuilder().
			MessageId(replyID).
			Body(larkim.NewReplyMessageReqBodyBuilder().
				Content(content).
				MsgType(larkim.MsgTypeText).
				Uuid(uuid.NewString()).
				Build()).
			Build()
		resp, err := client.Im.V1.Message.Reply(ctx, replyReq)
		return a.handleReplyResponse(out.Account.AccountID, resp, err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(larkim.MsgTypeText).
			Content(content).
			Uuid(uuid.NewString()).
			Build()).
		Build()
	resp, err := client.Im.V1.Message.Create(ctx, req)
	return a.handleResponse(out.Account.AccountID, resp, err)
}

func appCredentials(acc *channel.Account) (string, string) {
	if acc == nil {
		return "", ""
	}
	appID, _ := acc.Credentials["app_id"].(string)
	appSecret, _ := acc.Credentials["app_secret"].(string)
	return strings.TrimSpace(appID), strings.TrimSpace(appSecret)
}

// resolveReceiveID maps a prefixed peer id ("open_id:...", "user_id:...",
// "chat_id:...") to the Feishu receive id and type. Unprefixed ids are
// treated as open ids.
func resolveReceiveID(raw string) (string, string, error) {
	if raw == "" {
		return "", "", fmt.Errorf("feishu target is required")
	}
	switch {
	case strings.HasPrefix(raw, "open_id:"):
		return strings.TrimPrefix(raw, "open_id:"), larkim.ReceiveIdTypeOpenId, nil
	case strings.HasPrefix(raw, "user_id:"):
		return strings.TrimPrefix(raw, "user_id:"), larkim.ReceiveIdTypeUserId, nil
	case strings.HasPrefix(raw, "chat_id:"):
		return strings.TrimPrefix(raw, "chat_id:"), larkim.ReceiveIdTypeChatId, nil
	}
	return raw, larkim.ReceiveIdTypeOpenId, nil
}

func attachmentLinks(atts []channel.Attachment) string {
	links := make([]string, 0, len(atts))
	for _, att := range atts {
		if att.URL != "" {
			links = append(links, att.URL)
		}
	}
	return strings.Join(links, "\n")
}

func (a *Adapter) handleReplyResponse(accountID string, resp *larkim.ReplyMessageResp, err error) error {
	if err != nil {
		a.logger.Error("reply failed", slog.String("account_id", accountID), slog.Any("error", err))
		return err
	}
	if resp == nil || !resp.Success() {
		code := 0
		msg := ""
		if resp != nil {
			code = resp.Code
			msg = resp.Msg
		}
		a.logger.Error("reply failed", slog.String("account_id", accountID), slog.Int("code", code), slog.String("msg", msg))
		return fmt.Errorf("feishu reply failed: %s (code: %d)", msg, code)
	}
	a.logger.Info("reply success", slog.String("account_id", accountID))
	return nil
}

func (a *Adapter) handleResponse(accountID string, resp *larkim.CreateMessageResp, err error) error {
	if err != nil {
		a.logger.Error("send failed", slog.String("account_id", accountID), slog.Any("error", err))
		return err
	}
	if resp == nil || !resp.Success() {
		code := 0
		msg := ""
		if resp != nil {
			code = resp.Code
			msg = resp.Msg
		}
		a.logger.Error("send failed", slog.String("account_id", accountID), slog.Int("code", code), slog.String("msg", msg))
		return fmt.Errorf("feishu send failed: %s (code: %d)", msg, code)
	}
	a.logger.Info("send success", slog.String("account_id", accountID))
	return nil
}
