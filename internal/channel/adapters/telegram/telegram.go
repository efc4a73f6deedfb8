// Package telegram delivers outbound messages through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/relaydesk/channelhub/internal/channel"
)

// Name is the channel identifier this adapter registers under.
const Name = "telegram"

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

// CanSend requires a bot token in the account credentials.
func (a *Adapter) CanSend(acc *channel.Account) bool {
	return botToken(acc) != ""
}

func (a *Adapter) SendOutbound(ctx context.Context, out channel.OutboundContext) error {
	token := botToken(out.Account)
	if token == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	target := strings.TrimSpace(out.Message.Peer.ID)
	if target == "" {
		return fmt.Errorf("telegram target is required")
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("account_id", out.Account.AccountID), slog.Any("error", err))
		return err
	}

	text := strings.TrimSpace(out.Message.Text)
	replyTo := parseReplyToMessageID(out.Message.ThreadID)

	if len(out.Message.Attachments) > 0 {
		usedCaption := false
		for i, att := range out.Message.Attachments {
			caption := ""
			if !usedCaption && text != "" {
				caption = text
				usedCaption = true
			}
			applyReply := replyTo
			if i > 0 {
				applyReply = 0
			}
			if err := sendAttachment(bot, target, att, caption, applyReply); err != nil {
				a.logger.Error("send attachment failed", slog.String("account_id", out.Account.AccountID), slog.Any("error", err))
				return err
			}
		}
		if text != "" && !usedCaption {
			return sendText(bot, target, text, replyTo)
		}
		return nil
	}
	if text == "" {
		return fmt.Errorf("message is required")
	}
	return sendText(bot, target, text, replyTo)
}

func botToken(acc *channel.Account) string {
	if acc == nil {
		return ""
	}
	token, _ := acc.Credentials["bot_token"].(string)
	return strings.TrimSpace(token)
}

func parseReplyToMessageID(threadID string) int {
	raw := strings.TrimSpace(threadID)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}

func sendText(bot *tgbotapi.BotAPI, target, text string, replyTo int) error {
	if strings.HasPrefix(target, "@") {
		message := tgbotapi.NewMessageToChannel(target, text)
		if replyTo > 0 {
			message.ReplyToMessageID = replyTo
		}
		_, err := bot.Send(message)
		return err
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target must be @username or chat_id")
	}
	message := tgbotapi.NewMessage(chatID, text)
	if replyTo > 0 {
		message.ReplyToMessageID = replyTo
	}
	_, err = bot.Send(message)
	return err
}

func sendAttachment(bot *tgbotapi.BotAPI, target string, att channel.Attachment, caption string, replyTo int) error {
	if strings.TrimSpace(att.URL) == "" {
		return fmt.Errorf("attachment url is required")
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram attachment target must be chat_id")
	}
	file := tgbotapi.FileURL(att.URL)

	switch strings.ToLower(att.Type) {
	case channel.MessageTypeImage, "photo":
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		if replyTo > 0 {
			photo.ReplyToMessageID = replyTo
		}
		_, err = bot.Send(photo)
	case channel.MessageTypeAudio, "voice":
		audio := tgbotapi.NewAudio(chatID, file)
		audio.Caption = caption
		if replyTo > 0 {
			audio.ReplyToMessageID = replyTo
		}
		_, err = bot.Send(audio)
	case channel.MessageTypeVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = caption
		if replyTo > 0 {
			video.ReplyToMessageID = replyTo
		}
		_, err = bot.Send(video)
	default:
		doc := tgbotapi.NewDocument(chatID, file)
		doc.Caption = caption
		if replyTo > 0 {
			doc.ReplyToMessageID = replyTo
		}
		_, err = bot.Send(doc)
	}
	return err
}
