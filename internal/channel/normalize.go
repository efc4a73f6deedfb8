package channel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// inboundEnvelope matches the {"messages": [...]} wrapper some providers
// and relay bridges post.
type inboundEnvelope struct {
	Messages []json.RawMessage `json:"messages"`
}

// ParseInbound decodes a webhook body into one or more raw messages. Three
// shapes are accepted: a single JSON object, a JSON array of objects, and
// an object with a "messages" array.
func ParseInbound(body []byte) ([]Message, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	switch trimmed[0] {
	case '[':
		var msgs []Message
		if err := json.Unmarshal(body, &msgs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return msgs, nil
	case '{':
		var env inboundEnvelope
		if err := json.Unmarshal(body, &env); err == nil && env.Messages != nil {
			msgs := make([]Message, 0, len(env.Messages))
			for i, raw := range env.Messages {
				var msg Message
				if err := json.Unmarshal(raw, &msg); err != nil {
					return nil, fmt.Errorf("%w: messages[%d]: %v", ErrInvalidPayload, i, err)
				}
				msgs = append(msgs, msg)
			}
			return msgs, nil
		}
		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return []Message{msg}, nil
	default:
		return nil, fmt.Errorf("%w: body is not a JSON object or array", ErrInvalidPayload)
	}
}

// Normalize fills routing fields from the webhook path, lowercases the
// channel and peer kind, and applies defaults. The channel from the URL
// always wins over a channel embedded in the payload; the account id from
// the URL is a fallback when the payload carries none.
func Normalize(msg Message, routeChannel, routeAccountID string, now time.Time) (Message, error) {
	if routeChannel != "" {
		msg.Channel = routeChannel
	}
	msg.Channel = strings.ToLower(strings.TrimSpace(msg.Channel))
	if msg.Channel == "" {
		return msg, ErrMissingChannel
	}

	msg.AccountID = strings.TrimSpace(msg.AccountID)
	if msg.AccountID == "" {
		msg.AccountID = strings.TrimSpace(routeAccountID)
	}
	if msg.AccountID == "" {
		return msg, ErrMissingAccountID
	}

	msg.Peer.Kind = strings.ToLower(strings.TrimSpace(msg.Peer.Kind))
	if msg.Peer.Kind == "" {
		msg.Peer.Kind = PeerKindDM
	}
	msg.Peer.ID = strings.TrimSpace(msg.Peer.ID)
	if msg.Peer.ID == "" {
		return msg, fmt.Errorf("%w: peer.id is required", ErrInvalidPayload)
	}

	if msg.Type == "" {
		msg.Type = defaultMessageType(msg)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	return msg, nil
}

func defaultMessageType(msg Message) string {
	if len(msg.Attachments) == 0 {
		return MessageTypeText
	}
	switch strings.ToLower(msg.Attachments[0].Type) {
	case MessageTypeImage, "photo":
		return MessageTypeImage
	case MessageTypeAudio, "voice":
		return MessageTypeAudio
	case MessageTypeVideo:
		return MessageTypeVideo
	default:
		return MessageTypeFile
	}
}
