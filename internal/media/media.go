// Package media prepares inbound attachments before they reach the agent.
package media

import (
	"context"
	"log/slog"

	"github.com/relaydesk/channelhub/internal/channel"
)

// Processor is a pass-through channel.MediaProcessor. Provider URLs are
// forwarded as-is; attachments without a URL are dropped since nothing
// downstream can fetch them.
type Processor struct {
	logger *slog.Logger
}

func NewProcessor(log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{logger: log.With(slog.String("component", "media"))}
}

func (p *Processor) Process(_ context.Context, msg channel.Message) channel.Message {
	if len(msg.Attachments) == 0 {
		return msg
	}
	kept := msg.Attachments[:0]
	for _, att := range msg.Attachments {
		if att.URL == "" {
			p.logger.Warn("drop attachment without url",
				slog.String("channel", msg.Channel),
				slog.String("type", att.Type))
			continue
		}
		kept = append(kept, att)
	}
	msg.Attachments = kept
	return msg
}

// SynthesizeTTS is a no-op until a speech engine is plugged in; the hub
// treats a nil attachment as "send text only".
func (p *Processor) SynthesizeTTS(context.Context, string, string) (*channel.Attachment, error) {
	return nil, nil
}
