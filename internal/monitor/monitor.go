// Package monitor emits pipeline lifecycle events as structured logs.
package monitor

import (
	"log/slog"

	"github.com/relaydesk/channelhub/internal/channel"
)

// LogMonitor is the default channel.Monitor.
type LogMonitor struct {
	logger *slog.Logger
}

func NewLogMonitor(log *slog.Logger) *LogMonitor {
	if log == nil {
		log = slog.Default()
	}
	return &LogMonitor{logger: log.With(slog.String("component", "monitor"))}
}

func (m *LogMonitor) MessageAccepted(msg channel.Message, sessionID string) {
	m.logger.Info("message accepted",
		slog.String("channel", msg.Channel),
		slog.String("account_id", msg.AccountID),
		slog.String("peer_kind", msg.Peer.Kind),
		slog.String("peer_id", msg.Peer.ID),
		slog.String("session_id", sessionID))
}

func (m *LogMonitor) MessageRejected(msg channel.Message, reason error) {
	m.logger.Warn("message rejected",
		slog.String("channel", msg.Channel),
		slog.String("account_id", msg.AccountID),
		slog.String("peer_id", msg.Peer.ID),
		slog.Any("reason", reason))
}

func (m *LogMonitor) DeliverySucceeded(rec *channel.OutboxRecord) {
	m.logger.Info("delivery succeeded",
		slog.String("outbox_id", rec.ID),
		slog.String("channel", rec.Channel),
		slog.String("account_id", rec.AccountID))
}

func (m *LogMonitor) DeliveryFailed(rec *channel.OutboxRecord, err error) {
	m.logger.Warn("delivery failed",
		slog.String("outbox_id", rec.ID),
		slog.String("channel", rec.Channel),
		slog.String("account_id", rec.AccountID),
		slog.Int("retry_count", rec.RetryCount),
		slog.Any("error", err))
}

func (m *LogMonitor) PersistenceFailed(kind string, err error) {
	m.logger.Warn("persistence failed",
		slog.String("kind", kind),
		slog.Any("error", err))
}
