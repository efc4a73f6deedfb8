package modules

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/relaydesk/channelhub/internal/channel"
	"github.com/relaydesk/channelhub/internal/config"
	"github.com/relaydesk/channelhub/internal/handlers"
	"github.com/relaydesk/channelhub/internal/server"
	"github.com/relaydesk/channelhub/internal/storage"
)

var ServerModule = fx.Module(
	"server",
	fx.Provide(
		provideWebhookHandler,
		provideServer,
	),
	fx.Invoke(startServer),
)

// ---------------------------------------------------------------------------
// server
// ---------------------------------------------------------------------------

func provideWebhookHandler(hub *channel.Hub, store *storage.Store, log *slog.Logger) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(hub, store, log)
}

func provideServer(log *slog.Logger, cfg config.Config, webhook *handlers.WebhookHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, webhook)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	})
}
