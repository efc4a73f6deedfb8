package modules

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/relaydesk/channelhub/internal/channel"
	"github.com/relaydesk/channelhub/internal/channel/adapters/feishu"
	"github.com/relaydesk/channelhub/internal/channel/adapters/telegram"
	"github.com/relaydesk/channelhub/internal/channel/adapters/whatsapp"
	"github.com/relaydesk/channelhub/internal/config"
	"github.com/relaydesk/channelhub/internal/media"
	"github.com/relaydesk/channelhub/internal/monitor"
	"github.com/relaydesk/channelhub/internal/orchestrator"
	"github.com/relaydesk/channelhub/internal/storage"
)

var HubModule = fx.Module(
	"hub",
	fx.Provide(
		provideStore,
		provideRegistry,
		provideMonitor,
		provideMedia,
		provideOrchestrator,
		provideRuntime,
		provideLimiter,
		provideAccountResolver,
		provideRouter,
		provideSessionManager,
		provideOutbox,
		provideHub,
	),
	fx.Invoke(startOutbox),
)

// ---------------------------------------------------------------------------
// hub providers
// ---------------------------------------------------------------------------

func provideStore(pool *pgxpool.Pool) *storage.Store {
	return storage.NewStore(pool)
}

func provideRegistry(log *slog.Logger) *channel.Registry {
	registry := channel.NewRegistry()
	registry.Register(telegram.NewAdapter(log))
	registry.Register(feishu.NewAdapter(log))
	registry.Register(whatsapp.NewAdapter(log))
	return registry
}

func provideMonitor(log *slog.Logger) channel.Monitor {
	return monitor.NewLogMonitor(log)
}

func provideMedia(log *slog.Logger) channel.MediaProcessor {
	return media.NewProcessor(log)
}

func provideOrchestrator(cfg config.Config) channel.Orchestrator {
	return orchestrator.NewClient(cfg.AgentGateway)
}

func provideRuntime(store *storage.Store) channel.AgentRuntime {
	return storage.NewAgentRuntime(store)
}

func provideLimiter(cfg config.Config) *channel.Limiter {
	return channel.NewLimiter(cfg.Channels.RateLimit)
}

func provideAccountResolver(store *storage.Store, cfg config.Config) *channel.AccountResolver {
	return channel.NewAccountResolver(store, cfg.Channels)
}

func provideRouter(store *storage.Store, cfg config.Config) *channel.Router {
	return channel.NewRouter(store, cfg.Channels.DefaultAgentID, cfg.Channels.DefaultToolOverrides)
}

func provideSessionManager(store *storage.Store, runtime channel.AgentRuntime, cfg config.Config) *channel.SessionManager {
	return channel.NewSessionManager(store, runtime, cfg.Channels.SessionStrategy)
}

func provideOutbox(store *storage.Store, registry *channel.Registry, mon channel.Monitor, cfg config.Config) *channel.Outbox {
	return channel.NewOutbox(store, registry, mon, cfg.Channels.Outbox)
}

func provideHub(
	cfg config.Config,
	limiter *channel.Limiter,
	accounts *channel.AccountResolver,
	router *channel.Router,
	sessions *channel.SessionManager,
	outbox *channel.Outbox,
	store *storage.Store,
	orch channel.Orchestrator,
	mediaProc channel.MediaProcessor,
	mon channel.Monitor,
) *channel.Hub {
	return channel.NewHub(cfg.Channels, limiter, accounts, router, sessions, outbox, store, orch, mediaProc, mon)
}

func startOutbox(lc fx.Lifecycle, cfg config.Config, outbox *channel.Outbox) {
	if !cfg.Channels.Outbox.WorkerEnabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			outbox.Start()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			return outbox.Shutdown(stopCtx)
		},
	})
}
