// Command hub runs the channel hub: the inbound/outbound messaging gateway
// between chat providers and the agent gateway.
package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/relaydesk/channelhub/cmd/hub/modules"
	migrations "github.com/relaydesk/channelhub/db"
	"github.com/relaydesk/channelhub/internal/db"
	"github.com/relaydesk/channelhub/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "hub",
		Short: "Channel hub messaging gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			serve()
			return nil
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and outbox worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			serve()
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate [up|down|version|force N]",
		Short: "Apply or roll back database migrations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(args[0], args[1:])
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() {
	fx.New(
		modules.InfraModule,
		modules.HubModule,
		modules.ServerModule,
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func runMigrate(command string, args []string) error {
	cfg, err := modules.ProvideConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	migrationsFS, err := fs.Sub(migrations.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	return db.RunMigrate(logger.L, cfg.Postgres, migrationsFS, command, args)
}
