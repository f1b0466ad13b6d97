// Package main implements the entry point for the melody API server, which
// accepts music generation requests, runs them on a bounded worker pool and
// reports their progress over HTTP and websockets.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/melody-api/internal/config"
	"github.com/phrazzld/melody-api/internal/platform/logger"
	"github.com/phrazzld/melody-api/internal/platform/sqlstore"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the binary without a
// subcommand starts the server.
func newRootCmd() *cobra.Command {
	var configFile string

	serve := newServeCmd(&configFile)
	root := &cobra.Command{
		Use:           "melody-api",
		Short:         "Music generation task service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"path to a YAML config file (default: ./config.yaml when present)")

	root.AddCommand(serve, newMigrateCmd(&configFile))
	return root
}

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(*configFile)
			cfg, log, err := initializeApp(loader)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			defer func() { _ = logger.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, cfg, loader, log); err != nil {
				log.Error("server exited with error", "error", err)
				return err
			}
			return nil
		},
	}
}

func newMigrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|reset|status|version]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{sqlstore.MigrateUp, sqlstore.MigrateDown, sqlstore.MigrateReset, sqlstore.MigrateStatus, sqlstore.MigrateVersion},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeApp(config.NewLoader(*configFile))
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			defer func() { _ = logger.Close() }()

			if err := runMigrations(cmd.Context(), cfg, args[0], log); err != nil {
				log.Error("migration failed", "command", args[0], "error", err)
				return err
			}
			return nil
		},
	}
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp(loader *config.Loader) (*config.Config, *slog.Logger, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"producer", cfg.Producer.Kind,
		"results", cfg.Storage.Results,
		"database", cfg.Database.Driver,
		"config_file", loader.ConfigFile())

	return cfg, log, nil
}

// runMigrations executes a goose command against the configured database.
func runMigrations(ctx context.Context, cfg *config.Config, command string, log *slog.Logger) error {
	if cfg.Database.Driver == config.DriverNone {
		return fmt.Errorf("no database configured: set database.driver to sqlite or postgres")
	}

	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("running migrations",
		"command", command,
		"driver", cfg.Database.Driver,
		"url", sqlstore.MaskDSN(cfg.Database.URL))

	return sqlstore.Migrate(ctx, db, command, log)
}
