package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/inspersync/inspersync/adapter/cli"
	"github.com/inspersync/inspersync/internal/app"
	"github.com/inspersync/inspersync/pkg/config"
	"github.com/inspersync/inspersync/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		// In development without .env, fall back to defaults.
		logger.Warn("failed to load config, using development mode", "error", err)
		cfg = &config.Config{
			AppEnv:        "development",
			LocalMode:     true,
			SQLitePath:    "inspersync.db",
			InsperBaseURL: "https://sga.insper.edu.br",
			SyncSourceURL: "https://sync.insper.dev",
		}
	}

	// The container is built before cobra parses flags, so --local is
	// picked off the raw arguments.
	for _, arg := range os.Args[1:] {
		if arg == "--local" {
			cfg.LocalMode = true
		}
	}

	logger = loggerFor(cfg)
	cli.SetLogger(logger)

	container, err := newContainer(ctx, cfg, logger)
	if err != nil {
		if cfg.IsDevelopment() {
			// Commands that need the backend will report it themselves.
			logger.Warn("failed to initialize container, running in limited mode", "error", err)
		} else {
			logger.Error("failed to initialize container", "error", err)
			os.Exit(1)
		}
	} else {
		defer container.Close()

		cli.SetApp(&cli.App{
			Users:        container.UserRepo,
			Credentials:  container.CredentialsService,
			Auth:         container.AuthService,
			Portal:       container.PortalGateway,
			Configs:      container.ConfigRepo,
			Orchestrator: container.Orchestrator,
			SyncQueries:  container.SyncQueries,
		})
	}

	cli.ExecuteContext(ctx)
}

func newContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.Container, error) {
	if cfg.LocalMode {
		return app.NewLocalContainer(ctx, cfg, logger)
	}
	return app.NewContainer(ctx, cfg, logger)
}

func loggerFor(cfg *config.Config) *slog.Logger {
	logCfg := observability.DefaultLogConfig()
	if cfg.IsProduction() {
		logCfg = observability.ProductionLogConfig()
	}
	if cfg.LogLevel != "" {
		logCfg.Level = observability.LogLevel(cfg.LogLevel)
	}
	if cfg.LogFormat != "" {
		logCfg.Format = observability.LogFormat(cfg.LogFormat)
	}
	logCfg.ServiceVersion = cli.Version
	return observability.NewLogger(logCfg)
}
