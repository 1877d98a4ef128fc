// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/hnwatch/hnwatch/internal/config"
	"github.com/hnwatch/hnwatch/internal/logging"
	"github.com/hnwatch/hnwatch/internal/notify"
	"github.com/hnwatch/hnwatch/internal/notify/memory"
	notifypubsub "github.com/hnwatch/hnwatch/internal/notify/pubsub"
	"github.com/hnwatch/hnwatch/internal/store"
	"github.com/hnwatch/hnwatch/internal/store/postgres"
	"github.com/hnwatch/hnwatch/internal/store/sqlite"
)

// App holds the shared, long-lived services for the application. It is
// initialized once at startup and handed to the commands that need it.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     store.Store
	Publisher notify.Publisher

	pubsubClient *gcppubsub.Client
}

// New builds the service container from configuration. It fails fast
// when any backend cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	switch cfg.Store.Provider {
	case "sqlite":
		logger.Info("using sqlite store", zap.String("path", cfg.Store.SQLite.Path))
		a.Store, err = sqlite.New(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite store: %w", err)
		}
	case "postgres":
		logger.Info("using postgres store")
		if err := postgres.Migrate(cfg.Store.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		a.Store, err = postgres.New(ctx, postgres.Config{
			DSN:      cfg.Store.Postgres.DSN,
			MaxConns: cfg.Store.Postgres.MaxConns,
			MinConns: cfg.Store.Postgres.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown store provider: %s", cfg.Store.Provider)
	}

	switch cfg.Notify.Provider {
	case "noop":
		a.Publisher = notify.Noop{}
	case "memory":
		a.Publisher = memory.New()
	case "pubsub":
		logger.Info("connecting to pub/sub",
			zap.String("project", cfg.Notify.ProjectID),
			zap.String("topic", cfg.Notify.TopicName))
		client, err := gcppubsub.NewClient(ctx, cfg.Notify.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("initialize pubsub client: %w", err)
		}
		a.pubsubClient = client
		a.Publisher = notifypubsub.New(client.Publisher(cfg.Notify.TopicName))
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Notify.Provider)
	}

	return a, nil
}

// Close shuts down the container's services. It is called by a Cobra
// hook after the command finishes.
func (a *App) Close() {
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Logger.Warn("error closing pubsub client", zap.Error(err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("error closing store", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
