// Package app wires the pipeline components together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quantflow/api"
	"quantflow/cache"
	"quantflow/config"
	"quantflow/database"
	"quantflow/marketdata"
	"quantflow/notifications"
	"quantflow/pipeline"
	"quantflow/realtime"
	"quantflow/sandbox"
)

// App holds all long-lived components of the service.
type App struct {
	cfg          *config.Config
	db           *database.DB
	redis        *cache.RedisClient
	broker       *realtime.Broker
	orchestrator *pipeline.Orchestrator
	server       *api.Server
	webhooks     *notifications.WebhookManager
	log          zerolog.Logger
	cancelRelay  context.CancelFunc
}

// New connects the database and cache, migrates the schema, and builds
// the pipeline and API.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	db, err := database.Connect(cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUser,
		cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	redis := cache.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, logger)

	provider := marketdata.NewCoinGeckoClient(cfg.MarketData.BaseURL, cfg.MarketData.APIKey,
		cfg.MarketData.RequestTimeout, cfg.MarketData.MaxRetryTime, logger)
	runner := sandbox.NewRunner(cfg.Sandbox.Timeout, cfg.Sandbox.WorkDirRoot, logger)
	specCache := cache.NewSpecCache(redis, cfg.Pipeline.SpecCacheTTL)

	orchestrator := pipeline.New(db.Executions(), db.Backtests(), runner, provider,
		specCache, redis, cfg.Pipeline.MaxConcurrentExecutions, logger)

	broker := realtime.NewBroker(logger)
	webhooks := notifications.NewWebhookManager(cfg.WebhookURLs, cfg.MarketData.MaxRetryTime, logger)
	server := api.NewServer(db, orchestrator, broker, logger)

	return &App{
		cfg:          cfg,
		db:           db,
		redis:        redis,
		broker:       broker,
		orchestrator: orchestrator,
		server:       server,
		webhooks:     webhooks,
		log:          logger,
	}, nil
}

// Run starts the broker, event relay, and HTTP server. It blocks until
// the server stops.
func (a *App) Run() error {
	go a.broker.Run()

	relayCtx, cancel := context.WithCancel(context.Background())
	a.cancelRelay = cancel
	go a.broker.Relay(relayCtx, a.redis, a.webhooks.NotifyTerminal)

	return a.server.Start(a.cfg.APIPort)
}

// Shutdown drains the HTTP server, stops in-flight executions, and
// closes connections.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown")
	}
	a.orchestrator.Shutdown()
	if a.cancelRelay != nil {
		a.cancelRelay()
	}
	if err := a.redis.Close(); err != nil {
		a.log.Warn().Err(err).Msg("redis close")
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("database close")
	}
	a.log.Info().Msg("shutdown complete")
}
