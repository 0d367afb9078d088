// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

// Command server runs one Tatami instance: the WebSocket hub, the
// command path, the bus consumers and the HTTP listeners, all under one
// supervision tree.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tatamilive/tatami/internal/api"
	"github.com/tatamilive/tatami/internal/auth"
	"github.com/tatamilive/tatami/internal/bus"
	"github.com/tatamilive/tatami/internal/config"
	"github.com/tatamilive/tatami/internal/dispatch"
	"github.com/tatamilive/tatami/internal/eventlog"
	"github.com/tatamilive/tatami/internal/hub"
	"github.com/tatamilive/tatami/internal/logging"
	"github.com/tatamilive/tatami/internal/store"
	"github.com/tatamilive/tatami/internal/supervisor"
	"github.com/tatamilive/tatami/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logging is not configured yet; stderr is all we have.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	instanceID := uuid.New().String()[:8]
	logging.Info().
		Str("instance_id", instanceID).
		Str("bind_addr", cfg.Server.BindAddr).
		Msg("starting tatami")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	busCfg := bus.Config{
		URL:           cfg.PubSub.URL,
		StreamName:    cfg.PubSub.StreamName,
		InstanceID:    instanceID,
		MaxReconnects: cfg.PubSub.MaxReconnects,
		ReconnectWait: cfg.PubSub.ReconnectWait,
	}

	streamInit, err := bus.NewStreamInitializer(busCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to pubsub")
	}
	defer streamInit.Close()

	initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
	err = streamInit.EnsureStream(initCtx)
	initCancel()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to provision stream")
	}

	leaseCtx, leaseCancel := context.WithTimeout(ctx, 10*time.Second)
	// The lease TTL is the ping interval, so holders renew every half ping
	// interval and a crashed holder's lease lapses within one.
	leases, err := bus.NewTickerLeases(leaseCtx, streamInit.JetStream(), instanceID, cfg.WebSocket.PingInterval())
	leaseCancel()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to provision ticker leases")
	}

	matchStore, closeStore, err := buildStore(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer closeStore()

	publisher, err := bus.NewPublisher(busCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create bus publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing publisher")
		}
	}()

	subscriber, err := bus.NewSubscriber(busCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create bus subscriber")
	}
	defer func() {
		if err := subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing subscriber")
		}
	}()

	verifier := auth.NewVerifier(cfg.Token.SharedSecret, cfg.Token.Issuer)

	h := hub.New(hub.Config{
		PingInterval:  cfg.WebSocket.PingInterval(),
		IdleTimeout:   cfg.WebSocket.IdleTimeout(),
		SendTimeout:   cfg.WebSocket.SendTimeout(),
		SendQueueSize: cfg.WebSocket.SendQueueSize,
		CommandRate:   cfg.Command.RateLimit,
		CommandBurst:  cfg.Command.RateBurst,
		StoreTimeout:  cfg.Database.CallTimeout,
	}, matchStore)

	tickers := hub.NewTickerManager(
		leases,
		publisher,
		matchStore,
		time.Duration(cfg.Match.TimerReconcileSeconds)*time.Second,
		cfg.Database.CallTimeout,
	)

	appender := eventlog.NewAppender(matchStore, cfg.Command.RetryMax)
	router := dispatch.NewRouter(appender, publisher)
	dispatcher := dispatch.NewDispatcher(subscriber, h)

	h.SetCommands(router)
	h.SetSubscriptions(dispatcher)
	h.SetTickers(tickers)
	tickers.SetCommands(router)

	handler := api.NewHandler(verifier, h, matchStore, streamInit, cfg.Server.CORSOrigins, cfg.Database.HealthTimeout)
	apiRouter := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:        cfg.Server.CORSOrigins,
		HandshakeRateLimit: cfg.Server.HandshakeRateLimit,
	})
	apiServer := &http.Server{
		Addr:              cfg.Server.BindAddr,
		Handler:           apiRouter,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.BindAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	// Bridge zerolog to slog for sutureslog.
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor tree")
	}

	tree.AddMessagingService(services.NewRunnerService("websocket-hub", h))
	tree.AddMessagingService(services.NewRunnerService("bus-dispatcher", dispatcher))
	tree.AddMessagingService(services.NewRunnerService("ticker-manager", tickers))
	tree.AddAPIService(services.NewHTTPServerServiceWithName(apiServer, cfg.Server.ShutdownTimeout, "api-server"))
	tree.AddAPIService(services.NewHTTPServerServiceWithName(metricsServer, cfg.Server.ShutdownTimeout, "metrics-server"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}

	logging.Info().Msg("stopped")
}

// buildStore selects the durable store. An empty database URL selects
// the in-memory store, which is only suitable for a single instance.
func buildStore(cfg *config.Config) (store.MatchStore, func(), error) {
	if cfg.Database.URL == "" {
		logging.Warn().Msg("DATABASE_URL not set, using in-memory store; state will not survive restarts")
		return store.NewResilient(store.NewMemoryStore(), cfg.Database.CallTimeout), func() {}, nil
	}

	pg, err := store.NewPostgresStore(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := pg.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing database")
		}
	}
	logging.Info().Msg("postgres store initialized")
	return store.NewResilient(pg, cfg.Database.CallTimeout), closeFn, nil
}
