// Package main provides the entrypoint for the station-occupancy dashboard server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dispatchwatch/dispatchwatch/internal/api"
	"github.com/dispatchwatch/dispatchwatch/internal/api/middleware"
	"github.com/dispatchwatch/dispatchwatch/internal/config"
	"github.com/dispatchwatch/dispatchwatch/internal/dashboard"
	"github.com/dispatchwatch/dispatchwatch/internal/provider/resilience"
	"github.com/dispatchwatch/dispatchwatch/internal/railway/simrail"
	"github.com/dispatchwatch/dispatchwatch/internal/telemetry"
	"github.com/dispatchwatch/dispatchwatch/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "dispatchwatch"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log = log.Level(cfg.LogLevel)

	log.Info().
		Str("build_time", BuildTime).
		Str("environment", cfg.Environment).
		Str("simrail_url", cfg.SimRailBaseURL).
		Dur("poll_interval", cfg.PollInterval).
		Str("display_location", cfg.DisplayLocation.String()).
		Msg("starting dashboard")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TelemetryEnabled,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.TelemetryEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("dashboard stopped with error")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	log.Info().Msg("dashboard stopped")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}
	providerMetrics, err := telemetry.NewProviderMetrics()
	if err != nil {
		return err
	}
	pollMetrics, err := telemetry.NewPollMetrics()
	if err != nil {
		return err
	}

	registry := resilience.NewRegistry()
	clientCfg := resilience.PollingClientConfig(simrail.ProviderName, cfg.RequestTimeout)
	clientCfg.Registry = registry
	clientCfg.Logger = log

	panel := simrail.NewClient(simrail.ClientConfig{
		BaseURL:    cfg.SimRailBaseURL,
		HTTPClient: resilience.NewClient(clientCfg),
		Metrics:    providerMetrics,
		Logger:     log,
	})

	controller := dashboard.NewController(dashboard.Config{
		DarkMode:      cfg.DarkMode,
		DefaultServer: cfg.DefaultServer,
		Location:      cfg.DisplayLocation,
		Logger:        log,
	})

	var publisher worker.ChangePublisher
	if cfg.FeedEnabled() {
		feed, feedErr := worker.NewPubSubPublisher(ctx, worker.PubSubConfig{
			ProjectID: cfg.PubSubProjectID,
			TopicName: cfg.PubSubTopic,
			Logger:    log,
		})
		if feedErr != nil {
			return feedErr
		}
		defer func() {
			if closeErr := feed.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("failed to close occupancy feed")
			}
		}()
		publisher = feed
		log.Info().
			Str("project", cfg.PubSubProjectID).
			Str("topic", cfg.PubSubTopic).
			Msg("occupancy feed enabled")
	}

	pollConfig := worker.DefaultPollConfig()
	pollConfig.Interval = cfg.PollInterval
	pollConfig.ServerRefreshInterval = cfg.ServerRefreshInterval

	poller := worker.NewPoller(worker.PollerConfig{
		Config:     pollConfig,
		Logger:     log,
		Provider:   panel,
		Controller: controller,
		Publisher:  publisher,
		Metrics:    pollMetrics,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:    Version,
		BuildTime:  BuildTime,
		Logger:     log,
		Metrics:    httpMetrics,
		RequireTLS: cfg.RequireTLS,
		Controller: controller,
		Registry:   registry,
		Poller:     poller,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	controllerDone := make(chan error, 1)
	go func() { controllerDone <- controller.Run(runCtx) }()

	pollerDone := make(chan error, 1)
	go func() { pollerDone <- poller.Run(runCtx) }()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var (
		runErr           error
		pollerExited     bool
		controllerExited bool
	)
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-serverErr:
		log.Error().Err(runErr).Msg("server error")
	case runErr = <-pollerDone:
		pollerExited = true
		logEarlyExit(log, "station poller", runErr)
	case runErr = <-controllerDone:
		controllerExited = true
		logEarlyExit(log, "dashboard controller", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		runErr = errors.Join(runErr, err)
	}

	// The poller waits for in-flight fetches before the controller stops.
	cancel()
	if !pollerExited {
		runErr = errors.Join(runErr, <-pollerDone)
	}
	if !controllerExited {
		runErr = errors.Join(runErr, <-controllerDone)
	}

	return runErr
}

// logEarlyExit reports a background component that stopped before shutdown
// was requested. Only a returned error is logged at error level.
func logEarlyExit(log zerolog.Logger, component string, err error) {
	if err != nil {
		log.Error().Err(err).Str("component", component).Msg("component exited")
		return
	}
	log.Warn().Str("component", component).Msg("component exited before shutdown")
}
