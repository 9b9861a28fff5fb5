package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/icsight/icsight/internal/alert"
	"github.com/icsight/icsight/internal/api"
	"github.com/icsight/icsight/internal/config"
	"github.com/icsight/icsight/internal/control"
	"github.com/icsight/icsight/internal/engine"
	"github.com/icsight/icsight/internal/health"
	"github.com/icsight/icsight/internal/hub"
	"github.com/icsight/icsight/internal/ingest"
	"github.com/icsight/icsight/internal/metrics"
	"github.com/icsight/icsight/internal/model"
	"github.com/icsight/icsight/internal/poller"
	"github.com/icsight/icsight/internal/store"
	"github.com/icsight/icsight/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting ICSight telemetry service")

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Configuration loaded",
		"http_addr", cfg.Server.Addr,
		"websocket_url", cfg.Upstream.WebsocketURL,
		"api_base_url", cfg.Upstream.APIBaseURL,
		"buffer_capacity", cfg.Buffer.Capacity,
		"nats_url", cfg.NATS.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// NATS mirrors alerts and health samples for external consumers; the
	// service runs fine without a broker configured.
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL)
		if err != nil {
			logger.Warn("Failed to connect to NATS, continuing without broker", "error", err)
		} else {
			defer nc.Close()
			logger.Info("Connected to NATS", "url", cfg.NATS.URL)
		}
	}

	prometheusMetrics := metrics.New()

	events := store.NewEvents(cfg.Buffer.Capacity)
	statusStore := store.NewStatus()
	estimator := health.NewEstimator(cfg.Health.WindowSize, cfg.Health.Freshness)

	policy, err := alert.LoadPolicy(cfg.Alerting.PolicyPath, logger)
	if err != nil {
		logger.Error("Failed to load alert policy", "error", err)
		os.Exit(1)
	}
	emitter := alert.NewEmitter(policy, cfg.Alerting.TTL, cfg.Alerting.HistoryCap, logger, prometheusMetrics)
	publisher := alert.NewPublisher(nc, logger)

	// Presentation hub: welcome each client with the current status and
	// recent events, and answer resync requests from the latest snapshot.
	var eng *engine.Engine
	dashboardHub := hub.New(
		func(req model.Envelope) (model.Envelope, bool) {
			return answerClientRequest(req, eng, statusStore, logger)
		},
		func() []model.Envelope {
			return welcomeEnvelopes(events, statusStore, logger)
		},
		logger, prometheusMetrics)

	eng = engine.New(engine.Options{
		BucketWidth:     cfg.Timeline.BucketWidth,
		TimelineBuckets: cfg.Timeline.MaxBuckets,
		TopK:            cfg.Timeline.TopK,
	}, events, statusStore, estimator, emitter, publisher, dashboardHub, logger, prometheusMetrics)

	channel := transport.NewChannel(cfg.Upstream.WebsocketURL, transport.Options{
		BackoffBase: cfg.Transport.BackoffBase,
		BackoffCap:  cfg.Transport.BackoffCap,
		MaxAttempts: cfg.Transport.MaxAttempts,
	}, logger, prometheusMetrics)
	eng.Bind(channel)

	facade := control.NewFacade(cfg.Upstream.APIBaseURL, eng, logger, prometheusMetrics)

	poll := poller.New(cfg.Upstream.APIBaseURL, eng, poller.Options{
		StatusInterval: cfg.Poll.StatusInterval,
		StatsInterval:  cfg.Poll.StatsInterval,
		SeedLimit:      cfg.Poll.SeedLimit,
	}, logger, prometheusMetrics)

	httpAPI := api.NewHTTPAPI(eng, events, statusStore, emitter, facade,
		dashboardHub, channel.State, nc, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: httpAPI.Router(),
	}

	go dashboardHub.Run(ctx)
	go eng.Run(ctx)
	go poll.Run(ctx)
	channel.Open(ctx)

	// Broker-published classifications feed the same engine inbox as the
	// websocket stream.
	if nc != nil {
		subscriber := ingest.NewSubscriber(nc, eng, "icsight", logger, prometheusMetrics)
		go func() {
			if err := subscriber.Subscribe(ctx); err != nil {
				logger.Error("NATS ingest error", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("ICSight service started successfully")
	<-sigChan

	logger.Info("Shutting down ICSight service...")

	cancel()
	channel.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("ICSight service stopped")
}

// answerClientRequest serves a dashboard client's resync request from local
// state, mirroring the request surface of the upstream websocket.
func answerClientRequest(req model.Envelope, eng *engine.Engine, statusStore *store.Status, logger *slog.Logger) (model.Envelope, bool) {
	switch req.Type {
	case "get_status":
		status, _ := statusStore.Get()
		return mustEnvelope(model.TypeStatus, status, logger)
	case "get_network_graph":
		return mustEnvelope(model.TypeNetworkGraph, eng.View().Graph, logger)
	case "get_timeline":
		return mustEnvelope(model.TypeAttackTimeline, eng.View().Timeline, logger)
	default:
		return model.Envelope{}, false
	}
}

// welcomeEnvelopes gives a newly connected client the current status and the
// recent event backlog before incremental updates start.
func welcomeEnvelopes(events *store.Events, statusStore *store.Status, logger *slog.Logger) []model.Envelope {
	var out []model.Envelope
	status, _ := statusStore.Get()
	if env, ok := mustEnvelope(model.TypeStatus, status, logger); ok {
		out = append(out, env)
	}

	// Chronological order, matching the upstream initial_data payload.
	recent := events.Recent(50)
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	if env, ok := mustEnvelope(model.TypeInitialData, recent, logger); ok {
		out = append(out, env)
	}
	return out
}

func mustEnvelope(msgType string, payload any, logger *slog.Logger) (model.Envelope, bool) {
	env, err := model.NewEnvelope(msgType, payload)
	if err != nil {
		logger.Warn("Failed to build envelope", "type", msgType, "error", err)
		return model.Envelope{}, false
	}
	return env, true
}
