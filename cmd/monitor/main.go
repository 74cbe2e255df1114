package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/sensor-hazard-monitor/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/sensor-hazard-monitor/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/sensor-hazard-monitor/internal/adapter/redis"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/adapter/sensorapi"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/adapter/websocket"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/alert"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/config"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/history"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/observability"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/pipeline"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/throttle"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "sensor-hazard-monitor")
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := sensorapi.NewClient(cfg.SensorBaseURL, sensorapi.Options{
		Timeout: cfg.FetchTimeout,
		Retry: sensorapi.RetryPolicy{
			MaxRetries: cfg.FetchRetries,
			MinWait:    cfg.FetchRetryWait,
			MaxWait:    cfg.FetchBackoffMax,
		},
	}, logger)

	// Alert sinks, in delivery order.
	recent := alert.NewRecent(cfg.RecentAlerts)
	hub := websocket.NewHub(logger, metrics)
	sinks := alert.NewFanout(logger, metrics)
	sinks.Add("log", alert.NewLogSink(logger))
	sinks.Add("recent", recent)
	sinks.Add("websocket", hub)

	// Network sinks are fed through bounded queues so a slow broker never
	// stalls the poll loop.
	var async []*alert.Async

	var kafkaWriter *kafkaadapter.AlertWriter
	if cfg.KafkaEnabled {
		kafkaWriter = kafkaadapter.NewAlertWriter(cfg, logger)
		async = append(async, alert.NewAsync("kafka", kafkaWriter, cfg.AlertQueueSize, logger, metrics))
	}

	var redisPublisher *redisadapter.AlertPublisher
	if cfg.RedisEnabled() {
		redisPublisher = redisadapter.NewAlertPublisher(redisadapter.NewClient(cfg),
			cfg.RedisAlertChannel, cfg.RedisRecentKey, cfg.RecentAlerts, logger)
		if err := redisPublisher.Ping(ctx); err != nil {
			// Not fatal: each publish reconnects and failures are counted per sink.
			logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
		} else {
			logger.Info("redis alert sink enabled", "addr", cfg.RedisAddr, "channel", cfg.RedisAlertChannel)
		}
		async = append(async, alert.NewAsync("redis", redisPublisher, cfg.AlertQueueSize, logger, metrics))
	}
	for _, a := range async {
		sinks.Add(a.Name(), a)
	}

	p := pipeline.New(source, sinks, history.NewStore(cfg.HistorySize), throttle.New(cfg.AlertCooldown),
		clockwork.NewRealClock(), logger, metrics, pipeline.Options{
			Interval:   cfg.PollInterval,
			BackoffMax: cfg.FetchBackoffMax,
			Thresholds: cfg.Thresholds(),
			TimeFormat: cfg.HistoryTimeFormat,
			EvictAfter: cfg.HistoryEvictAfter,
		})

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, recent, hub, logger)

	logger.Info("sensor monitor starting",
		"sensor_base_url", cfg.SensorBaseURL,
		"poll_interval", cfg.PollInterval,
		"alert_cooldown", cfg.AlertCooldown,
		"sinks", sinks.Names(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return p.Run(gctx) })
	for _, a := range async {
		g.Go(func() error { return a.Run(gctx) })
	}

	// Stops the server once a signal arrives or another member fails.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	exitCode := 0
	if err := g.Wait(); err != nil {
		logger.Error("monitor stopped with error", "error", err)
		exitCode = 1
	}

	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if redisPublisher != nil {
		if err := redisPublisher.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if exitCode != 0 {
		stop()
		os.Exit(exitCode)
	}
}
