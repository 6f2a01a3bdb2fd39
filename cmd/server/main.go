package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/zap"

	"github.com/eterna-labs/swapflow/config"
	"github.com/eterna-labs/swapflow/pkg/broadcast"
	"github.com/eterna-labs/swapflow/pkg/executor"
	"github.com/eterna-labs/swapflow/pkg/logging"
	"github.com/eterna-labs/swapflow/pkg/messaging"
	"github.com/eterna-labs/swapflow/pkg/messaging/kafka"
	"github.com/eterna-labs/swapflow/pkg/otel"
	"github.com/eterna-labs/swapflow/pkg/pipeline"
	"github.com/eterna-labs/swapflow/pkg/queue"
	"github.com/eterna-labs/swapflow/pkg/server"
	"github.com/eterna-labs/swapflow/pkg/store"
	"github.com/eterna-labs/swapflow/pkg/venue"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Setup(logging.Config{
		Level:  cfg.Server.LogLevel,
		Pretty: cfg.Server.LogFormat == "pretty",
	})
	level, err := zerolog.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.Server.LogFormat == "pretty" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Venue simulation settings come from the environment
	venueCfg, err := venue.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load venue configuration")
	}

	// Order store
	orderStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open order store")
	}
	defer orderStore.Close()

	// Telemetry
	meterProvider, otelCleanup, err := otel.Init(otel.Config{
		ServiceVersion:   "1.0.0",
		Endpoint:         cfg.Otel.Endpoint,
		CollectorEnabled: cfg.Otel.Enabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize OpenTelemetry")
	}
	defer otelCleanup()

	var metrics pipeline.Metrics
	if cfg.Otel.Enabled {
		pm, err := otel.NewPipelineMetrics(meterProvider)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to register pipeline metrics - continuing without them")
		} else {
			metrics = pm
		}
	}

	// Settlement feed (optional)
	var sender messaging.SettlementSender
	if cfg.Kafka.Enabled {
		kafkaSender, err := kafka.NewKafkaSettlementSender(cfg.Kafka.BrokerAddr, cfg.Kafka.Topic)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to create Kafka sender - continuing without settlement feed")
		} else {
			sender = kafkaSender
			defer kafkaSender.Close()
		}

		// Developer convenience: tail the settlement topic into the log
		if consumer, err := kafka.SetupConsumer(ctx, cfg.Kafka.BrokerAddr, cfg.Kafka.Topic, logger); err == nil && consumer != nil {
			defer consumer.Close()
		}
	}

	// Pipeline wiring
	broadcaster := broadcast.NewBroadcaster(logger)
	slogLevel := slog.LevelInfo
	if cfg.Server.LogLevel == "debug" {
		slogLevel = slog.LevelDebug
	}
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
	raydium := venue.NewSimulatedSource(venue.VenueRaydium, venueCfg, slogLogger)
	meteora := venue.NewSimulatedSource(venue.VenueMeteora, venueCfg, slogLogger)
	router := venue.NewRouter(raydium, meteora, slogLogger)
	swapExecutor := executor.NewSimulatedExecutor(venueCfg.ConfirmDelay, logger)

	machine := pipeline.NewStateMachine(
		pipeline.Config{ApplyFeeToOutput: cfg.Pipeline.ApplyFeeToOutput},
		router, swapExecutor, orderStore, broadcaster, sender, metrics, logger,
	)

	jobQueue, err := buildQueue(cfg, machine.HandleDeadLetter, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create job queue")
	}
	defer jobQueue.Close()

	pool := pipeline.NewWorkerPool(jobQueue, machine, cfg.Queue.Concurrency, logger)
	pool.Start(ctx)
	defer pool.Stop()

	// HTTP server
	srv := server.NewServer(server.Config{
		Addr:           cfg.Server.HTTPAddr,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		AllowedOrigins: []string{"http://localhost:3000"},
	}, orderStore, jobQueue, broadcaster, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	stop()

	logger.Info().Msg("Shutdown complete")
}

func buildStore(cfg *config.Config, logger zerolog.Logger) (store.OrderStore, error) {
	if cfg.Store.Backend == "pebble" {
		return store.NewPebbleStore(cfg.Store.Path, logger)
	}
	return store.NewMemoryStore(), nil
}

func buildQueue(cfg *config.Config, onExhausted queue.DeadLetterFunc, logger zerolog.Logger) (queue.JobQueue, error) {
	qcfg := queue.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: time.Duration(cfg.Queue.BackoffBaseMS) * time.Millisecond,
	}

	if cfg.Queue.Backend == "redis" {
		zapLogger, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		client := queue.GetRedisClient(&queue.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return queue.NewRedisQueue(client, "swapflow", qcfg, onExhausted, zapLogger), nil
	}

	return queue.NewMemoryQueue(qcfg, onExhausted, logger), nil
}
