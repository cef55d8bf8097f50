package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/config"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/consumer"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/deserializer"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/enrichment"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/eventtype"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/handler"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/join"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/pipeline"
)

// App holds the wired service components.
type App struct {
	cfg       *config.Config
	consumer  *consumer.Consumer
	pipeline  *pipeline.Pipeline
	joiner    *join.Joiner
	resolver  *enrichment.Resolver
	logSink   *handler.LogSink
	publisher *handler.Publisher
	logger    *slog.Logger
}

func main() {
	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	mapper, err := eventtype.NewMapperWithOverlay(cfg.EventTypeOverlayPath)
	if err != nil {
		logger.Error("failed to build event type table", "error", err)
		os.Exit(1)
	}
	logger.Info("event type table built", "entries", mapper.Size())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	resolver := enrichment.NewResolver(
		enrichment.NewRedisStore(redisClient, cfg.CacheTimeout), logger)

	logSink, err := handler.NewLogSink(handler.LogSinkConfig{
		Hosts:        cfg.ClickHouseHosts,
		Database:     cfg.ClickHouseDatabase,
		Table:        cfg.ClickHouseTable,
		Username:     cfg.ClickHouseUser,
		Password:     cfg.ClickHousePassword,
		WriteTimeout: cfg.ClickHouseTimeout,
		Compression:  cfg.ClickHouseCompress,
	}, logger)
	if err != nil {
		logger.Error("failed to create durable log sink", "error", err)
		os.Exit(1)
	}

	publisher, err := handler.NewPublisher(handler.PublisherConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.OutboundTopic,
		Compression:  cfg.OutboundCompression,
		MaxRetries:   cfg.OutboundRetries,
		WriteTimeout: cfg.OutboundTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to create outbound publisher", "error", err)
		os.Exit(1)
	}

	dispatcher := handler.NewDispatcher(logger, logSink, publisher)
	registry := deserializer.NewRegistry(logger)
	pl := pipeline.New(registry, mapper, resolver, dispatcher, logger)

	// Join output re-enters the ordinary processing chain. On a transient
	// failure the joiner leaves the source offsets unacknowledged, so the
	// records come back after a rebalance or restart.
	joiner := join.NewJoiner(join.Config{
		Window:        cfg.JoinWindow,
		SweepInterval: cfg.JoinSweepInterval,
	}, func(mt deserializer.MessageType, value []byte) error {
		_, err := pl.Process(context.Background(), mt, value)
		return err
	}, logger)

	ingress, err := consumer.NewConsumer(consumer.Config{
		Brokers:           cfg.KafkaBrokers,
		Group:             cfg.ConsumerGroup,
		FleetTopic:        cfg.FleetTopic,
		TacticalTopic:     cfg.TacticalTopic,
		MeshActivityTopic: cfg.MeshActivityTopic,
		MeshHostTopic:     cfg.MeshHostTopic,
	}, pl, joiner, logger)
	if err != nil {
		logger.Error("failed to create ingress consumer", "error", err)
		os.Exit(1)
	}

	app := &App{
		cfg:       cfg,
		consumer:  ingress,
		pipeline:  pl,
		joiner:    joiner,
		resolver:  resolver,
		logSink:   logSink,
		publisher: publisher,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", app.healthHandler)
	mux.HandleFunc("GET /ready", app.readyHandler)
	mux.HandleFunc("GET /stats", app.statsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ingress.Start()

	go func() {
		logger.Info("starting server", "service", cfg.ServiceName, "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop order matters: stop intake first, then flush the join buffer
	// into the pipeline, then close the destinations it writes to.
	ingress.Stop()
	joiner.Stop()
	if err := publisher.Close(); err != nil {
		logger.Error("failed to close outbound publisher", "error", err)
	}
	if err := logSink.Close(); err != nil {
		logger.Error("failed to close durable log sink", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("failed to close cache client", "error", err)
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("stream service exited")
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "healthy",
		"service": a.cfg.ServiceName,
	})
}

func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !a.logSink.IsHealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "degraded",
			"reason": "durable log store unavailable",
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ready",
		"service": a.cfg.ServiceName,
	})
}

func (a *App) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"consumer":   a.consumer.Stats(),
		"pipeline":   a.pipeline.Stats(),
		"joiner":     a.joiner.Stats(),
		"enrichment": a.resolver.Stats(),
		"log_sink":   a.logSink.Stats(),
		"publisher":  a.publisher.Stats(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
