package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatfabric/chatfabric/internal/bus"
	"github.com/chatfabric/chatfabric/internal/cache"
	"github.com/chatfabric/chatfabric/internal/config"
	"github.com/chatfabric/chatfabric/internal/historywriter"
	"github.com/chatfabric/chatfabric/internal/httpserver"
	"github.com/chatfabric/chatfabric/internal/llm"
	"github.com/chatfabric/chatfabric/internal/logger"
	"github.com/chatfabric/chatfabric/internal/metrics"
	"github.com/chatfabric/chatfabric/internal/prompts"
	"github.com/chatfabric/chatfabric/internal/storage/pg"
)

func main() {
	cfg := config.LoadConfig()

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat)).WithComponent("history_worker")
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := bus.Connect(cfg.NatsURL, "history-worker", log)
	if err != nil {
		log.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	if err := b.EnsureStreams(ctx); err != nil {
		log.Error("failed to ensure streams", "error", err)
		os.Exit(1)
	}

	hot := cache.New(cache.Options{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		SessionTTL: cfg.SessionTTL,
		ReplayTTL:  cfg.ReplayTTL,
	})
	defer hot.Close()
	if err := hot.Ping(ctx); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	db, err := pg.InitDatabase(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	titler := llm.New(llm.Options{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
	})

	lib, err := prompts.NewLibrary(cfg.Prompts)
	if err != nil {
		log.Error("failed to build prompt library", "error", err)
		os.Exit(1)
	}

	writer := historywriter.NewWriter(hot, db.Conversations, titler, lib, cfg.TitleModel, log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", httpserver.Health("history-worker"))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	go func() {
		if err := httpserver.Run(ctx, ":"+cfg.Port, router, 5*time.Second, log); err != nil {
			log.Error("metrics server exited", "error", err)
		}
	}()

	log.Info("history worker starting", "title_model", cfg.TitleModel)

	err = b.Consume(ctx, bus.ConsumerConfig{
		Stream:         bus.CompletedStream,
		Durable:        bus.HistoryWriterDurable,
		MaxConcurrency: cfg.MaxConcurrency,
		AckWait:        2 * time.Minute,
		MaxDeliver:     5,
		DrainTimeout:   time.Duration(cfg.WorkerShutdownTimeoutSeconds) * time.Second,
	}, writer.HandleCompletion)
	if err != nil {
		log.Error("consumer exited with error", "error", err)
		os.Exit(1)
	}

	log.Info("history worker stopped")
}
