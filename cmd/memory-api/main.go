package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatfabric/chatfabric/internal/config"
	"github.com/chatfabric/chatfabric/internal/httpserver"
	"github.com/chatfabric/chatfabric/internal/llm"
	"github.com/chatfabric/chatfabric/internal/logger"
	"github.com/chatfabric/chatfabric/internal/memoryapi"
	"github.com/chatfabric/chatfabric/internal/storage/pg"
)

func main() {
	cfg := config.LoadConfig()

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat)).WithComponent("memory_api")
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pg.InitDatabase(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	embedder := llm.New(llm.Options{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingsModel:     cfg.EmbeddingsModel,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})

	handler := memoryapi.NewHandler(db.Profiles, db.Summaries, embedder, memoryapi.Options{
		SearchLimitDefault: cfg.SearchLimitDefault,
		SearchResultCap:    cfg.SearchResultCap,
	}, log)
	router := memoryapi.NewRouter(handler, cfg.CORSAllowedOrigins)

	shutdownTimeout := time.Duration(cfg.ServerShutdownTimeoutSeconds) * time.Second
	log.Info("memory API starting", "port", cfg.Port)
	if err := httpserver.Run(ctx, ":"+cfg.Port, router, shutdownTimeout, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
