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
	"github.com/chatfabric/chatfabric/internal/front"
	"github.com/chatfabric/chatfabric/internal/httpserver"
	"github.com/chatfabric/chatfabric/internal/logger"
)

// tokenSource adapts the bus to the egress handler's subscription interface.
type tokenSource struct {
	bus *bus.Bus
}

func (t tokenSource) SubscribeTokens(sessionID string, buffer int) (front.TokenSubscription, error) {
	return t.bus.SubscribeTokens(sessionID, buffer)
}

func main() {
	cfg := config.LoadConfig()

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat)).WithComponent("front")
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := bus.Connect(cfg.NatsURL, "front", log)
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

	ingress := front.NewIngressHandler(cfg, b, hot, log)
	egress := front.NewEgressHandler(tokenSource{bus: b}, hot, front.EgressOptions{
		FirstTokenTimeout: cfg.FirstTokenTimeout,
		KeepAliveInterval: cfg.KeepAliveInterval,
	}, log)

	router := front.NewRouter(ingress, egress, cfg.CORSAllowedOrigins)

	shutdownTimeout := time.Duration(cfg.ServerShutdownTimeoutSeconds) * time.Second
	log.Info("front service starting", "port", cfg.Port)
	if err := httpserver.Run(ctx, ":"+cfg.Port, router, shutdownTimeout, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
