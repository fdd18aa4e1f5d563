package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"trading-systemv1/config"
	"trading-systemv1/internal/gateway"
	"trading-systemv1/internal/logger"
	"trading-systemv1/internal/metrics"
	redisstore "trading-systemv1/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[gateway] starting...")

	cfg := config.Load()
	appLog := logger.Init("gateway", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.NewMetrics()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr)
	metricsSrv.Start()

	rdb, err := redisstore.NewFromURL(ctx, cfg.RedisURL)
	if err != nil {
		appLog.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer rdb.Close()

	bus := redisstore.NewPubSub(rdb, appLog)
	hub := gateway.NewHub(bus, m, appLog)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, appLog)
	wsSrv := &http.Server{Addr: cfg.WSAddr, Handler: mux}

	go func() {
		appLog.Info("websocket server listening", slog.String("addr", cfg.WSAddr))
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("websocket server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-sigCh
		appLog.Info("shutdown signal received")
		cancel()
	}()

	appLog.Info("socket fan-out running")
	if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
		appLog.Error("hub exited with error", slog.Any("error", err))
	}

	wsSrv.Shutdown(context.Background())
	metricsSrv.Stop(context.Background())
	appLog.Info("gateway stopped")
}
