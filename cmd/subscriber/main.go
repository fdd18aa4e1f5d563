package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trading-systemv1/config"
	"trading-systemv1/internal/logger"
	"trading-systemv1/internal/metrics"
	redisstore "trading-systemv1/internal/store/redis"
	"trading-systemv1/internal/upstream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[subscriber] starting...")

	cfg := config.Load()
	appLog := logger.Init("subscriber", logger.ParseLevel(cfg.LogLevel))

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

	queue := redisstore.NewListQueue(rdb)

	dialer, err := upstream.NewGRPCDialer(cfg.GRPCURL, cfg.GRPCToken, true)
	if err != nil {
		appLog.Error("failed to dial upstream", slog.Any("error", err))
		os.Exit(1)
	}
	defer dialer.Close()

	sub := upstream.New(dialer, queue, m, appLog)

	go func() {
		<-sigCh
		appLog.Info("shutdown signal received")
		cancel()
	}()

	appLog.Info("subscriber running", slog.String("grpc_url", cfg.GRPCURL))
	if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
		appLog.Error("subscriber exited with error", slog.Any("error", err))
	}

	metricsSrv.Stop(context.Background())
	appLog.Info("subscriber stopped")
}
