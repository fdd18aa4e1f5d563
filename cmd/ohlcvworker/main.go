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
	"trading-systemv1/internal/ohlcv"
	redisstore "trading-systemv1/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[ohlcvworker] starting...")

	cfg := config.Load()
	appLog := logger.Init("ohlcvworker", logger.ParseLevel(cfg.LogLevel))

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

	stream := redisstore.NewStreamQueue(rdb, appLog)
	bus := redisstore.NewPubSub(rdb, appLog)

	w := ohlcv.New(stream, rdb, bus, cfg.OHLCVConsumerGroup, cfg.OHLCVWorker, m, appLog)

	go func() {
		<-sigCh
		appLog.Info("shutdown signal received")
		cancel()
	}()

	appLog.Info("ohlcv worker running", slog.String("group", cfg.OHLCVConsumerGroup), slog.String("consumer", cfg.OHLCVWorker))
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		appLog.Error("ohlcv worker exited with error", slog.Any("error", err))
	}

	metricsSrv.Stop(context.Background())
	appLog.Info("ohlcv worker stopped")
}
