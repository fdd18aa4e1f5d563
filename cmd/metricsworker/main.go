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
	"trading-systemv1/internal/metricsworker"
	"trading-systemv1/internal/priceservice"
	redisstore "trading-systemv1/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[metricsworker] starting...")

	cfg := config.Load()
	appLog := logger.Init("metricsworker", logger.ParseLevel(cfg.LogLevel))

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
	price := priceservice.New(rdb, priceservice.NewCoinGeckoFetcher(), m, appLog)

	w := metricsworker.New(stream, rdb, bus, price, cfg.MetricsConsumerGroup, cfg.MetricsWorker, cfg.SynthesizeMarketData, m, appLog)

	go func() {
		<-sigCh
		appLog.Info("shutdown signal received")
		cancel()
	}()

	appLog.Info("metrics worker running", slog.String("group", cfg.MetricsConsumerGroup), slog.String("consumer", cfg.MetricsWorker))
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		appLog.Error("metrics worker exited with error", slog.Any("error", err))
	}

	metricsSrv.Stop(context.Background())
	appLog.Info("metrics worker stopped")
}
