package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trading-systemv1/config"
	"trading-systemv1/internal/classifier"
	"trading-systemv1/internal/logger"
	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/priceservice"
	redisstore "trading-systemv1/internal/store/redis"
	"trading-systemv1/internal/tokenmeta"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[classifier] starting...")

	cfg := config.Load()
	appLog := logger.Init("classifier", logger.ParseLevel(cfg.LogLevel))

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

	raw := redisstore.NewListQueue(rdb)
	bus := redisstore.NewPubSub(rdb, appLog)
	stream := redisstore.NewStreamQueue(rdb, appLog)

	resolver := tokenmeta.New(rdb, tokenmeta.NewRPCAccountFetcher(cfg.HeliusURL), tokenmeta.BorshMetadataDecoder{}, appLog)
	price := priceservice.New(rdb, priceservice.NewCoinGeckoFetcher(), m, appLog)

	c := classifier.New(raw, resolver, price, bus, stream, m, appLog)

	go func() {
		<-sigCh
		appLog.Info("shutdown signal received")
		cancel()
	}()

	appLog.Info("classifier running")
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		appLog.Error("classifier exited with error", slog.Any("error", err))
	}

	metricsSrv.Stop(context.Background())
	appLog.Info("classifier stopped")
}
