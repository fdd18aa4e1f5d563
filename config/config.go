package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment
// variables, optionally preceded by a local .env file.
type Config struct {
	// Cache / queue / bus / stream store (§4.A).
	RedisURL string

	// Upstream subscriber (§4.G).
	GRPCURL   string
	GRPCToken string

	// Solana JSON-RPC endpoint used by the token metadata resolver (§4.E).
	HeliusURL string

	// Stream consumer groups (§4.I, §4.J, §9).
	MetricsConsumerGroup string
	MetricsWorker        string
	OHLCVConsumerGroup   string
	OHLCVWorker          string

	// Ambient.
	LogLevel    string
	MetricsAddr string
	WSAddr      string

	// Market-cap/FDV synthesis gate (§4.I step 7, §9).
	SynthesizeMarketData bool
}

// Load reads configuration from the environment, after optionally loading
// a local .env file (godotenv.Load is a no-op, not a fatal error, when no
// file is present — local dev convenience only).
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env present but failed to load: %v", err)
	}

	return &Config{
		RedisURL: mustEnv("REDIS_URL"),

		GRPCURL:   mustEnv("GRPC_URL"),
		GRPCToken: mustEnv("GRPC_TOKEN"),

		HeliusURL: getEnv("HELIUS_URL", ""),

		MetricsConsumerGroup: getEnv("METRICS_CONSUMER_GROUP", "metrics_workers"),
		MetricsWorker:        getEnv("METRICS_WORKER", "metrics_worker_1"),
		OHLCVConsumerGroup:   getEnv("OHLCV_CONSUMER_GROUP", "ohlcv_workers"),
		OHLCVWorker:          getEnv("OHLCV_WORKER", "ohlcv_worker_1"),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		WSAddr:      getEnv("WS_ADDR", ":8080"),

		SynthesizeMarketData: getBoolEnv("SYNTHESIZE_MARKET_DATA", true),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getBoolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s=%q, using default %v", key, v, fallback)
		return fallback
	}
	return b
}
