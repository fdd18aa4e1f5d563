// Package priceservice implements the Quote-Asset Price Service (§4.F):
// a cached USD price of the native quote token (SOL), refreshed on
// staleness from an external HTTP oracle.
package priceservice

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	solPriceKey    = "sol_price"
	stalenessLimit = 300 * time.Second
)

// Fetcher retrieves the current USD price of the quote asset from an
// external oracle. The HTTP client and the oracle's response schema are
// the implementation detail; this package only depends on the resulting
// decimal.
type Fetcher interface {
	FetchUSDPrice(ctx context.Context) (decimal.Decimal, error)
}

// Service implements get_quote_price() -> Option<f64> (§4.F).
type Service struct {
	cache   model.CacheClient
	fetcher Fetcher
	limiter *rate.Limiter
	prom    *metrics.Metrics
	log     *slog.Logger

	now func() time.Time
}

func New(cache model.CacheClient, fetcher Fetcher, prom *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		cache:   cache,
		fetcher: fetcher,
		// One fetch per staleness window, refilled continuously: a burst
		// of concurrent staleness misses collapses to one outbound call
		// plus waiters re-reading the now-fresh cache.
		limiter: rate.NewLimiter(rate.Every(stalenessLimit), 1),
		prom:    prom,
		log:     log,
		now:     time.Now,
	}
}

// GetQuotePrice returns the current cached/fetched USD price of SOL, or
// ok=false if neither a fresh nor a stale cached value is available.
func (s *Service) GetQuotePrice(ctx context.Context) (decimal.Decimal, bool) {
	cached, cachedOK := s.readCache(ctx)
	if cachedOK && s.now().Unix()-cached.LastUpdatedAt < int64(stalenessLimit.Seconds()) {
		return cached.PriceUSD, true
	}

	if err := s.limiter.Wait(ctx); err != nil {
		if cachedOK {
			s.prom.QuotePriceStaleServedTotal.Inc()
			return cached.PriceUSD, true
		}
		return decimal.Zero, false
	}

	// Re-read: a concurrent caller may have already refreshed while we
	// waited on the limiter.
	if refreshed, ok := s.readCache(ctx); ok && s.now().Unix()-refreshed.LastUpdatedAt < int64(stalenessLimit.Seconds()) {
		return refreshed.PriceUSD, true
	}

	price, err := s.fetcher.FetchUSDPrice(ctx)
	if err != nil {
		s.prom.QuotePriceFetchFailuresTotal.Inc()
		s.log.Warn("quote price fetch failed, falling back to stale cache", "error", err)
		if cachedOK {
			s.prom.QuotePriceStaleServedTotal.Inc()
			return cached.PriceUSD, true
		}
		return decimal.Zero, false
	}

	record := model.SolPrice{PriceUSD: price, LastUpdatedAt: s.now().Unix()}
	data, _ := json.Marshal(record)
	if err := s.cache.Set(ctx, solPriceKey, string(data), 0); err != nil {
		s.log.Warn("failed to cache fresh quote price", "error", err)
	}
	return price, true
}

func (s *Service) readCache(ctx context.Context) (model.SolPrice, bool) {
	raw, found, err := s.cache.Get(ctx, solPriceKey)
	if err != nil || !found {
		return model.SolPrice{}, false
	}
	var record model.SolPrice
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		s.log.Warn("cached quote price failed to deserialize", "error", err)
		return model.SolPrice{}, false
	}
	return record, true
}
