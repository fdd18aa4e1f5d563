package priceservice

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	values map[string]string
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := c.values[key]
	return v, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.values[key] = value
	return nil
}
func (c *fakeCache) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }
func (c *fakeCache) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	return nil
}
func (c *fakeCache) HIncrBy(ctx context.Context, key, field string, delta int64) error { return nil }
func (c *fakeCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, nil
}
func (c *fakeCache) SAdd(ctx context.Context, key, member string) error { return nil }
func (c *fakeCache) SCard(ctx context.Context, key string) (int64, error) { return 0, nil }
func (c *fakeCache) SMembers(ctx context.Context, key string) ([]string, error) { return nil, nil }
func (c *fakeCache) LPush(ctx context.Context, key, value string) error { return nil }
func (c *fakeCache) LTrim(ctx context.Context, key string, start, stop int64) error { return nil }
func (c *fakeCache) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return nil, nil
}
func (c *fakeCache) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}
func (c *fakeCache) Close() error { return nil }

type fakeFetcher struct {
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakeFetcher) FetchUSDPrice(ctx context.Context) (decimal.Decimal, error) {
	f.calls++
	return f.price, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetQuotePrice_ServesFreshCacheWithoutFetching(t *testing.T) {
	cache := &fakeCache{values: map[string]string{}}
	now := time.Unix(1_700_000_000, 0)
	record := model.SolPrice{PriceUSD: decimal.NewFromInt(150), LastUpdatedAt: now.Unix() - 10}
	data, _ := json.Marshal(record)
	cache.values[solPriceKey] = string(data)

	fetcher := &fakeFetcher{}
	svc := New(cache, fetcher, metrics.NewMetrics(), testLogger())
	svc.now = func() time.Time { return now }

	price, ok := svc.GetQuotePrice(context.Background())
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(150)))
	require.Equal(t, 0, fetcher.calls, "fresh cache must not trigger a fetch")
}

func TestGetQuotePrice_FetchesOnStaleCacheAndCaches(t *testing.T) {
	cache := &fakeCache{values: map[string]string{}}
	now := time.Unix(1_700_000_000, 0)
	record := model.SolPrice{PriceUSD: decimal.NewFromInt(100), LastUpdatedAt: now.Unix() - 400}
	data, _ := json.Marshal(record)
	cache.values[solPriceKey] = string(data)

	fetcher := &fakeFetcher{price: decimal.NewFromInt(160)}
	svc := New(cache, fetcher, metrics.NewMetrics(), testLogger())
	svc.now = func() time.Time { return now }

	price, ok := svc.GetQuotePrice(context.Background())
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(160)))
	require.Equal(t, 1, fetcher.calls)

	var cached model.SolPrice
	require.NoError(t, json.Unmarshal([]byte(cache.values[solPriceKey]), &cached))
	require.True(t, cached.PriceUSD.Equal(decimal.NewFromInt(160)))
}

func TestGetQuotePrice_FallsBackToStaleOnFetchFailure(t *testing.T) {
	cache := &fakeCache{values: map[string]string{}}
	now := time.Unix(1_700_000_000, 0)
	record := model.SolPrice{PriceUSD: decimal.NewFromInt(120), LastUpdatedAt: now.Unix() - 400}
	data, _ := json.Marshal(record)
	cache.values[solPriceKey] = string(data)

	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	svc := New(cache, fetcher, metrics.NewMetrics(), testLogger())
	svc.now = func() time.Time { return now }

	price, ok := svc.GetQuotePrice(context.Background())
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(120)))
}

func TestGetQuotePrice_NoCacheNoFetch_ReturnsNotOK(t *testing.T) {
	cache := &fakeCache{values: map[string]string{}}
	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	svc := New(cache, fetcher, metrics.NewMetrics(), testLogger())

	_, ok := svc.GetQuotePrice(context.Background())
	require.False(t, ok)
}
