package metricsworker

import (
	"context"
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
	values  map[string]string
	hashes  map[string]map[string]float64
	sets    map[string]map[string]bool
	lists   map[string][]string
	expired map[string]time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		values:  map[string]string{},
		hashes:  map[string]map[string]float64{},
		sets:    map[string]map[string]bool{},
		lists:   map[string][]string{},
		expired: map[string]time.Duration{},
	}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := c.values[key]
	return v, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.values[key] = value
	return nil
}
func (c *fakeCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.expired[key] = ttl
	return nil
}
func (c *fakeCache) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	h, ok := c.hashes[key]
	if !ok {
		h = map[string]float64{}
		c.hashes[key] = h
	}
	h[field] += delta
	return nil
}
func (c *fakeCache) HIncrBy(ctx context.Context, key, field string, delta int64) error {
	return c.HIncrByFloat(ctx, key, field, float64(delta))
}
func (c *fakeCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, nil
}
func (c *fakeCache) SAdd(ctx context.Context, key, member string) error {
	s, ok := c.sets[key]
	if !ok {
		s = map[string]bool{}
		c.sets[key] = s
	}
	s[member] = true
	return nil
}
func (c *fakeCache) SCard(ctx context.Context, key string) (int64, error) {
	return int64(len(c.sets[key])), nil
}
func (c *fakeCache) SMembers(ctx context.Context, key string) ([]string, error) { return nil, nil }
func (c *fakeCache) LPush(ctx context.Context, key, value string) error {
	c.lists[key] = append([]string{value}, c.lists[key]...)
	return nil
}
func (c *fakeCache) LTrim(ctx context.Context, key string, start, stop int64) error { return nil }
func (c *fakeCache) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.lists[key], nil
}
func (c *fakeCache) ScanKeys(ctx context.Context, pattern string) ([]string, error) { return nil, nil }
func (c *fakeCache) Close() error                                                   { return nil }

type fakeBus struct {
	published []model.PriceInfo
}

func (b *fakeBus) PublishTransaction(ctx context.Context, trade model.StructuredTrade) error {
	return nil
}
func (b *fakeBus) PublishPriceMetrics(ctx context.Context, upd model.PeriodStatsUpdate) error {
	return nil
}
func (b *fakeBus) PublishCurrentPrice(ctx context.Context, info model.PriceInfo) error {
	b.published = append(b.published, info)
	return nil
}
func (b *fakeBus) PublishCandle(ctx context.Context, c model.Candle) error { return nil }
func (b *fakeBus) Subscribe(ctx context.Context, out chan<- model.BusEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeStream struct {
	acked []string
}

func (s *fakeStream) EnsureGroup(ctx context.Context, group string) error { return nil }
func (s *fakeStream) Consume(ctx context.Context, group, consumer string) (string, model.StructuredTrade, bool, error) {
	return "", model.StructuredTrade{}, false, nil
}
func (s *fakeStream) Append(ctx context.Context, trade model.StructuredTrade) (string, error) {
	return "", nil
}
func (s *fakeStream) Ack(ctx context.Context, group, entryID string) error {
	s.acked = append(s.acked, entryID)
	return nil
}
func (s *fakeStream) ReclaimStale(ctx context.Context, group, consumer string, minIdle time.Duration, batchSize int64) ([]model.PendingEntry, error) {
	return nil, nil
}

type fakeQuotePrice struct{ price decimal.Decimal }

func (f fakeQuotePrice) GetQuotePrice(ctx context.Context) (decimal.Decimal, bool) {
	return f.price, true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessTrade_BuyUpdatesStatsAndPublishes(t *testing.T) {
	cache := newFakeCache()
	bus := &fakeBus{}
	w := New(nil, cache, bus, fakeQuotePrice{price: decimal.NewFromInt(100)}, "g", "c", false, metrics.NewMetrics(), testLogger())

	usd := decimal.NewFromInt(50)
	trade := model.StructuredTrade{
		TokenPair:     "FOO/SOL",
		Direction:     model.Buy,
		Owner:         "U",
		TokenPrice:    decimal.NewFromInt(10),
		TokenQuantity: decimal.NewFromInt(5),
		USDValue:      &usd,
	}

	ok := w.processTrade(context.Background(), trade)
	require.True(t, ok)

	require.Equal(t, "10", cache.values[model.CurrentPriceKey("FOO/SOL")])
	require.Equal(t, float64(1), cache.hashes[model.StatsKey("FOO/SOL")]["buys"])
	require.Equal(t, float64(50), cache.hashes[model.StatsKey("FOO/SOL")]["buy vol"])
	require.True(t, cache.sets[model.BuyersKey("FOO/SOL")]["U"])
	require.Len(t, bus.published, 1)
	require.True(t, decimal.NewFromInt(10).Equal(bus.published[0].USDCurrentPrice))

	_, marketCapWritten := cache.values[model.MarketCapKey("FOO/SOL")]
	require.False(t, marketCapWritten)
}

func TestProcessTrade_SynthesizesMarketDataWhenEnabled(t *testing.T) {
	cache := newFakeCache()
	bus := &fakeBus{}
	w := New(nil, cache, bus, fakeQuotePrice{price: decimal.NewFromInt(100)}, "g", "c", true, metrics.NewMetrics(), testLogger())

	usd := decimal.NewFromInt(50)
	trade := model.StructuredTrade{
		TokenPair:  "FOO/SOL",
		Direction:  model.Sell,
		Owner:      "U",
		TokenPrice: decimal.NewFromInt(10),
		USDValue:   &usd,
	}

	ok := w.processTrade(context.Background(), trade)
	require.True(t, ok)
	require.Contains(t, cache.values, model.MarketCapKey("FOO/SOL"))
	require.Contains(t, cache.values, model.FDVKey("FOO/SOL"))
}

func TestHandleEntry_PublishesLatencyEWMA(t *testing.T) {
	cache := newFakeCache()
	bus := &fakeBus{}
	stream := &fakeStream{}
	w := New(stream, cache, bus, fakeQuotePrice{price: decimal.NewFromInt(100)}, "g", "c", false, metrics.NewMetrics(), testLogger())

	trade := model.StructuredTrade{
		TokenPair:  "FOO/SOL",
		Direction:  model.Buy,
		Owner:      "U",
		TokenPrice: decimal.NewFromInt(10),
	}

	w.handleEntry(context.Background(), "1-0", trade)

	raw, ok := cache.values[latencyCacheKey]
	require.True(t, ok)
	require.NotEmpty(t, raw)
	require.Equal(t, []string{"1-0"}, stream.acked)
}
