package scheduler

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
	values map[string]string
	lists  map[string][]string
	hashes map[string]map[string]string
	sets   map[string]int64
	keys   []string
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := c.values[key]
	return v, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (c *fakeCache) Expire(ctx context.Context, key string, ttl time.Duration) error     { return nil }
func (c *fakeCache) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	return nil
}
func (c *fakeCache) HIncrBy(ctx context.Context, key, field string, delta int64) error { return nil }
func (c *fakeCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.hashes[key], nil
}
func (c *fakeCache) SAdd(ctx context.Context, key, member string) error { return nil }
func (c *fakeCache) SCard(ctx context.Context, key string) (int64, error) {
	return c.sets[key], nil
}
func (c *fakeCache) SMembers(ctx context.Context, key string) ([]string, error) { return nil, nil }
func (c *fakeCache) LPush(ctx context.Context, key, value string) error        { return nil }
func (c *fakeCache) LTrim(ctx context.Context, key string, start, stop int64) error { return nil }
func (c *fakeCache) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.lists[key], nil
}
func (c *fakeCache) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	return c.keys, nil
}
func (c *fakeCache) Close() error { return nil }

type fakeBus struct {
	published []model.PeriodStatsUpdate
}

func (b *fakeBus) PublishTransaction(ctx context.Context, trade model.StructuredTrade) error {
	return nil
}
func (b *fakeBus) PublishPriceMetrics(ctx context.Context, upd model.PeriodStatsUpdate) error {
	b.published = append(b.published, upd)
	return nil
}
func (b *fakeBus) PublishCurrentPrice(ctx context.Context, info model.PriceInfo) error { return nil }
func (b *fakeBus) PublishCandle(ctx context.Context, c model.Candle) error             { return nil }
func (b *fakeBus) Subscribe(ctx context.Context, out chan<- model.BusEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestUpdatePair_PercentChangeUsesNearestNotNewerPoint(t *testing.T) {
	fixedNow := time.Unix(1000, 0)

	cache := &fakeCache{
		values: map[string]string{
			model.CurrentPriceKey("FOO/SOL"): "121",
		},
		lists: map[string][]string{
			model.HistoryPriceKey("FOO/SOL"): {"400:100", "699:100", "701:110"},
		},
		hashes: map[string]map[string]string{},
		sets:   map[string]int64{},
		keys:   []string{"token:FOO/SOL:current-price"},
	}
	bus := &fakeBus{}
	s := New(cache, bus, metrics.NewMetrics(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return fixedNow }

	err := s.updatePair(context.Background(), "FOO/SOL", model.Window5m)
	require.NoError(t, err)
	require.Len(t, bus.published, 1)
	require.True(t, decimal.NewFromFloat(0.21).Equal(bus.published[0].PercentChange))
}

func TestDedupePairs(t *testing.T) {
	pairs := dedupePairs([]string{
		"token:FOO/SOL:current-price",
		"token:BAR/SOL:current-price",
		"token:FOO/SOL:current-price",
	})
	require.ElementsMatch(t, []string{"FOO/SOL", "BAR/SOL"}, pairs)
}
