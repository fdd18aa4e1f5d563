// Package scheduler implements the Metrics Scheduler (§4.K): four
// independent periodic tasks that compute percent-change over rolling
// windows for every active token pair and publish the result.
package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"

	"github.com/shopspring/decimal"
)

// windows lists the four periodic tasks this scheduler runs, paired with
// their tick interval.
var windows = []struct {
	window   model.TimeframeWindow
	interval time.Duration
}{
	{model.Window5m, 300 * time.Second},
	{model.Window1h, 3600 * time.Second},
	{model.Window6h, 21600 * time.Second},
	{model.Window24h, 86400 * time.Second},
}

const currentPricePattern = "token:*:current-price"

// Scheduler runs the four percent-change tickers.
type Scheduler struct {
	cache model.CacheClient
	bus   model.PubSubBus
	prom  *metrics.Metrics
	log   *slog.Logger
	now   func() time.Time
}

func New(cache model.CacheClient, bus model.PubSubBus, prom *metrics.Metrics, log *slog.Logger) *Scheduler {
	return &Scheduler{cache: cache, bus: bus, prom: prom, log: log, now: time.Now}
}

// Run starts all four tickers and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	var tickers []*time.Ticker
	done := make(chan struct{})
	defer close(done)

	for _, w := range windows {
		w := w
		ticker := time.NewTicker(w.interval)
		tickers = append(tickers, ticker)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.tick(ctx, w.window)
				}
			}
		}()
	}

	<-ctx.Done()
	for _, t := range tickers {
		t.Stop()
	}
	return ctx.Err()
}

// tick runs one pass for window across every active pair.
func (s *Scheduler) tick(ctx context.Context, window model.TimeframeWindow) {
	start := time.Now()
	defer func() {
		s.prom.SchedulerTickDuration.WithLabelValues(string(window)).Observe(time.Since(start).Seconds())
	}()

	keys, err := s.cache.ScanKeys(ctx, currentPricePattern)
	if err != nil {
		s.log.Warn("failed to scan current-price keys", "window", window, "error", err)
		return
	}

	pairs := dedupePairs(keys)
	s.prom.SchedulerPairsScanned.WithLabelValues(string(window)).Set(float64(len(pairs)))
	for _, pair := range pairs {
		if err := s.updatePair(ctx, pair, window); err != nil {
			s.log.Warn("failed to compute percent change", "pair", pair, "window", window, "error", err)
		}
	}
}

// dedupePairs extracts the pair segment (second colon-delimited field) of
// each "token:<pair>:current-price" key and removes duplicates.
func dedupePairs(keys []string) []string {
	seen := map[string]bool{}
	var pairs []string
	for _, key := range keys {
		parts := strings.SplitN(key, ":", 3)
		if len(parts) < 2 {
			continue
		}
		pair := parts[1]
		if seen[pair] {
			continue
		}
		seen[pair] = true
		pairs = append(pairs, pair)
	}
	return pairs
}

func (s *Scheduler) updatePair(ctx context.Context, pair string, window model.TimeframeWindow) error {
	currentRaw, found, err := s.cache.Get(ctx, model.CurrentPriceKey(pair))
	if err != nil || !found {
		return err
	}
	current, err := decimal.NewFromString(currentRaw)
	if err != nil {
		return err
	}

	stats, err := s.readStats(ctx, pair)
	if err != nil {
		return err
	}

	history, err := s.cache.LRange(ctx, model.HistoryPriceKey(pair), 0, -1)
	if err != nil {
		return err
	}

	threshold := s.now().Unix() - model.WindowSeconds(window)
	historical, ok := nearestNotNewerThan(history, threshold)
	if !ok {
		return nil
	}

	var percentChange decimal.Decimal
	if historical.IsZero() {
		percentChange = decimal.Zero
	} else {
		percentChange = current.Sub(historical).Div(historical)
	}

	update := model.PeriodStatsUpdate{
		TokenPair:     pair,
		Timeframe:     window,
		PercentChange: percentChange,
		Stats:         &stats,
	}
	return s.bus.PublishPriceMetrics(ctx, update)
}

// nearestNotNewerThan does a full linear scan of history (every entry, not
// only the first) looking for the point whose timestamp is closest to but
// not after threshold.
func nearestNotNewerThan(history []string, threshold int64) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	bestDiff := int64(-1)

	for _, entry := range history {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		ts, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		if ts > threshold {
			continue
		}
		price, err := decimal.NewFromString(parts[1])
		if err != nil {
			continue
		}
		diff := threshold - ts
		if !found || diff < bestDiff {
			bestDiff = diff
			best = price
			found = true
		}
	}
	return best, found
}

func (s *Scheduler) readStats(ctx context.Context, pair string) (model.PeriodStats, error) {
	hash, err := s.cache.HGetAll(ctx, model.StatsKey(pair))
	if err != nil {
		return model.PeriodStats{}, err
	}

	buys := parseUint(hash["buys"])
	sells := parseUint(hash["sells"])
	buyVol := parseDecimal(hash["buy vol"])
	sellVol := parseDecimal(hash["sell vol"])

	buyers, err := s.cache.SCard(ctx, model.BuyersKey(pair))
	if err != nil {
		return model.PeriodStats{}, err
	}
	sellers, err := s.cache.SCard(ctx, model.MakersKey(pair))
	if err != nil {
		return model.PeriodStats{}, err
	}

	return model.PeriodStats{
		Txns:       buys + sells,
		Volume:     buyVol.Add(sellVol),
		Makers:     int(buyers + sellers),
		Buys:       buys,
		Sells:      sells,
		BuyVolume:  buyVol,
		SellVolume: sellVol,
		Buyers:     int(buyers),
		Sellers:    int(sellers),
	}, nil
}

func parseUint(s string) uint64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
