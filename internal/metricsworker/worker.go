// Package metricsworker implements the Metrics Worker (§4.I): the
// per-trade cache-update pipeline that keeps current price, rolling price
// history, period-stats counters, and buyer/maker sets current for every
// pair stream B carries.
package metricsworker

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"

	"github.com/shopspring/decimal"
)

const (
	historyLength = 3000
	statsTTL      = 24 * time.Hour

	synthMarketCapMin = 100_000
	synthMarketCapMax = 1_000_000

	// PEL reclaim tuning (§2.3): a consumer idle this long is presumed
	// dead; its pending entries are claimed by this process instead of
	// waiting for a restart-triggered redelivery.
	reclaimInterval = 30 * time.Second
	reclaimMinIdle  = time.Minute
	reclaimBatch    = 100
)

// QuotePrice is the §4.F dependency used to compute sol_relative_price.
type QuotePrice interface {
	GetQuotePrice(ctx context.Context) (decimal.Decimal, bool)
}

// Worker drains stream B under METRICS_CONSUMER_GROUP.
type Worker struct {
	stream   model.StreamQueue
	cache    model.CacheClient
	bus      model.PubSubBus
	price    QuotePrice
	prom     *metrics.Metrics
	log      *slog.Logger
	group    string
	consumer string

	// synthesizeMarketData gates step 7's placeholder market-cap/FDV
	// writes. A deployment wired to a real supply source sets this false
	// and leaves those two keys unwritten.
	synthesizeMarketData bool

	latency            *model.EWMA
	latencyMu          sync.Mutex
	lastLatencyPublish time.Time

	now func() time.Time
}

const (
	// latencyAlpha weights the most recent processTrade duration at 20%
	// against 80% history, matching the teacher's indengine worker loop's
	// smoothing.
	latencyAlpha = 0.2

	// latencyCacheKey is where the running average processing cost is
	// published for operators, since this worker has no metrics-broadcast
	// channel of its own (§2.3).
	latencyCacheKey      = "metrics_worker:latency_ewma_ms"
	latencyCacheTTL      = 30 * time.Second
	latencyPublishMinGap = 2 * time.Second
)

func New(stream model.StreamQueue, cache model.CacheClient, bus model.PubSubBus, price QuotePrice, group, consumer string, synthesizeMarketData bool, prom *metrics.Metrics, log *slog.Logger) *Worker {
	return &Worker{
		stream:               stream,
		cache:                cache,
		bus:                  bus,
		price:                price,
		group:                group,
		consumer:             consumer,
		synthesizeMarketData: synthesizeMarketData,
		latency:              model.NewEWMA(latencyAlpha),
		prom:                 prom,
		log:                  log,
		now:                  time.Now,
	}
}

// Run consumes stream B in a loop until ctx is cancelled, alongside a
// background reclaimer that steals PEL entries left behind by dead
// consumers in the same group (§2.3).
func (w *Worker) Run(ctx context.Context) error {
	if err := w.stream.EnsureGroup(ctx, w.group); err != nil {
		return err
	}

	go w.reclaimLoop(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entryID, trade, ok, err := w.stream.Consume(ctx, w.group, w.consumer)
		if err != nil {
			w.log.Warn("stream consume failed", "error", err)
			continue
		}
		if !ok {
			continue
		}
		w.handleEntry(ctx, entryID, trade)
	}
}

// reclaimLoop periodically claims pending entries idle longer than
// reclaimMinIdle from dead consumers in w.group and processes them as if
// freshly delivered.
func (w *Worker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := w.stream.ReclaimStale(ctx, w.group, w.consumer, reclaimMinIdle, reclaimBatch)
			if err != nil {
				w.log.Warn("pel reclaim failed", "group", w.group, "error", err)
				continue
			}
			if len(reclaimed) > 0 {
				w.prom.PELMessagesReclaimed.Add(float64(len(reclaimed)))
			}
			for _, entry := range reclaimed {
				w.handleEntry(ctx, entry.EntryID, entry.Trade)
			}
		}
	}
}

func (w *Worker) handleEntry(ctx context.Context, entryID string, trade model.StructuredTrade) {
	start := w.now()
	ok := w.processTrade(ctx, trade)
	w.observeLatency(ctx, w.now().Sub(start))
	if ok {
		w.prom.MetricsProcessedTotal.Inc()
		if err := w.stream.Ack(ctx, w.group, entryID); err != nil {
			w.log.Warn("failed to ack stream entry", "entry_id", entryID, "error", err)
			return
		}
		w.prom.MetricsAckedTotal.Inc()
	}
}

// observeLatency folds d into the running per-trade processing-cost average
// and republishes it to latencyCacheKey, throttled to once per
// latencyPublishMinGap so a burst of trades doesn't hammer the cache (§2.3).
func (w *Worker) observeLatency(ctx context.Context, d time.Duration) {
	w.latency.Observe(float64(d.Microseconds()) / 1000)

	w.latencyMu.Lock()
	due := w.now().Sub(w.lastLatencyPublish) >= latencyPublishMinGap
	if due {
		w.lastLatencyPublish = w.now()
	}
	w.latencyMu.Unlock()
	if !due {
		return
	}

	value := strconv.FormatFloat(w.latency.Value(), 'f', 3, 64)
	if err := w.cache.Set(ctx, latencyCacheKey, value, latencyCacheTTL); err != nil {
		w.log.Warn("failed to publish latency ewma", "error", err)
	}
}

// processTrade runs steps 1-7 against trade and reports whether every
// step succeeded. On any failure it returns false so Run leaves the entry
// unacknowledged (§4.I step 8).
func (w *Worker) processTrade(ctx context.Context, trade model.StructuredTrade) bool {
	pair := trade.TokenPair

	// Step 1: current price.
	step1 := time.Now()
	if err := w.cache.Set(ctx, model.CurrentPriceKey(pair), trade.TokenPrice.String(), 0); err != nil {
		w.log.Warn("step 1 current-price write failed", "pair", pair, "error", err)
		return false
	}
	w.prom.MetricsStepDuration.WithLabelValues("current_price").Observe(time.Since(step1).Seconds())

	// Step 2: append and trim history.
	step2 := time.Now()
	point := model.PriceHistoryPoint{UnixSeconds: w.now().Unix(), PriceUSD: trade.TokenPrice}
	historyKey := model.HistoryPriceKey(pair)
	if err := w.cache.LPush(ctx, historyKey, point.Encode()); err != nil {
		w.log.Warn("step 2 history-price push failed", "pair", pair, "error", err)
		return false
	}
	if err := w.cache.LTrim(ctx, historyKey, 0, historyLength-1); err != nil {
		w.log.Warn("step 2 history-price trim failed", "pair", pair, "error", err)
		return false
	}
	w.prom.MetricsStepDuration.WithLabelValues("history_price").Observe(time.Since(step2).Seconds())

	// Step 3: stats hash increment.
	step3 := time.Now()
	statsKey := model.StatsKey(pair)
	usdValue := 0.0
	if trade.USDValue != nil {
		usdValue, _ = trade.USDValue.Float64()
	}
	if trade.IsBuy() {
		if err := w.cache.HIncrBy(ctx, statsKey, "buys", 1); err != nil {
			w.log.Warn("step 3 buys increment failed", "pair", pair, "error", err)
			return false
		}
		if err := w.cache.HIncrByFloat(ctx, statsKey, "buy vol", usdValue); err != nil {
			w.log.Warn("step 3 buy vol increment failed", "pair", pair, "error", err)
			return false
		}
	} else {
		if err := w.cache.HIncrBy(ctx, statsKey, "sells", 1); err != nil {
			w.log.Warn("step 3 sells increment failed", "pair", pair, "error", err)
			return false
		}
		if err := w.cache.HIncrByFloat(ctx, statsKey, "sell vol", usdValue); err != nil {
			w.log.Warn("step 3 sell vol increment failed", "pair", pair, "error", err)
			return false
		}
	}
	w.prom.MetricsStepDuration.WithLabelValues("stats").Observe(time.Since(step3).Seconds())

	// Step 4: buyer/maker set membership.
	step4 := time.Now()
	var ownerSetKey string
	if trade.IsBuy() {
		ownerSetKey = model.BuyersKey(pair)
	} else {
		ownerSetKey = model.MakersKey(pair)
	}
	if err := w.cache.SAdd(ctx, ownerSetKey, trade.Owner); err != nil {
		w.log.Warn("step 4 owner set add failed", "pair", pair, "error", err)
		return false
	}
	w.prom.MetricsStepDuration.WithLabelValues("owner_set").Observe(time.Since(step4).Seconds())

	// Step 5: 24h expiration.
	step5 := time.Now()
	for _, key := range []string{statsKey, model.BuyersKey(pair), model.MakersKey(pair)} {
		if err := w.cache.Expire(ctx, key, statsTTL); err != nil {
			w.log.Warn("step 5 expire failed", "key", key, "error", err)
			return false
		}
	}
	w.prom.MetricsStepDuration.WithLabelValues("expire").Observe(time.Since(step5).Seconds())

	// Step 6: publish current_price.
	step6 := time.Now()
	solRelative := decimal.Zero
	if quotePrice, found := w.price.GetQuotePrice(ctx); found && quotePrice.IsPositive() {
		solRelative = trade.TokenPrice.Div(quotePrice)
	}
	info := model.PriceInfo{TokenPair: pair, USDCurrentPrice: trade.TokenPrice, SOLRelativePrice: solRelative}
	if err := w.bus.PublishCurrentPrice(ctx, info); err != nil {
		w.log.Warn("step 6 publish current_price failed", "pair", pair, "error", err)
		return false
	}
	w.prom.MetricsStepDuration.WithLabelValues("publish_price").Observe(time.Since(step6).Seconds())

	// Step 7: synthesized market-cap/FDV, gated behind the config flag.
	if w.synthesizeMarketData {
		step7 := time.Now()
		marketCap := synthMarketCapMin + rand.Intn(synthMarketCapMax-synthMarketCapMin+1)
		fdv := synthMarketCapMin + rand.Intn(synthMarketCapMax-synthMarketCapMin+1)
		if err := w.cache.Set(ctx, model.MarketCapKey(pair), itoa(marketCap), 0); err != nil {
			w.log.Warn("step 7 market-cap write failed", "pair", pair, "error", err)
			return false
		}
		if err := w.cache.Set(ctx, model.FDVKey(pair), itoa(fdv), 0); err != nil {
			w.log.Warn("step 7 fdv write failed", "pair", pair, "error", err)
			return false
		}
		w.prom.MetricsStepDuration.WithLabelValues("synthetic_market_data").Observe(time.Since(step7).Seconds())
	}

	return true
}

func itoa(n int) string {
	return model.Itoa(n)
}
