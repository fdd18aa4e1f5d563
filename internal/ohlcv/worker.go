// Package ohlcv implements the OHLCV Worker (§4.J): a second, independent
// consumer of stream B that folds every trade into candles across all
// eight supported timeframes.
package ohlcv

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"
)

// PEL reclaim tuning (§2.3): mirrors the Metrics Worker's reclaimer so a
// crashed OHLCV worker's in-flight entries are picked up by a live one.
const (
	reclaimInterval = 30 * time.Second
	reclaimMinIdle  = time.Minute
	reclaimBatch    = 100

	// latencyAlpha mirrors the Metrics Worker's smoothing factor.
	latencyAlpha = 0.2

	// latencyCacheKey is where this worker's running per-trade processing
	// cost is published for operators (§2.3).
	latencyCacheKey      = "ohlcv_worker:latency_ewma_ms"
	latencyCacheTTL      = 30 * time.Second
	latencyPublishMinGap = 2 * time.Second
)

// Worker drains stream B under OHLCV_CONSUMER_GROUP, independent of the
// Metrics Worker's group (§9).
type Worker struct {
	stream   model.StreamQueue
	cache    model.CacheClient
	bus      model.PubSubBus
	prom     *metrics.Metrics
	log      *slog.Logger
	group    string
	consumer string

	latency            *model.EWMA
	latencyMu          sync.Mutex
	lastLatencyPublish time.Time

	now func() time.Time
}

func New(stream model.StreamQueue, cache model.CacheClient, bus model.PubSubBus, group, consumer string, prom *metrics.Metrics, log *slog.Logger) *Worker {
	return &Worker{
		stream:   stream,
		cache:    cache,
		bus:      bus,
		group:    group,
		consumer: consumer,
		prom:     prom,
		log:      log,
		latency:  model.NewEWMA(latencyAlpha),
		now:      time.Now,
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
		w.prom.OHLCVProcessedTotal.Inc()
		if err := w.stream.Ack(ctx, w.group, entryID); err != nil {
			w.log.Warn("failed to ack stream entry", "entry_id", entryID, "error", err)
			return
		}
		w.prom.OHLCVAckedTotal.Inc()
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

// processTrade folds trade into every one of the eight timeframe candles.
// Returns false (leaving the entry unacknowledged) if any timeframe fails
// to save or publish.
func (w *Worker) processTrade(ctx context.Context, trade model.StructuredTrade) bool {
	unixSeconds := trade.Timestamp.Unix()
	ok := true
	for _, tf := range model.Timeframes {
		if !w.updateTimeframe(ctx, trade, tf, unixSeconds) {
			ok = false
		}
	}
	return ok
}

func (w *Worker) updateTimeframe(ctx context.Context, trade model.StructuredTrade, tf model.Timeframe, unixSeconds int64) bool {
	start := time.Now()
	defer func() {
		w.prom.CandleMergeDuration.Observe(time.Since(start).Seconds())
	}()

	bucketStart := tf.BucketStart(unixSeconds)

	candle, err := w.fetchCandle(ctx, trade.TokenPair, tf.Label, bucketStart)
	if err != nil {
		w.log.Warn("failed to fetch candle", "pair", trade.TokenPair, "timeframe", tf.Label, "error", err)
		return false
	}

	if candle == nil {
		c := model.NewCandle(trade.TokenPair, tf.Label, bucketStart, trade.TokenPrice, trade.TokenQuantity, trade.Direction)
		candle = &c
	} else {
		candle.Merge(trade.TokenPrice, trade.TokenQuantity, trade.Direction)
	}

	if err := w.cache.Set(ctx, candle.CacheKey(), string(candle.JSON()), 0); err != nil {
		w.log.Warn("failed to save candle", "key", candle.CacheKey(), "error", err)
		return false
	}
	if err := w.bus.PublishCandle(ctx, *candle); err != nil {
		w.log.Warn("failed to publish candle", "key", candle.CacheKey(), "error", err)
		return false
	}
	return true
}

func (w *Worker) fetchCandle(ctx context.Context, pair, tfLabel string, bucketStart int64) (*model.Candle, error) {
	key := (&model.Candle{TokenPair: pair, Timeframe: tfLabel, BucketStart: bucketStart}).CacheKey()
	raw, found, err := w.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var c model.Candle
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		w.log.Warn("cached candle failed to deserialize, starting fresh", "key", key, "error", err)
		return nil, nil
	}
	return &c, nil
}
