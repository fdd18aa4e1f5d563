package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple business logic from the concrete store
// implementation (Redis). Every component beyond §4.A depends only on
// the slice of this surface it actually needs.

// StreamQueue is the durable append-and-consume log (§4.B) backing
// structured_txn_stream, with independent consumer-group semantics so the
// Metrics Worker and OHLCV Worker each see every trade, at least once per
// group (unacknowledged entries can be redelivered or reclaimed).
type StreamQueue interface {
	// EnsureGroup idempotently creates a consumer group on the stream,
	// starting from the oldest entry ("0") so a freshly-created group
	// sees every trade already appended.
	EnsureGroup(ctx context.Context, group string) error

	// Consume blocks up to ~1s for a single new entry addressed to group
	// as consumer. Returns ok=false on timeout (no entry, not an error).
	Consume(ctx context.Context, group, consumer string) (entryID string, trade StructuredTrade, ok bool, err error)

	// Append durably appends a trade and returns its entry id.
	Append(ctx context.Context, trade StructuredTrade) (entryID string, err error)

	// Ack acknowledges an entry, removing it from the group's pending set.
	Ack(ctx context.Context, group, entryID string) error

	// ReclaimStale steals PEL entries idle longer than minIdle from dead
	// consumers in group and hands them to consumer.
	ReclaimStale(ctx context.Context, group, consumer string, minIdle time.Duration, batchSize int64) (reclaimed []PendingEntry, err error)
}

// PendingEntry is one reclaimed, previously-unacknowledged stream entry.
type PendingEntry struct {
	EntryID string
	Trade   StructuredTrade
}

// ListQueue is the ephemeral FIFO queue (§4.C) used between the Upstream
// Subscriber and the Swap Classifier, and for the legacy structured-trade
// mirror.
type ListQueue interface {
	// PushRaw pushes a raw metadata record onto swap_transactions.
	PushRaw(ctx context.Context, meta RawTradeMeta) error

	// PopRaw pops the oldest raw metadata record, or ok=false if empty.
	PopRaw(ctx context.Context) (meta RawTradeMeta, ok bool, err error)

	// PushStructured mirrors a trade onto the legacy structered_transactions
	// queue (name intentionally matches the upstream system's key).
	PushStructured(ctx context.Context, trade StructuredTrade) error
}

// BusEvent is the tagged-variant demultiplexed form of every payload the
// Pub/Sub Bus (§4.D) carries.
type BusEvent struct {
	Transaction  *StructuredTrade
	PriceMetrics *PeriodStatsUpdate
	CurrentPrice *PriceInfo
	CandleUpdate *Candle
}

// PubSubBus is the typed multi-channel broadcast bus (§4.D).
type PubSubBus interface {
	PublishTransaction(ctx context.Context, trade StructuredTrade) error
	PublishPriceMetrics(ctx context.Context, upd PeriodStatsUpdate) error
	PublishCurrentPrice(ctx context.Context, info PriceInfo) error
	PublishCandle(ctx context.Context, c Candle) error

	// Subscribe opens a single consumer loop across all four channels,
	// demultiplexing payloads into typed events on out. Runs until ctx is
	// cancelled. A deserialization failure on one payload is logged and
	// does not tear down the subscription.
	Subscribe(ctx context.Context, out chan<- BusEvent) error
}

// CacheClient is the uniform facade over the shared store (§4.A) that
// every other component depends on for plain key/hash/set/list access.
// Stream and pub/sub access are split into StreamQueue and PubSubBus
// above so each component only imports the surface it uses.
type CacheClient interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	HIncrByFloat(ctx context.Context, key, field string, delta float64) error
	HIncrBy(ctx context.Context, key, field string, delta int64) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	SAdd(ctx context.Context, key, member string) error
	SCard(ctx context.Context, key string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	LPush(ctx context.Context, key, value string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ScanKeys returns all keys matching pattern, using a cursor-based
	// SCAN loop rather than a single blocking KEYS call.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	Close() error
}
