package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"trading-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// StreamQueueName is the durable append-only log shared by the Swap
// Classifier (producer) and the Metrics Worker / OHLCV Worker (two
// independent consumer groups, §9).
const StreamQueueName = "structured_txn_stream"

// busyGroupErr is the exact message go-redis surfaces for XGROUP CREATE
// against an already-existing group; it is not a failure.
const busyGroupErr = "BUSYGROUP Consumer Group name already exists"

// StreamQueue implements model.StreamQueue against structured_txn_stream.
type StreamQueue struct {
	client *Client
	log    *slog.Logger
}

func NewStreamQueue(client *Client, log *slog.Logger) *StreamQueue {
	return &StreamQueue{client: client, log: log}
}

// EnsureGroup idempotently creates group, starting from the oldest entry
// so a freshly-created group observes every trade already on the stream.
func (s *StreamQueue) EnsureGroup(ctx context.Context, group string) error {
	err := s.client.Raw().XGroupCreateMkStream(ctx, StreamQueueName, group, "0").Err()
	if err != nil && err.Error() != busyGroupErr {
		return fmt.Errorf("xgroup create %s/%s: %w", StreamQueueName, group, err)
	}
	return nil
}

func (s *StreamQueue) Append(ctx context.Context, trade model.StructuredTrade) (string, error) {
	data, err := json.Marshal(trade)
	if err != nil {
		return "", fmt.Errorf("marshal trade: %w", err)
	}
	id, err := s.client.Raw().XAdd(ctx, &goredis.XAddArgs{
		Stream: StreamQueueName,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", StreamQueueName, err)
	}
	return id, nil
}

// Consume blocks up to 1s for a single new entry. Unlike this store
// package's sibling candle-stream consumer in the wider corpus, a
// deserialization failure here is logged and left UNACKED rather than
// acknowledged — the entry stays pending for manual inspection per §4.B.
func (s *StreamQueue) Consume(ctx context.Context, group, consumer string) (string, model.StructuredTrade, bool, error) {
	res, err := s.client.Raw().XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{StreamQueueName, ">"},
		Count:    1,
		Block:    time.Second,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", model.StructuredTrade{}, false, nil
		}
		return "", model.StructuredTrade{}, false, fmt.Errorf("xreadgroup %s/%s: %w", group, consumer, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", model.StructuredTrade{}, false, nil
	}

	msg := res[0].Messages[0]
	data, ok := msg.Values["data"].(string)
	if !ok {
		s.log.Warn("stream entry missing data field, leaving pending", "entry_id", msg.ID)
		return "", model.StructuredTrade{}, false, nil
	}

	var trade model.StructuredTrade
	if err := json.Unmarshal([]byte(data), &trade); err != nil {
		s.log.Warn("stream entry failed to deserialize, leaving pending (not acked)", "entry_id", msg.ID, "error", err)
		return "", model.StructuredTrade{}, false, nil
	}
	return msg.ID, trade, true, nil
}

func (s *StreamQueue) Ack(ctx context.Context, group, entryID string) error {
	if err := s.client.Raw().XAck(ctx, StreamQueueName, group, entryID).Err(); err != nil {
		return fmt.Errorf("xack %s/%s/%s: %w", StreamQueueName, group, entryID, err)
	}
	return nil
}

// ReclaimStale steals PEL entries idle longer than minIdle away from dead
// consumers in group, handing them to consumer. Supplements §5's
// restart-only redelivery guarantee with an in-process one (SPEC_FULL.md
// §2.3).
func (s *StreamQueue) ReclaimStale(ctx context.Context, group, consumer string, minIdle time.Duration, batchSize int64) ([]model.PendingEntry, error) {
	pending, err := s.client.Raw().XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: StreamQueueName,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  batchSize,
		Idle:   minIdle,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xpending %s/%s: %w", StreamQueueName, group, err)
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != consumer {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	claimed, err := s.client.Raw().XClaim(ctx, &goredis.XClaimArgs{
		Stream:   StreamQueueName,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s/%s: %w", StreamQueueName, group, err)
	}

	out := make([]model.PendingEntry, 0, len(claimed))
	for _, msg := range claimed {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var trade model.StructuredTrade
		if err := json.Unmarshal([]byte(data), &trade); err != nil {
			s.log.Warn("reclaimed entry failed to deserialize, leaving pending", "entry_id", msg.ID, "error", err)
			continue
		}
		out = append(out, model.PendingEntry{EntryID: msg.ID, Trade: trade})
	}
	if len(out) > 0 {
		s.log.Info("reclaimed stale PEL entries", "group", group, "count", len(out))
	}
	return out, nil
}
