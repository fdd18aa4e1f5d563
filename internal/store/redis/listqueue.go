package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"trading-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Ephemeral list-queue keys (§4.C). structeredTransactionsKey keeps the
// upstream system's misspelling verbatim — it is a durable key name other
// tooling may already depend on, not a typo to fix.
const (
	swapTransactionsKey       = "swap_transactions"
	structeredTransactionsKey = "structered_transactions"
)

// ListQueue implements model.ListQueue: two FIFO lists, push to head, pop
// from tail, no durability beyond the store's own.
type ListQueue struct {
	client *Client
}

func NewListQueue(client *Client) *ListQueue {
	return &ListQueue{client: client}
}

func (q *ListQueue) PushRaw(ctx context.Context, meta model.RawTradeMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal raw trade meta: %w", err)
	}
	if err := q.client.Raw().LPush(ctx, swapTransactionsKey, string(data)).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", swapTransactionsKey, err)
	}
	return nil
}

func (q *ListQueue) PopRaw(ctx context.Context) (model.RawTradeMeta, bool, error) {
	data, err := q.client.Raw().RPop(ctx, swapTransactionsKey).Result()
	if err == goredis.Nil {
		return model.RawTradeMeta{}, false, nil
	}
	if err != nil {
		return model.RawTradeMeta{}, false, fmt.Errorf("rpop %s: %w", swapTransactionsKey, err)
	}
	var meta model.RawTradeMeta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return model.RawTradeMeta{}, false, fmt.Errorf("unmarshal raw trade meta: %w", err)
	}
	return meta, true, nil
}

func (q *ListQueue) PushStructured(ctx context.Context, trade model.StructuredTrade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal structured trade: %w", err)
	}
	if err := q.client.Raw().LPush(ctx, structeredTransactionsKey, string(data)).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", structeredTransactionsKey, err)
	}
	return nil
}
