package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"trading-systemv1/internal/model"
)

// Pub/sub channel names (§4.D, §6).
const (
	ChannelTransactions = "transactions"
	ChannelPriceMetrics = "price_metrics"
	ChannelCurrentPrice = "current_price"
	ChannelCandlePrice  = "candle_price"
)

// PubSub implements model.PubSubBus over four Redis Pub/Sub channels.
type PubSub struct {
	client *Client
	log    *slog.Logger
}

func NewPubSub(client *Client, log *slog.Logger) *PubSub {
	return &PubSub{client: client, log: log}
}

func (p *PubSub) publish(ctx context.Context, channel string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	if err := p.client.Raw().Publish(ctx, channel, string(data)).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (p *PubSub) PublishTransaction(ctx context.Context, trade model.StructuredTrade) error {
	return p.publish(ctx, ChannelTransactions, trade)
}

func (p *PubSub) PublishPriceMetrics(ctx context.Context, upd model.PeriodStatsUpdate) error {
	return p.publish(ctx, ChannelPriceMetrics, upd)
}

func (p *PubSub) PublishCurrentPrice(ctx context.Context, info model.PriceInfo) error {
	return p.publish(ctx, ChannelCurrentPrice, info)
}

func (p *PubSub) PublishCandle(ctx context.Context, c model.Candle) error {
	return p.publish(ctx, ChannelCandlePrice, c)
}

// Subscribe opens one consumer loop across all four channels and
// demultiplexes each payload into a typed model.BusEvent on out. A
// deserialization failure on one payload is logged and does not tear
// down the subscription (§4.D). Blocks until ctx is cancelled.
func (p *PubSub) Subscribe(ctx context.Context, out chan<- model.BusEvent) error {
	sub := p.client.Raw().Subscribe(ctx, ChannelTransactions, ChannelPriceMetrics, ChannelCurrentPrice, ChannelCandlePrice)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := decodeEvent(msg.Channel, msg.Payload)
			if err != nil {
				p.log.Warn("bus payload failed to deserialize, skipping", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func decodeEvent(channel, payload string) (model.BusEvent, error) {
	switch channel {
	case ChannelTransactions:
		var t model.StructuredTrade
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return model.BusEvent{}, err
		}
		return model.BusEvent{Transaction: &t}, nil
	case ChannelPriceMetrics:
		var u model.PeriodStatsUpdate
		if err := json.Unmarshal([]byte(payload), &u); err != nil {
			return model.BusEvent{}, err
		}
		return model.BusEvent{PriceMetrics: &u}, nil
	case ChannelCurrentPrice:
		var info model.PriceInfo
		if err := json.Unmarshal([]byte(payload), &info); err != nil {
			return model.BusEvent{}, err
		}
		return model.BusEvent{CurrentPrice: &info}, nil
	case ChannelCandlePrice:
		var c model.Candle
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return model.BusEvent{}, err
		}
		return model.BusEvent{CandleUpdate: &c}, nil
	default:
		return model.BusEvent{}, fmt.Errorf("unknown channel %q", channel)
	}
}
