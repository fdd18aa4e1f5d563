package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Timeframe is one of the eight OHLCV aggregation windows the OHLCV Worker
// maintains for every token pair.
type Timeframe struct {
	Label   string
	Seconds int64
}

// Timeframes lists all eight required timeframes, in ascending order.
var Timeframes = []Timeframe{
	{"1s", 1},
	{"1m", 60},
	{"5m", 300},
	{"15m", 900},
	{"1h", 3600},
	{"4h", 14400},
	{"1d", 86400},
	{"1w", 604800},
}

// BucketStart rounds a unix-second timestamp down to the start of this
// timeframe's bucket. The 1s timeframe is the identity function.
func (tf Timeframe) BucketStart(unixSeconds int64) int64 {
	if tf.Seconds <= 1 {
		return unixSeconds
	}
	return (unixSeconds / tf.Seconds) * tf.Seconds
}

// Candle is an OHLCV aggregate for one token pair, one timeframe, and one
// bucket. All price/volume fields are decimals to avoid float accumulation
// error across long-lived counters.
type Candle struct {
	TokenPair   string          `json:"token_pair"`
	Timeframe   string          `json:"timeframe"`
	BucketStart int64           `json:"timestamp"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	BuyVolume   decimal.Decimal `json:"buy_volume"`
	SellVolume  decimal.Decimal `json:"sell_volume"`
	TradeCount  uint32          `json:"trade_count"`
}

// CacheKey returns the cache key this candle is stored under:
// "candle:<pair>:<timeframe>:<bucket_start>".
func (c *Candle) CacheKey() string {
	return fmt.Sprintf("candle:%s:%s:%d", c.TokenPair, c.Timeframe, c.BucketStart)
}

// NewCandle creates the opening candle for a bucket from a single trade.
func NewCandle(pair, tfLabel string, bucketStart int64, price, quantity decimal.Decimal, dir Direction) Candle {
	c := Candle{
		TokenPair:   pair,
		Timeframe:   tfLabel,
		BucketStart: bucketStart,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
		Volume:      quantity,
		TradeCount:  1,
	}
	if dir == Buy {
		c.BuyVolume = quantity
		c.SellVolume = decimal.Zero
	} else {
		c.SellVolume = quantity
		c.BuyVolume = decimal.Zero
	}
	return c
}

// Merge folds one more trade into an existing candle, in place.
func (c *Candle) Merge(price, quantity decimal.Decimal, dir Direction) {
	if price.GreaterThan(c.High) {
		c.High = price
	}
	if price.LessThan(c.Low) {
		c.Low = price
	}
	c.Close = price
	c.Volume = c.Volume.Add(quantity)
	c.TradeCount++
	if dir == Buy {
		c.BuyVolume = c.BuyVolume.Add(quantity)
	} else {
		c.SellVolume = c.SellVolume.Add(quantity)
	}
}

// JSON returns the JSON encoding of the candle, ignoring marshal errors —
// Candle's field types always marshal cleanly.
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
