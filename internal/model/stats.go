package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PeriodStats are the per-token counters maintained by the Metrics Worker
// and read back by the Metrics Scheduler. Set-valued fields (buyers,
// sellers) are stored in the cache as sets; the sizes reported here are
// computed from those sets at read time.
type PeriodStats struct {
	Txns       uint64          `json:"txns"`
	Volume     decimal.Decimal `json:"volume"`
	Makers     int             `json:"makers"`
	Buys       uint64          `json:"buys"`
	Sells      uint64          `json:"sells"`
	BuyVolume  decimal.Decimal `json:"buy_volume"`
	SellVolume decimal.Decimal `json:"sell_volume"`
	Buyers     int             `json:"buyers"`
	Sellers    int             `json:"sellers"`
}

// StatsKey returns "token:<pair>:stats".
func StatsKey(pair string) string { return fmt.Sprintf("token:%s:stats", pair) }

// BuyersKey returns "token:<pair>:buyers".
func BuyersKey(pair string) string { return fmt.Sprintf("token:%s:buyers", pair) }

// MakersKey returns "token:<pair>:makers" (the sell-side owner set).
func MakersKey(pair string) string { return fmt.Sprintf("token:%s:makers", pair) }

// CurrentPriceKey returns "token:<pair>:current-price".
func CurrentPriceKey(pair string) string { return fmt.Sprintf("token:%s:current-price", pair) }

// HistoryPriceKey returns "token:<pair>:history-price".
func HistoryPriceKey(pair string) string { return fmt.Sprintf("token:%s:history-price", pair) }

// MarketCapKey returns "token:<pair>:market-cap".
func MarketCapKey(pair string) string { return fmt.Sprintf("token:%s:market-cap", pair) }

// FDVKey returns "token:<pair>:fdv".
func FDVKey(pair string) string { return fmt.Sprintf("token:%s:fdv", pair) }

// PriceHistoryPoint is one (unix_seconds, price_usd) sample in a token's
// rotating price-history list.
type PriceHistoryPoint struct {
	UnixSeconds int64
	PriceUSD    decimal.Decimal
}

// Encode renders the point as "<unix_seconds>:<price>", the wire format
// used by the history-price list.
func (p PriceHistoryPoint) Encode() string {
	return fmt.Sprintf("%d:%s", p.UnixSeconds, p.PriceUSD.String())
}

// MintInfo is the cached (name, symbol) pair for a mint, keyed by the
// mint address itself.
type MintInfo struct {
	TokenSymbol string `json:"token_symbol"`
	TokenName   string `json:"token_name"`
}

// SolPrice is the cached quote-asset price record, keyed "sol_price".
type SolPrice struct {
	PriceUSD      decimal.Decimal `json:"price_usd"`
	LastUpdatedAt int64           `json:"last_updated_utc"`
}

// PriceInfo is published on the current_price channel by the Metrics
// Worker.
type PriceInfo struct {
	TokenPair        string          `json:"token_pair"`
	USDCurrentPrice  decimal.Decimal `json:"usd_current_price"`
	SOLRelativePrice decimal.Decimal `json:"sol_relative_price"`
}

// TimeframeWindow identifies one of the four percent-change windows the
// Metrics Scheduler computes.
type TimeframeWindow string

const (
	Window5m  TimeframeWindow = "5m"
	Window1h  TimeframeWindow = "1h"
	Window6h  TimeframeWindow = "6h"
	Window24h TimeframeWindow = "24h"
)

// WindowSeconds returns the lookback duration for a scheduler window.
func WindowSeconds(w TimeframeWindow) int64 {
	switch w {
	case Window5m:
		return 5 * 60
	case Window1h:
		return 60 * 60
	case Window6h:
		return 6 * 60 * 60
	case Window24h:
		return 24 * 60 * 60
	default:
		return 0
	}
}

// PeriodStatsUpdate is published on price_metrics by the Metrics Scheduler.
type PeriodStatsUpdate struct {
	TokenPair     string          `json:"token_pair"`
	Timeframe     TimeframeWindow `json:"timeframe"`
	PercentChange decimal.Decimal `json:"percent_change"`
	Stats         *PeriodStats    `json:"period_stats,omitempty"`
}
