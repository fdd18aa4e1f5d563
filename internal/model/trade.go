package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteMint is the native asset used as one side of every pair this
// pipeline considers.
const QuoteMint = "So11111111111111111111111111111111111111112"

// TokenBalanceSnapshot is one pre- or post-transaction token balance entry
// as reported by the upstream feed.
type TokenBalanceSnapshot struct {
	AccountIndex int             `json:"account_index"`
	Mint         string          `json:"mint"`
	Owner        string          `json:"owner"`
	UIAmount     decimal.Decimal `json:"ui_amount"`
	Decimals     int             `json:"decimals"`
}

// RawTradeMeta is the opaque record enqueued by the Upstream Subscriber (G)
// and dequeued by the Swap Classifier (H). It carries just enough of a
// confirmed transaction to reconstruct a swap: the program log lines, and
// the token-balance arrays before and after execution.
type RawTradeMeta struct {
	LogMessages       []string               `json:"log_messages"`
	PreTokenBalances  []TokenBalanceSnapshot `json:"pre_token_balances"`
	PostTokenBalances []TokenBalanceSnapshot `json:"post_token_balances"`
}

// Direction is the side of a classified swap.
type Direction string

const (
	Buy  Direction = "Buy"
	Sell Direction = "Sell"
)

// StructuredTrade is the canonical record produced by the Swap Classifier
// (H) and consumed by the Metrics Worker (I), OHLCV Worker (J), and Socket
// Fan-out (L).
type StructuredTrade struct {
	Timestamp     time.Time        `json:"date"`
	Direction     Direction        `json:"purchase_type"`
	TokenPair     string           `json:"token_pair"`
	TokenName     string           `json:"token_name"`
	Owner         string           `json:"owner"`
	TokenQuantity decimal.Decimal  `json:"token_quantity"`
	TokenPrice    decimal.Decimal  `json:"token_price"`
	USDValue      *decimal.Decimal `json:"usd_value"`
	DexType       string           `json:"dex_type"`
	DexTag        string           `json:"dex_tag"`
}

// IsBuy reports whether the trade is a buy.
func (t *StructuredTrade) IsBuy() bool { return t.Direction == Buy }
