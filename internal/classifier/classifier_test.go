package classifier

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	symbol string
	name   string
	found  bool
}

func (f fakeResolver) Resolve(ctx context.Context, mint string) (model.MintInfo, bool, error) {
	if !f.found {
		return model.MintInfo{}, false, nil
	}
	return model.MintInfo{TokenSymbol: f.symbol, TokenName: f.name}, true, nil
}

type fakePrice struct {
	price decimal.Decimal
	found bool
}

func (f fakePrice) GetQuotePrice(ctx context.Context) (decimal.Decimal, bool) {
	return f.price, f.found
}

func bal(owner, mint string, amount float64) model.TokenBalanceSnapshot {
	return model.TokenBalanceSnapshot{Owner: owner, Mint: mint, UIAmount: decimal.NewFromFloat(amount)}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassify_RaydiumBuy(t *testing.T) {
	meta := model.RawTradeMeta{
		LogMessages: []string{"Program log: Instruction: SwapV2"},
		PreTokenBalances: []model.TokenBalanceSnapshot{
			bal("U", "MINT_X", 10),
			bal("P", "MINT_X", 1000),
			bal("P", model.QuoteMint, 50),
		},
		PostTokenBalances: []model.TokenBalanceSnapshot{
			bal("U", "MINT_X", 15),
			bal("P", "MINT_X", 995),
			bal("P", model.QuoteMint, 51),
		},
	}

	c := New(nil, fakeResolver{symbol: "FOO", found: true}, fakePrice{price: decimal.NewFromInt(100), found: true}, nil, nil, metrics.NewMetrics(), testLogger())

	trade, ok := c.Classify(context.Background(), meta)
	require.True(t, ok)
	require.Equal(t, model.Buy, trade.Direction)
	require.True(t, decimal.NewFromInt(5).Equal(trade.TokenQuantity))
	require.NotNil(t, trade.USDValue)
	require.True(t, decimal.NewFromInt(100).Equal(*trade.USDValue))
	require.True(t, decimal.NewFromInt(20).Equal(trade.TokenPrice))
	require.Equal(t, "Raydium", trade.DexType)
	require.Equal(t, "CPMM", trade.DexTag)
	require.Equal(t, "U", trade.Owner)
	require.Equal(t, "FOO/SOL", trade.TokenPair)
}

func TestClassify_MeteoraDLMMSell(t *testing.T) {
	meta := model.RawTradeMeta{
		LogMessages: []string{
			"Program log: Instruction: Swap",
			"Program LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo invoke [1]",
		},
		PreTokenBalances: []model.TokenBalanceSnapshot{
			bal("U", "MINT_X", 100),
			bal("P", "MINT_X", 1000),
			bal("P", model.QuoteMint, 50),
		},
		PostTokenBalances: []model.TokenBalanceSnapshot{
			bal("U", "MINT_X", 80),
			bal("P", "MINT_X", 1020),
			bal("P", model.QuoteMint, 49),
		},
	}

	c := New(nil, fakeResolver{found: false}, fakePrice{found: false}, nil, nil, metrics.NewMetrics(), testLogger())

	trade, ok := c.Classify(context.Background(), meta)
	require.True(t, ok)
	require.Equal(t, model.Sell, trade.Direction)
	require.True(t, decimal.NewFromInt(20).Equal(trade.TokenQuantity))
	require.Equal(t, "Meteora", trade.DexType)
	require.Equal(t, "DLMM", trade.DexTag)
}

func TestClassify_MissingQuotePrice(t *testing.T) {
	meta := model.RawTradeMeta{
		LogMessages: []string{"Program log: Instruction: SwapV2"},
		PreTokenBalances: []model.TokenBalanceSnapshot{
			bal("U", "MINT_X", 10),
			bal("P", "MINT_X", 1000),
			bal("P", model.QuoteMint, 50),
		},
		PostTokenBalances: []model.TokenBalanceSnapshot{
			bal("U", "MINT_X", 15),
			bal("P", "MINT_X", 995),
			bal("P", model.QuoteMint, 51),
		},
	}

	c := New(nil, fakeResolver{symbol: "FOO", found: true}, fakePrice{found: false}, nil, nil, metrics.NewMetrics(), testLogger())

	trade, ok := c.Classify(context.Background(), meta)
	require.True(t, ok)
	require.Nil(t, trade.USDValue)
	require.True(t, decimal.Zero.Equal(trade.TokenPrice))
	require.Equal(t, model.Buy, trade.Direction)
	require.True(t, decimal.NewFromInt(5).Equal(trade.TokenQuantity))
}

func TestDetectDexType_FirstMatchingLineWins(t *testing.T) {
	dexType, ok := detectDexType([]string{
		"Program log: Instruction: Swap",
		"Program log: Instruction: SwapV2",
	})
	require.True(t, ok)
	require.Equal(t, "Meteora", dexType)
}

func TestDetectDexType_RaydiumLineFirstStillWins(t *testing.T) {
	dexType, ok := detectDexType([]string{
		"Program log: Instruction: SwapV2",
		"Program log: Instruction: Swap",
	})
	require.True(t, ok)
	require.Equal(t, "Raydium", dexType)
}

func TestClassifyOwners_RequiresExactlyOneUserAndOnePool(t *testing.T) {
	_, _, ok := classifyOwners(
		[]model.TokenBalanceSnapshot{bal("A", "MINT_X", 1), bal("B", "MINT_Y", 1)},
		[]model.TokenBalanceSnapshot{bal("A", "MINT_X", 2), bal("B", "MINT_Y", 2)},
	)
	require.False(t, ok)
}
