package upstream

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestToBalances_DecodesUIAmount(t *testing.T) {
	list, err := structpb.NewList([]interface{}{
		map[string]interface{}{
			"mint":      "MINT_X",
			"owner":     "U",
			"ui_amount": 12.5,
			"decimals":  6,
		},
	})
	require.NoError(t, err)

	out := toBalances(structpb.NewListValue(list))
	require.Len(t, out, 1)
	require.Equal(t, "MINT_X", out[0].Mint)
	require.Equal(t, "U", out[0].Owner)
	require.True(t, out[0].UIAmount.Equal(decimal.NewFromFloat(12.5)))
	require.Equal(t, 6, out[0].Decimals)
}
