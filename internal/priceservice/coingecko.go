package priceservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

const coingeckoSolanaPriceURL = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"

// CoinGeckoFetcher implements Fetcher against CoinGecko's public simple
// price endpoint, the quote-asset oracle the upstream pricing pipeline
// this component replaces was grounded on.
type CoinGeckoFetcher struct {
	client *http.Client
}

func NewCoinGeckoFetcher() *CoinGeckoFetcher {
	return &CoinGeckoFetcher{client: &http.Client{Timeout: 5 * time.Second}}
}

func (f *CoinGeckoFetcher) FetchUSDPrice(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coingeckoSolanaPriceURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build price request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch sol price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch sol price: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Solana struct {
			USD decimal.Decimal `json:"usd"`
		} `json:"solana"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode sol price response: %w", err)
	}

	return body.Solana.USD, nil
}
