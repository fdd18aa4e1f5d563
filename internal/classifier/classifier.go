// Package classifier implements the Swap Classifier (§4.H): the
// analytical heart of the pipeline, turning an opaque RawTradeMeta into a
// StructuredTrade by DEX detection, balance-delta analysis, and USD
// valuation.
package classifier

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"

	"github.com/shopspring/decimal"
)

// Program identifiers used for the dex_tag second pass (§4.H, §6).
const (
	raydiumAMMV4  = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	raydiumCLMM   = "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK"
	meteoraDLMM   = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
	meteoraDAMMV2 = "cpamdpZCGKUy5JxQXB4dcpGPiikHawvSWAd6mEn1sGG"
	meteoraDAMMV1 = "Eo7WjKq67rjJQSZxS6z3YkapzY3eMj6Xy8X5EQVn5UaB"
	orcaCLMM      = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
)

// MetadataResolver is the §4.E dependency: resolve a mint to (name, symbol).
type MetadataResolver interface {
	Resolve(ctx context.Context, mint string) (model.MintInfo, bool, error)
}

// QuotePrice is the §4.F dependency: the current USD price of the quote asset.
type QuotePrice interface {
	GetQuotePrice(ctx context.Context) (decimal.Decimal, bool)
}

// Classifier consumes queue C, classifies each raw record, and emits the
// result on the pub/sub bus and stream B.
type Classifier struct {
	raw      model.ListQueue
	resolver MetadataResolver
	price    QuotePrice
	bus      model.PubSubBus
	stream   model.StreamQueue
	prom     *metrics.Metrics
	log      *slog.Logger

	idleBackoff time.Duration
}

func New(raw model.ListQueue, resolver MetadataResolver, price QuotePrice, bus model.PubSubBus, stream model.StreamQueue, prom *metrics.Metrics, log *slog.Logger) *Classifier {
	return &Classifier{
		raw:         raw,
		resolver:    resolver,
		price:       price,
		bus:         bus,
		stream:      stream,
		prom:        prom,
		log:         log,
		idleBackoff: 200 * time.Millisecond,
	}
}

// Run pops raw trade metadata from queue C and classifies it in a loop
// until ctx is cancelled.
func (c *Classifier) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		meta, ok, err := c.raw.PopRaw(ctx)
		if err != nil {
			c.log.Warn("failed to pop raw trade meta", "error", err)
			if !c.sleep(ctx, c.idleBackoff) {
				return ctx.Err()
			}
			continue
		}
		if !ok {
			if !c.sleep(ctx, c.idleBackoff) {
				return ctx.Err()
			}
			continue
		}
		c.process(ctx, meta)
	}
}

func (c *Classifier) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Classifier) process(ctx context.Context, meta model.RawTradeMeta) {
	trade, ok := c.Classify(ctx, meta)
	if !ok {
		c.log.Warn("raw trade dropped: not a classifiable swap")
		return
	}

	if err := c.bus.PublishTransaction(ctx, trade); err != nil {
		c.log.Warn("failed to publish classified trade", "error", err)
	}
	if _, err := c.stream.Append(ctx, trade); err != nil {
		c.log.Warn("failed to append classified trade to stream", "error", err)
	}
}

// Classify applies detection, balance analysis, direction, and USD
// valuation to a single raw record. Returns ok=false whenever the spec's
// "return none" conditions are hit — the caller drops the record with a
// warning.
func (c *Classifier) Classify(ctx context.Context, meta model.RawTradeMeta) (model.StructuredTrade, bool) {
	start := time.Now()
	defer func() {
		c.prom.ClassifyDuration.Observe(time.Since(start).Seconds())
	}()

	dexType, ok := detectDexType(meta.LogMessages)
	if !ok {
		c.prom.ClassifierDroppedTotal.WithLabelValues("dex_detection").Inc()
		return model.StructuredTrade{}, false
	}
	dexTag := detectDexTag(meta.LogMessages, dexType)

	userOwner, poolOwner, ok := classifyOwners(meta.PreTokenBalances, meta.PostTokenBalances)
	if !ok {
		c.prom.ClassifierDroppedTotal.WithLabelValues("owner_classification").Inc()
		return model.StructuredTrade{}, false
	}

	userNonQuoteMint, userDelta, ok := nonQuoteDelta(userOwner)
	if !ok {
		c.prom.ClassifierDroppedTotal.WithLabelValues("non_quote_delta").Inc()
		return model.StructuredTrade{}, false
	}
	poolQuoteDelta, ok := quoteDelta(poolOwner)
	if !ok {
		c.prom.ClassifierDroppedTotal.WithLabelValues("quote_delta").Inc()
		return model.StructuredTrade{}, false
	}

	var direction model.Direction
	switch {
	case poolQuoteDelta.IsNegative():
		direction = model.Sell
	case poolQuoteDelta.IsPositive():
		direction = model.Buy
	default:
		c.prom.ClassifierDroppedTotal.WithLabelValues("zero_delta").Inc()
		return model.StructuredTrade{}, false
	}

	symbol := "UNKNOWN"
	tokenName := ""
	if info, found, err := c.resolver.Resolve(ctx, userNonQuoteMint); err != nil {
		c.log.Warn("metadata resolution failed, defaulting symbol", "mint", userNonQuoteMint, "error", err)
	} else if found && info.TokenSymbol != "" {
		symbol = info.TokenSymbol
		tokenName = info.TokenName
	}

	tokenQuantity := userDelta.Abs()
	quoteAbsolute := poolQuoteDelta.Abs()

	var usdValue *decimal.Decimal
	tokenPrice := decimal.Zero
	if quotePriceUSD, found := c.price.GetQuotePrice(ctx); found {
		v := quoteAbsolute.Mul(quotePriceUSD)
		usdValue = &v
		if tokenQuantity.IsPositive() {
			tokenPrice = v.Div(tokenQuantity)
		}
	}

	c.prom.ClassifiedTotal.Inc()
	return model.StructuredTrade{
		Timestamp:     time.Now().UTC(),
		Direction:     direction,
		TokenPair:     symbol + "/SOL",
		TokenName:     tokenName,
		Owner:         userOwner.owner,
		TokenQuantity: tokenQuantity,
		TokenPrice:    tokenPrice,
		USDValue:      usdValue,
		DexType:       dexType,
		DexTag:        dexTag,
	}, true
}

func detectDexType(logs []string) (string, bool) {
	for _, line := range logs {
		switch {
		case strings.Contains(line, "SwapV2") || strings.Contains(line, "SwapRaydiumV4"):
			return "Raydium", true
		case strings.Contains(line, "Swap2") || strings.Contains(line, "Swap"):
			return "Meteora", true
		}
	}
	return "", false
}

func detectDexTag(logs []string, dexType string) string {
	for _, line := range logs {
		switch {
		case strings.Contains(line, raydiumAMMV4):
			return "CPMM"
		case strings.Contains(line, raydiumCLMM):
			return "CLMM"
		case strings.Contains(line, meteoraDLMM):
			return "DLMM"
		case strings.Contains(line, meteoraDAMMV2):
			return "DYN2"
		case strings.Contains(line, meteoraDAMMV1):
			return "DYN"
		case strings.Contains(line, orcaCLMM):
			return "CLMM"
		}
	}
	switch dexType {
	case "Raydium":
		return "CPMM"
	case "Meteora":
		return "DLMM"
	default:
		return "UNKNOWN"
	}
}

// ownerBalances is the per-owner grouping of pre/post snapshots keyed by
// mint, used to compute deltas in a single pass.
type ownerBalances struct {
	owner string
	mints map[string]*mintDelta
}

type mintDelta struct {
	pre  decimal.Decimal
	post decimal.Decimal
}

// classifyOwners groups pre/post balances by owner and returns the single
// user owner and single pool owner. A pool owner holds the quote mint plus
// at least one non-quote mint; any other configuration is dropped (ok=false).
func classifyOwners(pre, post []model.TokenBalanceSnapshot) (user, pool ownerBalances, ok bool) {
	byOwner := map[string]*ownerBalances{}
	get := func(owner string) *ownerBalances {
		ob, exists := byOwner[owner]
		if !exists {
			ob = &ownerBalances{owner: owner, mints: map[string]*mintDelta{}}
			byOwner[owner] = ob
		}
		return ob
	}
	mint := func(ob *ownerBalances, m string) *mintDelta {
		md, exists := ob.mints[m]
		if !exists {
			md = &mintDelta{}
			ob.mints[m] = md
		}
		return md
	}

	for _, b := range pre {
		mint(get(b.Owner), b.Mint).pre = b.UIAmount
	}
	for _, b := range post {
		mint(get(b.Owner), b.Mint).post = b.UIAmount
	}

	var users, pools []ownerBalances
	for _, ob := range byOwner {
		_, hasQuote := ob.mints[model.QuoteMint]
		nonQuoteCount := 0
		for m := range ob.mints {
			if m != model.QuoteMint {
				nonQuoteCount++
			}
		}
		if hasQuote && nonQuoteCount > 0 {
			pools = append(pools, *ob)
		} else {
			users = append(users, *ob)
		}
	}

	if len(users) != 1 || len(pools) != 1 {
		return ownerBalances{}, ownerBalances{}, false
	}
	return users[0], pools[0], true
}

// nonQuoteDelta returns the single non-quote mint the owner traded and its
// post-pre delta. A user touching more than one non-quote mint is
// ambiguous and dropped.
func nonQuoteDelta(ob ownerBalances) (mint string, delta decimal.Decimal, ok bool) {
	found := ""
	var d decimal.Decimal
	count := 0
	for m, md := range ob.mints {
		if m == model.QuoteMint {
			continue
		}
		found = m
		d = md.post.Sub(md.pre)
		count++
	}
	if count != 1 {
		return "", decimal.Zero, false
	}
	return found, d, true
}

func quoteDelta(ob ownerBalances) (decimal.Decimal, bool) {
	md, exists := ob.mints[model.QuoteMint]
	if !exists {
		return decimal.Zero, false
	}
	return md.post.Sub(md.pre), true
}
