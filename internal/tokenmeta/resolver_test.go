package tokenmeta

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"trading-systemv1/internal/model"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	values map[string]string
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := c.values[key]
	return v, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.values[key] = value
	return nil
}
func (c *fakeCache) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }
func (c *fakeCache) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	return nil
}
func (c *fakeCache) HIncrBy(ctx context.Context, key, field string, delta int64) error { return nil }
func (c *fakeCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, nil
}
func (c *fakeCache) SAdd(ctx context.Context, key, member string) error { return nil }
func (c *fakeCache) SCard(ctx context.Context, key string) (int64, error) { return 0, nil }
func (c *fakeCache) SMembers(ctx context.Context, key string) ([]string, error) { return nil, nil }
func (c *fakeCache) LPush(ctx context.Context, key, value string) error { return nil }
func (c *fakeCache) LTrim(ctx context.Context, key string, start, stop int64) error { return nil }
func (c *fakeCache) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return nil, nil
}
func (c *fakeCache) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}
func (c *fakeCache) Close() error { return nil }

type fakeFetcher struct {
	account *Account
	err     error
	calls   int
}

func (f *fakeFetcher) FetchAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	f.calls++
	return f.account, f.err
}

type fakeDecoder struct {
	name, symbol string
	err          error
}

func (d *fakeDecoder) DecodeMetadata(data []byte) (string, string, error) {
	return d.name, d.symbol, d.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testMint = "So11111111111111111111111111111111111111112"

func TestResolve_CacheHit(t *testing.T) {
	cache := &fakeCache{values: map[string]string{}}
	info := model.MintInfo{TokenSymbol: "WSOL", TokenName: "Wrapped SOL"}
	data, _ := json.Marshal(info)
	cache.values[testMint] = string(data)

	fetcher := &fakeFetcher{}
	resolver := New(cache, fetcher, &fakeDecoder{}, testLogger())

	got, ok, err := resolver.Resolve(context.Background(), testMint)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, info, got)
	require.Equal(t, 0, fetcher.calls, "cache hit must not fetch on-chain")
}

func TestResolve_CacheMissFetchesAndDecodesThenCaches(t *testing.T) {
	cache := &fakeCache{values: map[string]string{}}
	fetcher := &fakeFetcher{account: &Account{Owner: MetaplexTokenMetadataProgramID, Data: []byte("irrelevant")}}
	decoder := &fakeDecoder{name: "Wrapped SOL", symbol: "WSOL"}
	resolver := New(cache, fetcher, decoder, testLogger())

	got, ok, err := resolver.Resolve(context.Background(), testMint)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "WSOL", got.TokenSymbol)
	require.Equal(t, 1, fetcher.calls)
	require.Contains(t, cache.values, testMint)
}

func TestResolve_AccountNotFound_ReturnsNotOKNoError(t *testing.T) {
	cache := &fakeCache{values: map[string]string{}}
	fetcher := &fakeFetcher{account: nil}
	resolver := New(cache, fetcher, &fakeDecoder{}, testLogger())

	_, ok, err := resolver.Resolve(context.Background(), testMint)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolve_OwnerMismatch_ReturnsNotOKNoError(t *testing.T) {
	cache := &fakeCache{values: map[string]string{}}
	fetcher := &fakeFetcher{account: &Account{Owner: solana.SystemProgramID, Data: []byte("x")}}
	resolver := New(cache, fetcher, &fakeDecoder{}, testLogger())

	_, ok, err := resolver.Resolve(context.Background(), testMint)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolve_MalformedMetadata_ReturnsNotOKNoError(t *testing.T) {
	cache := &fakeCache{values: map[string]string{}}
	fetcher := &fakeFetcher{account: &Account{Owner: MetaplexTokenMetadataProgramID, Data: []byte("x")}}
	decoder := &fakeDecoder{err: errMalformed}
	resolver := New(cache, fetcher, decoder, testLogger())

	_, ok, err := resolver.Resolve(context.Background(), testMint)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolve_FetchError_Propagates(t *testing.T) {
	cache := &fakeCache{values: map[string]string{}}
	fetcher := &fakeFetcher{err: errors.New("rpc unavailable")}
	resolver := New(cache, fetcher, &fakeDecoder{}, testLogger())

	_, ok, err := resolver.Resolve(context.Background(), testMint)
	require.Error(t, err)
	require.False(t, ok)
}
