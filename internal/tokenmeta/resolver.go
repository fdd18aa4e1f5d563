// Package tokenmeta implements the Token Metadata Resolver (§4.E): a
// cached lookup of (name, symbol) for a mint, falling back to an
// on-chain PDA decode on cache miss.
package tokenmeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"trading-systemv1/internal/model"

	"github.com/gagliardetto/solana-go"
)

// MetaplexTokenMetadataProgramID is the well-known Metaplex Token
// Metadata program that owns every mint's metadata PDA.
var MetaplexTokenMetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

// Account is the minimal shape of a fetched on-chain account: owner
// program id and raw data. Fetching and decoding the metadata account
// layout are the explicitly out-of-scope "opaque resolver" parts of this
// component (SPEC_FULL.md §4.E) — Resolver depends only on the two
// interfaces below; solanarpc.go provides an RPC-backed AccountFetcher and
// a borsh MetadataDecoder that implement them.
type Account struct {
	Owner solana.PublicKey
	Data  []byte
}

// AccountFetcher fetches an on-chain account by address. Returns
// (nil, nil) if the account does not exist.
type AccountFetcher interface {
	FetchAccount(ctx context.Context, address solana.PublicKey) (*Account, error)
}

// MetadataDecoder decodes a fetched metadata account's raw data into
// (name, symbol). Returns an error if the layout cannot be parsed.
type MetadataDecoder interface {
	DecodeMetadata(data []byte) (name, symbol string, err error)
}

// Resolver implements resolve(mint) -> Option<{name, symbol}> (§4.E).
type Resolver struct {
	cache   model.CacheClient
	fetcher AccountFetcher
	decoder MetadataDecoder
	log     *slog.Logger
}

func New(cache model.CacheClient, fetcher AccountFetcher, decoder MetadataDecoder, log *slog.Logger) *Resolver {
	return &Resolver{cache: cache, fetcher: fetcher, decoder: decoder, log: log}
}

// FindMetadataPDA derives the deterministic metadata account address for
// mint from the seed tuple ("metadata", metadata_program_id, mint).
func FindMetadataPDA(mint solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("metadata"),
			MetaplexTokenMetadataProgramID[:],
			mint[:],
		},
		MetaplexTokenMetadataProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive metadata pda for %s: %w", mint, err)
	}
	return pda, nil
}

// Resolve looks up (name, symbol) for mint. Returns ok=false (no error)
// when the mint genuinely has no resolvable metadata; a non-nil error
// indicates a transient failure the caller should retry or log per §7.
func (r *Resolver) Resolve(ctx context.Context, mint string) (model.MintInfo, bool, error) {
	raw, found, err := r.cache.Get(ctx, mint)
	if err != nil {
		return model.MintInfo{}, false, fmt.Errorf("cache get %s: %w", mint, err)
	}
	if found {
		var info model.MintInfo
		if err := json.Unmarshal([]byte(raw), &info); err == nil {
			return info, true, nil
		}
		r.log.Warn("cached mint info failed to deserialize, re-resolving", "mint", mint)
	}

	mintPK, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return model.MintInfo{}, false, fmt.Errorf("parse mint %s: %w", mint, err)
	}

	pda, err := FindMetadataPDA(mintPK)
	if err != nil {
		return model.MintInfo{}, false, err
	}

	account, err := r.fetcher.FetchAccount(ctx, pda)
	if err != nil {
		return model.MintInfo{}, false, fmt.Errorf("fetch metadata account %s: %w", pda, err)
	}
	if account == nil {
		return model.MintInfo{}, false, nil
	}
	if !account.Owner.Equals(MetaplexTokenMetadataProgramID) {
		r.log.Warn("metadata account owner mismatch", "mint", mint, "pda", pda, "owner", account.Owner)
		return model.MintInfo{}, false, nil
	}

	name, symbol, err := r.decoder.DecodeMetadata(account.Data)
	if err != nil {
		if errors.Is(err, errMalformed) {
			return model.MintInfo{}, false, nil
		}
		return model.MintInfo{}, false, fmt.Errorf("decode metadata %s: %w", mint, err)
	}

	info := model.MintInfo{TokenSymbol: symbol, TokenName: name}
	data, _ := json.Marshal(info)
	if err := r.cache.Set(ctx, mint, string(data), 0); err != nil {
		r.log.Warn("failed to write through mint info to cache", "mint", mint, "error", err)
	}
	return info, true, nil
}

var errMalformed = errors.New("malformed metadata account")
