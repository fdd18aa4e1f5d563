package tokenmeta

import (
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCAccountFetcher implements AccountFetcher against a real Solana JSON-RPC
// endpoint (e.g. the Helius RPC URL this pipeline is already configured
// with for the upstream gRPC feed's backing node).
type RPCAccountFetcher struct {
	client *rpc.Client
}

func NewRPCAccountFetcher(rpcURL string) *RPCAccountFetcher {
	return &RPCAccountFetcher{client: rpc.New(rpcURL)}
}

func (f *RPCAccountFetcher) FetchAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	out, err := f.client.GetAccountInfo(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get account info %s: %w", address, err)
	}
	if out == nil || out.Value == nil {
		return nil, nil
	}
	return &Account{
		Owner: out.Value.Owner,
		Data:  out.Value.Data.GetBinary(),
	}, nil
}

// metadataPrefixLen is the fixed-size head of a Metaplex metadata account
// preceding the variable-length name/symbol/uri borsh strings: key (1) +
// update_authority (32) + mint (32).
const metadataPrefixLen = 1 + 32 + 32

// BorshMetadataDecoder decodes the name and symbol fields out of a
// Metaplex Token Metadata account's borsh-encoded data section. Only
// these two fields are needed by this pipeline (§4.E); the remaining
// layout (uri, seller_fee_basis_points, creators, ...) is left undecoded.
type BorshMetadataDecoder struct{}

func (BorshMetadataDecoder) DecodeMetadata(data []byte) (name, symbol string, err error) {
	if len(data) < metadataPrefixLen {
		return "", "", errMalformed
	}
	dec := bin.NewBorshDecoder(data[metadataPrefixLen:])

	name, err = dec.ReadString()
	if err != nil {
		return "", "", errMalformed
	}
	symbol, err = dec.ReadString()
	if err != nil {
		return "", "", errMalformed
	}

	return trimPadding(name), trimPadding(symbol), nil
}

// trimPadding strips the trailing NUL padding Metaplex writes to fill a
// string field's reserved capacity.
func trimPadding(s string) string {
	for i, r := range s {
		if r == 0 {
			return s[:i]
		}
	}
	return s
}
