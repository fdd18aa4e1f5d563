package upstream

import (
	"context"
	"fmt"

	"trading-systemv1/internal/model"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// subscribeMethod is the server-streaming RPC this pipeline subscribes
// transaction updates from. The upstream's generated client stub and full
// .proto schema are the out-of-scope wire-shape detail (§1, §4.G); this
// dialer speaks the method generically via google.protobuf.Struct so the
// connection itself, auth, and the filter fields are real and exercised
// without depending on a vendored proto package.
const subscribeMethod = "/geyser.Geyser/SubscribeTransactions"

// GRPCDialer opens the long-lived upstream stream over a real
// *grpc.ClientConn.
type GRPCDialer struct {
	conn  *grpc.ClientConn
	token string
}

// NewGRPCDialer dials url once; the resulting connection is reused across
// reconnect attempts (grpc.ClientConn manages its own transport retries).
func NewGRPCDialer(url, token string, useTLS bool) (*GRPCDialer, error) {
	var creds credentials.TransportCredentials
	if useTLS {
		creds = credentials.NewTLS(nil)
	} else {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(url, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial upstream %s: %w", url, err)
	}
	return &GRPCDialer{conn: conn, token: token}, nil
}

func (d *GRPCDialer) Close() error {
	return d.conn.Close()
}

// Dial opens one server-stream invocation with sub encoded as a
// google.protobuf.Struct request.
func (d *GRPCDialer) Dial(ctx context.Context, sub SubscriptionRequest) (UpstreamStream, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+d.token)

	cs, err := d.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "SubscribeTransactions", ServerStreams: true}, subscribeMethod)
	if err != nil {
		return nil, fmt.Errorf("open upstream stream: %w", err)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"account_include": toAnySlice(sub.AccountInclude),
		"account_exclude": toAnySlice(sub.AccountExclude),
		"vote":            sub.Vote,
		"failed":          sub.Failed,
	})
	if err != nil {
		return nil, fmt.Errorf("encode subscription request: %w", err)
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, fmt.Errorf("send subscription request: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, fmt.Errorf("close subscription send side: %w", err)
	}

	return &grpcStream{cs: cs}, nil
}

type grpcStream struct {
	cs grpc.ClientStream
}

// Recv decodes one server message into a RawUpdate. Field names
// ("kind", "log_messages", "pre_token_balances", "post_token_balances")
// are this pipeline's own generic envelope, not a fixed upstream schema.
func (s *grpcStream) Recv() (*RawUpdate, error) {
	msg := &structpb.Struct{}
	if err := s.cs.RecvMsg(msg); err != nil {
		return nil, err
	}

	fields := msg.GetFields()
	update := &RawUpdate{Kind: UpdateKind(fields["kind"].GetStringValue())}
	if update.Kind != TransactionUpdate {
		return update, nil
	}

	for _, line := range fields["log_messages"].GetListValue().GetValues() {
		update.Meta.LogMessages = append(update.Meta.LogMessages, line.GetStringValue())
	}
	update.Meta.PreTokenBalances = toBalances(fields["pre_token_balances"])
	update.Meta.PostTokenBalances = toBalances(fields["post_token_balances"])

	return update, nil
}

func toAnySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toBalances(v *structpb.Value) []model.TokenBalanceSnapshot {
	var out []model.TokenBalanceSnapshot
	for _, item := range v.GetListValue().GetValues() {
		f := item.GetStructValue().GetFields()
		out = append(out, model.TokenBalanceSnapshot{
			Mint:     f["mint"].GetStringValue(),
			Owner:    f["owner"].GetStringValue(),
			UIAmount: decimal.NewFromFloat(f["ui_amount"].GetNumberValue()),
			Decimals: int(f["decimals"].GetNumberValue()),
		})
	}
	return out
}
