// Package upstream implements the Upstream Subscriber (§4.G): a long-lived
// server-stream consumer that filters confirmed transactions down to a
// fixed set of AMM/CLMM programs and pushes their raw metadata onto the
// ephemeral queue shared with the Swap Classifier.
package upstream

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"
)

// Program identifiers this pipeline subscribes to (account-include, §6).
var IncludePrograms = []string{
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8",
	"CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK",
	"LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo",
	"cpamdpZCGKUy5JxQXB4dcpGPiikHawvSWAd6mEn1sGG",
	"Eo7WjKq67rjJQSZxS6z3YkapzY3eMj6Xy8X5EQVn5UaB",
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",
}

// Wallets excluded from consideration regardless of program match (§6).
var ExcludeAccounts = []string{
	"MEViEnscUm6tsQRoGd9h6nLQaQspKj7DB2M5FwM3Xvz",
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4",
	"PhoeNiXZ8ByJGLkxNfZRnkUfjvmuYqLR89jjFHGqdXY",
}

// SubscriptionRequest is the filter sent once per stream. Its wire
// encoding to the upstream's protobuf schema is out of scope (§1) — this
// package only needs its field values to build the request that an
// UpstreamStream implementation will marshal.
type SubscriptionRequest struct {
	AccountInclude []string
	AccountExclude []string
	Vote           bool
	Failed         bool
}

// DefaultSubscription is the fixed filter this pipeline always sends.
func DefaultSubscription() SubscriptionRequest {
	return SubscriptionRequest{
		AccountInclude: IncludePrograms,
		AccountExclude: ExcludeAccounts,
		Vote:           false,
		Failed:         false,
	}
}

// UpdateKind distinguishes the handful of message shapes the upstream
// multiplexes onto one stream; only "transaction" carries a trade.
type UpdateKind string

const TransactionUpdate UpdateKind = "transaction"

// RawUpdate is one message received off the stream.
type RawUpdate struct {
	Kind UpdateKind
	Meta model.RawTradeMeta
}

// UpstreamStream abstracts the long-lived gRPC server-stream. The
// connection, auth token, and subscription-request wire shape are the
// implementation's concern (§1); this package depends only on Recv.
type UpstreamStream interface {
	Recv() (*RawUpdate, error)
}

// Dialer opens a new subscribed stream, reconnecting under a fresh
// context each time Run's loop needs one.
type Dialer interface {
	Dial(ctx context.Context, sub SubscriptionRequest) (UpstreamStream, error)
}

// Subscriber runs the extract-and-enqueue loop against queue C.
type Subscriber struct {
	dialer Dialer
	queue  model.ListQueue
	prom   *metrics.Metrics
	log    *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func New(dialer Dialer, queue model.ListQueue, prom *metrics.Metrics, log *slog.Logger) *Subscriber {
	return &Subscriber{
		dialer:     dialer,
		queue:      queue,
		prom:       prom,
		log:        log,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run dials, reads updates until the stream errors, then reconnects after
// a jittered backoff in [1s, 30s]. Returns only when ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.minBackoff
	firstDial := true
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !firstDial {
			s.prom.UpstreamReconnectsTotal.Inc()
		}
		firstDial = false

		stream, err := s.dialer.Dial(ctx, DefaultSubscription())
		if err != nil {
			s.log.Warn("upstream dial failed, backing off", "error", err, "backoff", backoff)
			if !s.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, s.maxBackoff)
			continue
		}

		backoff = s.minBackoff
		if err := s.consume(ctx, stream); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.log.Warn("upstream stream ended, reconnecting", "error", err, "backoff", backoff)
			if !s.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, s.maxBackoff)
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, stream UpstreamStream) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		update, err := stream.Recv()
		if err != nil {
			return err
		}
		if update.Kind != TransactionUpdate {
			continue
		}
		s.prom.UpstreamUpdatesTotal.Inc()
		if err := s.queue.PushRaw(ctx, update.Meta); err != nil {
			s.log.Warn("failed to enqueue raw trade meta", "error", err)
			continue
		}
		s.prom.QueueCPushTotal.Inc()
	}
}

func (s *Subscriber) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextBackoff doubles cur (capped at max) and applies +/-10% jitter so a
// fleet of subscribers reconnecting at once don't stay in lockstep.
func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	jitter := time.Duration(rand.Int63n(int64(next)/5+1)) - time.Duration(int64(next)/10)
	withJitter := next + jitter
	if withJitter < cur {
		withJitter = cur
	}
	if withJitter > max {
		withJitter = max
	}
	return withJitter
}
