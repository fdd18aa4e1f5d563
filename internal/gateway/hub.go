// Package gateway implements the Socket Fan-out (§4.L): a WebSocket hub
// that relays every event off the Pub/Sub Bus (D) to every connected
// client, with no inbound subscription protocol.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"
)

// Hub manages WebSocket clients and Pub/Sub Bus fan-out.
type Hub struct {
	bus  model.PubSubBus
	prom *metrics.Metrics
	log  *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	nextConnID uint64
}

func NewHub(bus model.PubSubBus, prom *metrics.Metrics, log *slog.Logger) *Hub {
	return &Hub{
		bus:     bus,
		prom:    prom,
		log:     log,
		clients: make(map[*Client]bool),
	}
}

// Run subscribes to the bus and broadcasts every event until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	events := make(chan model.BusEvent, 256)
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.bus.Subscribe(ctx, events)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case ev := <-events:
			h.broadcast(ev)
		}
	}
}

// broadcast hand-crafts an envelope JSON for the event and fans it out to
// every connected client. Channel and payload shape mirror the underlying
// bus channel so clients can dispatch on "channel" without re-deriving it.
func (h *Hub) broadcast(ev model.BusEvent) {
	channel, payload := encodeEvent(ev)
	if payload == nil {
		return
	}
	h.prom.SocketBroadcastTotal.Inc()

	now := time.Now().UTC()
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	buf := make([]byte, 0, len(channel)+len(payload)+128)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, payload...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- buf:
		default:
		}
	}
}

func encodeEvent(ev model.BusEvent) (channel string, payload []byte) {
	switch {
	case ev.Transaction != nil:
		data, _ := json.Marshal(ev.Transaction)
		return "transactions", data
	case ev.PriceMetrics != nil:
		data, _ := json.Marshal(ev.PriceMetrics)
		return "price_metrics", data
	case ev.CurrentPrice != nil:
		data, _ := json.Marshal(ev.CurrentPrice)
		return "current_price", data
	case ev.CandleUpdate != nil:
		data, _ := json.Marshal(ev.CandleUpdate)
		return "candle_price", data
	default:
		return "", nil
	}
}

// Register adds a newly-upgraded connection to the client table and
// assigns it a monotonic connection id.
func (h *Hub) Register(c *Client) {
	c.connID = atomic.AddUint64(&h.nextConnID, 1)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.prom.SocketConnections.Inc()
	h.log.Info("ws client connected", "conn_id", c.connID, "total", h.ClientCount())
}

// RemoveClient removes a client from the hub. Safe to call more than once;
// the second call is a no-op.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if existed {
		h.prom.SocketConnections.Dec()
		close(c.send)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
