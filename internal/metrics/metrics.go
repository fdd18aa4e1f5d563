package metrics

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric exported by the pipeline's
// components (A-L). Every binary registers all of them and updates only
// the subset it needs.
type Metrics struct {
	// Upstream Subscriber (G).
	UpstreamUpdatesTotal    prometheus.Counter
	UpstreamReconnectsTotal prometheus.Counter
	QueueCPushTotal         prometheus.Counter

	// Swap Classifier (H).
	ClassifiedTotal        prometheus.Counter
	ClassifierDroppedTotal *prometheus.CounterVec // labels: reason
	ClassifyDuration       prometheus.Histogram

	// Metrics Worker (I).
	MetricsProcessedTotal prometheus.Counter
	MetricsAckedTotal     prometheus.Counter
	MetricsStepDuration   *prometheus.HistogramVec // labels: step

	// OHLCV Worker (J).
	OHLCVProcessedTotal prometheus.Counter
	OHLCVAckedTotal     prometheus.Counter
	CandleMergeDuration prometheus.Histogram

	// Metrics Scheduler (K).
	SchedulerTickDuration *prometheus.HistogramVec // labels: window
	SchedulerPairsScanned *prometheus.GaugeVec     // labels: window

	// Shared store (A) stream consumer resilience.
	PELMessagesReclaimed prometheus.Counter

	// Quote-Asset Price Service (F).
	QuotePriceFetchFailuresTotal prometheus.Counter
	QuotePriceStaleServedTotal   prometheus.Counter

	// Socket Fan-out (L).
	SocketConnections    prometheus.Gauge
	SocketBroadcastTotal prometheus.Counter
}

var (
	instance     *Metrics
	instanceOnce sync.Once
)

// NewMetrics registers and returns every pipeline metric. Registration
// happens once per process: every caller (each binary wires its own
// components off of one Metrics instance) gets back the same collectors
// instead of panicking on a duplicate Prometheus registration.
func NewMetrics() *Metrics {
	instanceOnce.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{
		UpstreamUpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upstream_updates_total",
			Help: "Total transaction updates received from the upstream stream",
		}),
		UpstreamReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upstream_reconnects_total",
			Help: "Total upstream stream reconnection attempts",
		}),
		QueueCPushTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_c_push_total",
			Help: "Total raw trade records pushed onto swap_transactions",
		}),

		ClassifiedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classifier_classified_total",
			Help: "Total trades successfully classified and emitted",
		}),
		ClassifierDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classifier_dropped_total",
			Help: "Total raw records dropped during classification, by reason",
		}, []string{"reason"}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "classifier_classify_duration_seconds",
			Help:    "Time to classify one raw trade record",
			Buckets: prometheus.DefBuckets,
		}),

		MetricsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metrics_worker_processed_total",
			Help: "Total stream entries the metrics worker completed",
		}),
		MetricsAckedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metrics_worker_acked_total",
			Help: "Total stream entries the metrics worker acknowledged",
		}),
		MetricsStepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metrics_worker_step_duration_seconds",
			Help:    "Per-step latency within the metrics worker pipeline",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),

		OHLCVProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ohlcv_worker_processed_total",
			Help: "Total stream entries the OHLCV worker completed",
		}),
		OHLCVAckedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ohlcv_worker_acked_total",
			Help: "Total stream entries the OHLCV worker acknowledged",
		}),
		CandleMergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ohlcv_candle_merge_duration_seconds",
			Help:    "Time to fetch, merge, and save one timeframe's candle",
			Buckets: prometheus.DefBuckets,
		}),

		SchedulerTickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Time to complete one scheduler tick, by window",
			Buckets: prometheus.DefBuckets,
		}, []string{"window"}),
		SchedulerPairsScanned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_pairs_scanned",
			Help: "Number of distinct pairs scanned in the most recent tick, by window",
		}, []string{"window"}),

		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stream_pel_messages_reclaimed_total",
			Help: "Messages reclaimed from dead consumers via XCLAIM",
		}),

		QuotePriceFetchFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quote_price_fetch_failures_total",
			Help: "Total failed external quote-price oracle fetches",
		}),
		QuotePriceStaleServedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quote_price_stale_served_total",
			Help: "Total times a stale cached quote price was served because a refresh failed or could not start",
		}),

		SocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socket_connections",
			Help: "Current number of connected WebSocket clients",
		}),
		SocketBroadcastTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_broadcast_total",
			Help: "Total bus events broadcast to WebSocket clients",
		}),
	}

	prometheus.MustRegister(
		m.UpstreamUpdatesTotal,
		m.UpstreamReconnectsTotal,
		m.QueueCPushTotal,
		m.ClassifiedTotal,
		m.ClassifierDroppedTotal,
		m.ClassifyDuration,
		m.MetricsProcessedTotal,
		m.MetricsAckedTotal,
		m.MetricsStepDuration,
		m.OHLCVProcessedTotal,
		m.OHLCVAckedTotal,
		m.CandleMergeDuration,
		m.SchedulerTickDuration,
		m.SchedulerPairsScanned,
		m.PELMessagesReclaimed,
		m.QuotePriceFetchFailuresTotal,
		m.QuotePriceStaleServedTotal,
		m.SocketConnections,
		m.SocketBroadcastTotal,
	)

	return m
}

// Server runs an HTTP server exposing only /metrics. HTTP health
// endpoints are out of scope (§1) — fatal dependency failures are handled
// at boot, not polled over HTTP.
type Server struct {
	addr string
	srv  *http.Server
}

func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
