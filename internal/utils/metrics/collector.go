// internal/utils/metrics/collector.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the pipeline's Prometheus metrics. A fresh registry
// per collector keeps tests from tripping over duplicate registration.
type Collector struct {
	EventsReceived      prometheus.Counter
	EventsDropped       *prometheus.CounterVec
	QueueDepth          prometheus.Gauge
	Reconnects          prometheus.Counter
	ScreenerRejections  *prometheus.CounterVec
	TradesExecuted      *prometheus.CounterVec
	SwapDuration        prometheus.Histogram
	OpenPositions       prometheus.Gauge
	RateLimitDeferrals  *prometheus.CounterVec
	ConnectionStateInfo *prometheus.GaugeVec
}

// NewCollector creates and registers the metric set on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solsniper_events_received_total",
			Help: "Raw stream notifications received.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solsniper_events_dropped_total",
			Help: "Events dropped before execution, by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solsniper_queue_depth",
			Help: "Events waiting in the execution queue.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solsniper_reconnects_total",
			Help: "WebSocket reconnect attempts.",
		}),
		ScreenerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solsniper_screener_rejections_total",
			Help: "Candidates rejected by the safety screener, by reason.",
		}, []string{"reason"}),
		TradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solsniper_trades_total",
			Help: "Swap submissions, by side and outcome.",
		}, []string{"side", "status"}),
		SwapDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solsniper_swap_duration_seconds",
			Help:    "Quote plus submission latency.",
			Buckets: prometheus.DefBuckets,
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solsniper_open_positions",
			Help: "Positions currently tracked.",
		}),
		RateLimitDeferrals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solsniper_rate_limit_deferrals_total",
			Help: "Calls deferred by the rate limiter, by resource.",
		}, []string{"resource"}),
		ConnectionStateInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solsniper_connection_state",
			Help: "Current supervisor state (1 for active state, 0 otherwise).",
		}, []string{"state"}),
	}

	reg.MustRegister(
		c.EventsReceived,
		c.EventsDropped,
		c.QueueDepth,
		c.Reconnects,
		c.ScreenerRejections,
		c.TradesExecuted,
		c.SwapDuration,
		c.OpenPositions,
		c.RateLimitDeferrals,
		c.ConnectionStateInfo,
	)
	return c
}

// SetConnectionState flips the state gauge so exactly one state is hot.
func (c *Collector) SetConnectionState(state string) {
	for _, s := range []string{"disconnected", "connecting", "subscribed", "cooling_down"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		c.ConnectionStateInfo.WithLabelValues(s).Set(v)
	}
}
