package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	LateTicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpa",
			Subsystem: "feed",
			Name:      "late_ticks_dropped_total",
			Help:      "Ticks discarded because their candle boundary had already closed",
		},
		[]string{"symbol", "timeframe"},
	)

	FeedGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpa",
			Subsystem: "feed",
			Name:      "gaps_total",
			Help:      "Detected gaps or reconnects in the market data feed",
		},
		[]string{"symbol"},
	)

	CandlesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpa",
			Subsystem: "feed",
			Name:      "candles_closed_total",
			Help:      "Closed candles emitted by the aggregator",
		},
		[]string{"symbol", "timeframe"},
	)

	PatternsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpa",
			Subsystem: "detector",
			Name:      "patterns_total",
			Help:      "VPA pattern matches by kind",
		},
		[]string{"symbol", "pattern"},
	)

	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpa",
			Subsystem: "signals",
			Name:      "emitted_total",
			Help:      "Trade signals emitted by the signal engine",
		},
		[]string{"symbol", "direction"},
	)

	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpa",
			Subsystem: "orders",
			Name:      "rejected_total",
			Help:      "Order requests rejected before submission",
		},
		[]string{"symbol", "reason"},
	)

	CircuitBreakerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vpa",
			Subsystem: "risk",
			Name:      "circuit_breaker_active",
			Help:      "1 when the daily circuit breaker is tripped, 0 otherwise",
		},
	)
)

// Register installs all collectors into the default registry. Safe to call
// more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			LateTicksDropped,
			FeedGaps,
			CandlesClosed,
			PatternsDetected,
			SignalsEmitted,
			OrdersRejected,
			CircuitBreakerActive,
		)
	})
}
