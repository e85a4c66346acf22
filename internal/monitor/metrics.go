package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the monitor's operational counters.
type Metrics struct {
	Ticks              prometheus.Counter
	TickDuration       prometheus.Histogram
	Transitions        *prometheus.CounterVec
	PriceFetchFailures prometheus.Counter
	OpenPositions      prometheus.Gauge
	AvailableCapital   prometheus.Gauge
	RealizedPnL        prometheus.Gauge
}

// NewMetrics registers the monitor metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tokensentry",
			Subsystem: "monitor",
			Name:      "ticks_total",
			Help:      "Completed monitoring ticks.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tokensentry",
			Subsystem: "monitor",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one monitoring tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokensentry",
			Subsystem: "monitor",
			Name:      "transitions_total",
			Help:      "Position transitions applied, by type.",
		}, []string{"type"}),
		PriceFetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tokensentry",
			Subsystem: "monitor",
			Name:      "price_fetch_failures_total",
			Help:      "Price lookups that failed and were skipped for the tick.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tokensentry",
			Subsystem: "monitor",
			Name:      "active_positions",
			Help:      "Positions currently tracked by the book.",
		}),
		AvailableCapital: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tokensentry",
			Subsystem: "account",
			Name:      "available_capital",
			Help:      "Capital available for new allocations.",
		}),
		RealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tokensentry",
			Subsystem: "account",
			Name:      "realized_pnl_total",
			Help:      "Cumulative realized profit and loss.",
		}),
	}
}
