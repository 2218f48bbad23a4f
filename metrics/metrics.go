// Package metrics exposes Prometheus metrics for the cycle orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flipper"

// Metrics holds the orchestrator's collectors. A nil *Metrics records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	// Cycle metrics
	CyclesStarted *prometheus.CounterVec
	CyclesClosed  *prometheus.CounterVec
	Flips         *prometheus.CounterVec
	FlipCount     *prometheus.GaugeVec
	LastPnL       *prometheus.GaugeVec

	// Order metrics
	Orders     *prometheus.CounterVec
	Rejections *prometheus.CounterVec
	Cancels    prometheus.Counter

	// Feed metrics
	FeedFallbacks prometheus.Counter
	Snapshots     *prometheus.CounterVec

	// Account metrics
	Balance prometheus.Gauge
	Errors  *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		CyclesStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "started_total",
			Help:      "Cycles opened, by direction",
		}, []string{"direction"}),
		CyclesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "closed_total",
			Help:      "Cycles closed, by reason",
		}, []string{"reason"}),
		Flips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "flips_total",
			Help:      "Completed flips, by symbol",
		}, []string{"symbol"}),
		FlipCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "flip_count",
			Help:      "Flip count of the active cycle",
		}, []string{"symbol"}),
		LastPnL: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "last_realized_pnl_usd",
			Help:      "Realized P&L of the most recently closed cycle",
		}, []string{"symbol"}),

		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Orders placed, by purpose",
		}, []string{"purpose"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "rejected_total",
			Help:      "Orders rejected by the exchange, by purpose",
		}, []string{"purpose"}),
		Cancels: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "cancelled_total",
			Help:      "Orders cancelled",
		}),

		FeedFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fallbacks_total",
			Help:      "Times the position stream failed and polling took over",
		}),
		Snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "snapshots_total",
			Help:      "Position snapshots handled, by source",
		}, []string{"source"}),

		Balance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "available_balance_usd",
			Help:      "Last observed available balance",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "errors_total",
			Help:      "Exchange errors, by kind",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) CycleStarted(direction string) {
	if m == nil {
		return
	}
	m.CyclesStarted.WithLabelValues(direction).Inc()
}

// CycleClosed counts the close and records its P&L. The flip gauge resets.
func (m *Metrics) CycleClosed(symbol, reason string, pnl float64) {
	if m == nil {
		return
	}
	m.CyclesClosed.WithLabelValues(reason).Inc()
	m.LastPnL.WithLabelValues(symbol).Set(pnl)
	m.FlipCount.WithLabelValues(symbol).Set(0)
}

func (m *Metrics) Flipped(symbol string, flipCount int) {
	if m == nil {
		return
	}
	m.Flips.WithLabelValues(symbol).Inc()
	m.FlipCount.WithLabelValues(symbol).Set(float64(flipCount))
}

func (m *Metrics) SetFlipCount(symbol string, flipCount int) {
	if m == nil {
		return
	}
	m.FlipCount.WithLabelValues(symbol).Set(float64(flipCount))
}

func (m *Metrics) OrderPlaced(purpose string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(purpose).Inc()
}

func (m *Metrics) OrderRejected(purpose string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(purpose).Inc()
}

func (m *Metrics) OrdersCancelled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Cancels.Add(float64(n))
}

func (m *Metrics) FeedFallback() {
	if m == nil {
		return
	}
	m.FeedFallbacks.Inc()
}

func (m *Metrics) Snapshot(source string) {
	if m == nil {
		return
	}
	m.Snapshots.WithLabelValues(source).Inc()
}

func (m *Metrics) SetBalance(usd float64) {
	if m == nil {
		return
	}
	m.Balance.Set(usd)
}

func (m *Metrics) ExchangeError(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}
