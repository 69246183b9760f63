// Package metrics provides Prometheus metrics for the pharmacy ledger.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	SalesRecorded       prometheus.Counter
	SalesRevenue        prometheus.Counter
	ReturnsRecorded     prometheus.Counter
	PrescriptionsFilled prometheus.Counter
	StockAdjustments    *prometheus.CounterVec
	ApprovalDecisions   *prometheus.CounterVec
	OperationFailures   *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	OutboxPending       prometheus.Gauge
	EventsPublished     *prometheus.CounterVec
	EventsFailed        *prometheus.CounterVec
	EventsConsumed      *prometheus.CounterVec
	LowStockAlerts      prometheus.Counter
	GeoLookups          *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates all metrics and registers them on reg. When reg is nil the
// default registerer is used.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SalesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxledger_sales_recorded_total",
			Help: "Total completed sales",
		}),
		SalesRevenue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxledger_sales_revenue_total",
			Help: "Sum of completed sale totals",
		}),
		ReturnsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxledger_returns_recorded_total",
			Help: "Total returns recorded",
		}),
		PrescriptionsFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxledger_prescriptions_dispensed_total",
			Help: "Total prescription dispenses",
		}),
		StockAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxledger_stock_adjustments_total",
			Help: "Stock ledger entries by direction",
		}, []string{"type"}),
		ApprovalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxledger_pharmacy_update_decisions_total",
			Help: "Pharmacy update approvals and rejections",
		}, []string{"decision"}),
		OperationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxledger_operation_failures_total",
			Help: "Failed domain operations by error kind",
		}, []string{"op", "kind"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rxledger_operation_duration_seconds",
			Help:    "Domain operation duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxledger_outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxledger_events_published_total",
			Help: "Events published to the broker",
		}, []string{"topic"}),
		EventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxledger_events_publish_failed_total",
			Help: "Failed event publishes",
		}, []string{"topic"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxledger_events_consumed_total",
			Help: "Events consumed from the broker",
		}, []string{"topic"}),
		LowStockAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxledger_low_stock_alerts_total",
			Help: "Low stock alerts raised",
		}),
		GeoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxledger_geo_lookups_total",
			Help: "Geolocation lookups by result",
		}, []string{"result"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rxledger_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.SalesRecorded,
		m.SalesRevenue,
		m.ReturnsRecorded,
		m.PrescriptionsFilled,
		m.StockAdjustments,
		m.ApprovalDecisions,
		m.OperationFailures,
		m.OperationDuration,
		m.OutboxPending,
		m.EventsPublished,
		m.EventsFailed,
		m.EventsConsumed,
		m.LowStockAlerts,
		m.GeoLookups,
		m.CircuitBreakerState,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveOp records the duration and, on failure, the error kind of op.
func (m *Metrics) ObserveOp(op string, start time.Time, kind string) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if kind != "" {
		m.OperationFailures.WithLabelValues(op, kind).Inc()
	}
}

// SaleRecorded counts a completed sale.
func (m *Metrics) SaleRecorded(total float64) {
	if m == nil {
		return
	}
	m.SalesRecorded.Inc()
	m.SalesRevenue.Add(total)
}

// ReturnRecorded counts a return.
func (m *Metrics) ReturnRecorded() {
	if m == nil {
		return
	}
	m.ReturnsRecorded.Inc()
}

// Dispensed counts a prescription dispense.
func (m *Metrics) Dispensed() {
	if m == nil {
		return
	}
	m.PrescriptionsFilled.Inc()
}

// StockAdjusted counts one ledger entry.
func (m *Metrics) StockAdjusted(typ string) {
	if m == nil {
		return
	}
	m.StockAdjustments.WithLabelValues(typ).Inc()
}

// Decision counts an approval workflow decision.
func (m *Metrics) Decision(decision string) {
	if m == nil {
		return
	}
	m.ApprovalDecisions.WithLabelValues(decision).Inc()
}

// Published implements the outbox relay observer.
func (m *Metrics) Published(topic string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(topic).Inc()
}

// PublishFailed implements the outbox relay observer.
func (m *Metrics) PublishFailed(topic string) {
	if m == nil {
		return
	}
	m.EventsFailed.WithLabelValues(topic).Inc()
}

// Pending implements the outbox relay observer.
func (m *Metrics) Pending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// Consumed counts a consumed record.
func (m *Metrics) Consumed(topic string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(topic).Inc()
}

// LowStock counts a raised alert.
func (m *Metrics) LowStock() {
	if m == nil {
		return
	}
	m.LowStockAlerts.Inc()
}

// GeoLookup counts a geolocation lookup by result (hit, miss, error, cached).
func (m *Metrics) GeoLookup(result string) {
	if m == nil {
		return
	}
	m.GeoLookups.WithLabelValues(result).Inc()
}

// BreakerState records a circuit breaker transition.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus HTTP handler for the registry the metrics
// were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
