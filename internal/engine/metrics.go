package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	OrdersCreated      *prometheus.CounterVec
	OrdersCancelled    prometheus.Counter
	OrdersExpired      prometheus.Counter
	Trades             *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	CASConflicts       prometheus.Counter
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenmarket",
			Subsystem: "engine",
			Name:      "orders_created_total",
			Help:      "Orders accepted, by side.",
		}, []string{"side"}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokenmarket",
			Subsystem: "engine",
			Name:      "orders_cancelled_total",
			Help:      "Orders cancelled by their owner.",
		}),
		OrdersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokenmarket",
			Subsystem: "engine",
			Name:      "orders_expired_total",
			Help:      "Orders transitioned to expired.",
		}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenmarket",
			Subsystem: "engine",
			Name:      "trades_total",
			Help:      "Settlement attempts, by outcome and trade type.",
		}, []string{"status", "type"}),
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tokenmarket",
			Subsystem: "engine",
			Name:      "settlement_duration_seconds",
			Help:      "Time spent in ledger calls per settlement attempt.",
			Buckets:   prometheus.DefBuckets,
		}),
		CASConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokenmarket",
			Subsystem: "engine",
			Name:      "cas_conflicts_total",
			Help:      "Order writes rejected because of a concurrent modification.",
		}),
	}
	reg.MustRegister(
		m.OrdersCreated, m.OrdersCancelled, m.OrdersExpired,
		m.Trades, m.SettlementDuration, m.CASConflicts,
	)
	return m
}

func (m *Metrics) orderCreated(side domain.OrderSide) {
	if m != nil {
		m.OrdersCreated.WithLabelValues(string(side)).Inc()
	}
}

func (m *Metrics) orderCancelled() {
	if m != nil {
		m.OrdersCancelled.Inc()
	}
}

func (m *Metrics) orderExpired() {
	if m != nil {
		m.OrdersExpired.Inc()
	}
}

func (m *Metrics) tradeRecorded(t *domain.Trade, settlement time.Duration) {
	if m != nil {
		m.Trades.WithLabelValues(string(t.Status), string(t.Type)).Inc()
		m.SettlementDuration.Observe(settlement.Seconds())
	}
}

func (m *Metrics) casConflict() {
	if m != nil {
		m.CASConflicts.Inc()
	}
}
