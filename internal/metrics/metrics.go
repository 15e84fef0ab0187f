package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "matching"

type Metrics struct {
	OrdersPlaced *prometheus.CounterVec
	MarketOrders *prometheus.CounterVec
	Fills        *prometheus.CounterVec
	Rejected     *prometheus.CounterVec
	BookLevels   *prometheus.GaugeVec
	SideEffects  *prometheus.CounterVec
	Relayed      prometheus.Counter
	RelayErrors  *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_placed_total",
				Help:      "Limit orders rested on a book.",
			},
			[]string{"market", "side"},
		),
		MarketOrders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "market_orders_total",
				Help:      "Market orders matched against a book.",
			},
			[]string{"market", "side"},
		),
		Fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fills_total",
				Help:      "Fills produced by market orders.",
			},
			[]string{"market"},
		),
		Rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_total",
				Help:      "Requests rejected before reaching a book.",
			},
			[]string{"reason"},
		),
		BookLevels: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "book_levels",
				Help:      "Distinct price levels per side.",
			},
			[]string{"market", "side"},
		),
		SideEffects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "side_effect_errors_total",
				Help:      "Failed persistence, cache or publish calls after a book mutation.",
			},
			[]string{"stage"},
		),
		Relayed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relayed_trades_total",
				Help:      "Trades delivered from the outbox to the broker.",
			},
		),
		RelayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_errors_total",
				Help:      "Relay rounds that failed, by reason.",
			},
			[]string{"reason"},
		),
	}
}

func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.OrdersPlaced, m.MarketOrders, m.Fills, m.Rejected, m.BookLevels, m.SideEffects,
		m.Relayed, m.RelayErrors)
}
