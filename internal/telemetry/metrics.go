package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockify",
		Name:      "market_ticks_total",
		Help:      "Market advances committed.",
	})
	TickFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockify",
		Name:      "market_tick_failures_total",
		Help:      "Market advances abandoned before commit (metric fetch failed).",
	})
	EntitiesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockify",
		Name:      "entities_skipped_total",
		Help:      "Entity ticks skipped because the metric was unavailable.",
	})
	Trades = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockify",
		Name:      "trades_total",
		Help:      "Ledger trades by kind.",
	}, []string{"kind"})
	TradeVolumeMicros = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockify",
		Name:      "trade_volume_micros_total",
		Help:      "Credits moved by trades, in micro-credits.",
	}, []string{"kind"})
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockify",
		Name:      "persist_failures_total",
		Help:      "Store writes that failed; in-memory state stays authoritative.",
	}, []string{"what"})
	TrackedEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stockify",
		Name:      "tracked_entities",
		Help:      "Entities currently tracked by the market.",
	})
	ActiveAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stockify",
		Name:      "active_accounts",
		Help:      "Accounts loaded into the engine.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
