// Package metrics: prometheus-метрики торгового цикла.
//
//   - bot_cycles_total{inst,outcome}
//   - bot_decisions_total{inst,action}
//   - bot_orders_total{inst,type,status}
//   - bot_limit_fallbacks_total{inst}
//   - bot_reconcile_mismatch_total{inst}
//   - bot_stage_seconds{stage}
//   - bot_position_size{inst}, bot_realized_pnl{inst}
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Trade cycles by outcome",
		},
		[]string{"inst", "outcome"},
	)

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_decisions_total",
			Help: "Decisions received from the decision source",
		},
		[]string{"inst", "action"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders driven to a terminal status",
		},
		[]string{"inst", "type", "status"},
	)

	LimitFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_limit_fallbacks_total",
			Help: "Limit orders canceled on timeout and sent to market",
		},
		[]string{"inst"},
	)

	ReconcileMismatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_reconcile_mismatch_total",
			Help: "Cycles skipped because local position diverged from exchange",
		},
		[]string{"inst"},
	)

	StageSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_stage_seconds",
			Help:    "Duration of cycle stages",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 600},
		},
		[]string{"stage"},
	)

	PositionSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_position_size",
			Help: "Tracked position size, signed (short < 0)",
		},
		[]string{"inst"},
	)

	RealizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_realized_pnl",
			Help: "Cumulative realized P&L since process start",
		},
		[]string{"inst"},
	)
)

func init() {
	prometheus.MustRegister(
		Cycles,
		Decisions,
		Orders,
		LimitFallbacks,
		ReconcileMismatch,
		StageSeconds,
		PositionSize,
		RealizedPnL,
	)
}
