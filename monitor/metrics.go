// monitor/metrics.go
package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Trade cycles run, split by outcome",
		},
		[]string{"outcome"}, // ok|error
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed",
		},
		[]string{"side"}, // buy|sell
	)

	mtxExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Confirmed exits split by reason",
		},
		[]string{"reason"},
	)

	mtxExpiredOrders = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_expired_orders_total",
			Help: "Pending entry orders cancelled after exceeding their lifetime",
		},
	)

	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_krw",
			Help: "Account equity in KRW",
		},
	)

	mtxOpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Positions currently held",
		},
	)

	mtxPendingOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_pending_orders",
			Help: "Outstanding entry orders",
		},
	)

	mtxCandidates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_candidates",
			Help: "Tickers in the current candidate list",
		},
	)

	mtxRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_restarts_total",
			Help: "Supervisor restarts after a loop failure",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxCycles,
		mtxOrders,
		mtxExitReasons,
		mtxExpiredOrders,
		mtxEquity,
		mtxOpenPositions,
		mtxPendingOrders,
		mtxCandidates,
		mtxRestarts,
	)
}

// CountCycle records a completed trade cycle.
func CountCycle(outcome string) { mtxCycles.WithLabelValues(outcome).Inc() }

// CountOrder records a placed order by side.
func CountOrder(side string) { mtxOrders.WithLabelValues(side).Inc() }

// CountExit records a confirmed exit by reason.
func CountExit(reason string) { mtxExitReasons.WithLabelValues(reason).Inc() }

// CountExpiredOrder records one expiry cancellation.
func CountExpiredOrder() { mtxExpiredOrders.Inc() }

// CountRestart records one supervisor restart.
func CountRestart() { mtxRestarts.Inc() }

// SetEquity updates the equity gauge (KRW).
func SetEquity(krw float64) { mtxEquity.Set(krw) }

// SetBookSizes updates the position, pending and candidate gauges.
func SetBookSizes(positions, pending, candidates int) {
	mtxOpenPositions.Set(float64(positions))
	mtxPendingOrders.Set(float64(pending))
	mtxCandidates.Set(float64(candidates))
}
