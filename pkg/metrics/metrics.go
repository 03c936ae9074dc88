// Package metrics exposes Prometheus collectors for the engine, the block
// pipeline and the API.
package metrics

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hyperswap"

var (
	SwapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "swaps_total",
			Help:      "Swaps executed per pair",
		},
		[]string{"pair"},
	)

	SwapVolume = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "swap_volume_total",
			Help:      "Sum of swap input amounts per pair and input token",
		},
		[]string{"pair", "token"},
	)

	LiquidityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "liquidity_events_total",
			Help:      "Liquidity deposits and withdrawals per pair",
		},
		[]string{"pair", "kind"},
	)

	Reserve = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "reserve",
			Help:      "Current pool reserve per pair and token",
		},
		[]string{"pair", "token"},
	)

	OrdersPlacedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Conditional orders placed",
		},
		[]string{"side", "kind"},
	)

	OrdersCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "cancelled_total",
			Help:      "Orders cancelled by their trader",
		},
	)

	OrderFillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "fills_total",
			Help:      "Matched taker/maker pairs settled through a pool",
		},
		[]string{"pair"},
	)

	EngineErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Engine operations rolled back, by operation and error kind",
		},
		[]string{"op", "kind"},
	)

	BlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "blocks_total",
			Help:      "Blocks finalized",
		},
	)

	BlockTxs = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "block_txs",
			Help:      "Transactions per finalized block",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	TxResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "tx_results_total",
			Help:      "Applied transactions by type and result kind",
		},
		[]string{"type", "result"},
	)

	MempoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "size",
			Help:      "Pending transactions",
		},
	)

	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients",
		},
	)
)

// Float converts an amount for use as a sample value. Precision loss above
// 2^53 is acceptable for monitoring.
func Float(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
