package metrics

import (
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"circlefi/core/events"
)

// PoolMetrics exposes the lending pool's operational metrics.
type PoolMetrics struct {
	operations    *prometheus.CounterVec
	events        *prometheus.CounterVec
	supply        prometheus.Gauge
	borrowed      prometheus.Gauge
	writtenOff    prometheus.Gauge
	reserves      prometheus.Gauge
	utilization   prometheus.Gauge
	rateBps       prometheus.Gauge
	lastSequence  prometheus.Gauge
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	subscribers   prometheus.Gauge
	oracleLatency prometheus.Histogram
}

var (
	poolOnce     sync.Once
	poolRegistry *PoolMetrics
)

func Pool() *PoolMetrics {
	poolOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "circle_pool_operations_total",
				Help: "Lending operations by action and outcome.",
			}, []string{"op", "outcome"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "circle_pool_events_total",
				Help: "Committed events by type.",
			}, []string{"type"}),
			supply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "circle_pool_total_supply",
				Help: "Sum of all deposit balances.",
			}),
			borrowed: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "circle_pool_total_borrowed",
				Help: "Outstanding principal of active loans.",
			}),
			writtenOff: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "circle_pool_written_off",
				Help: "Principal of liquidated loans.",
			}),
			reserves: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "circle_pool_reserves",
				Help: "Interest collected on repayments.",
			}),
			utilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "circle_pool_utilization_percent",
				Help: "Borrowed over supply as a percentage.",
			}),
			rateBps: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "circle_pool_borrow_rate_bps",
				Help: "Current annual borrow rate in basis points.",
			}),
			lastSequence: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "circle_pool_last_sequence",
				Help: "Sequence number of the last committed event.",
			}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "circle_http_requests_total",
				Help: "HTTP requests by route, method and status.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "circle_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			}, []string{"route"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "circle_event_stream_subscribers",
				Help: "Open event stream connections.",
			}),
			oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "circle_collateral_appraisal_seconds",
				Help:    "Latency of collateral appraisals.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			}),
		}
		prometheus.MustRegister(
			poolRegistry.operations,
			poolRegistry.events,
			poolRegistry.supply,
			poolRegistry.borrowed,
			poolRegistry.writtenOff,
			poolRegistry.reserves,
			poolRegistry.utilization,
			poolRegistry.rateBps,
			poolRegistry.lastSequence,
			poolRegistry.requests,
			poolRegistry.latency,
			poolRegistry.subscribers,
			poolRegistry.oracleLatency,
		)
	})
	return poolRegistry
}

// ObserveOperation counts an engine call. Outcome is "ok" or an error kind.
func (m *PoolMetrics) ObserveOperation(op, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// ObserveMarket publishes a snapshot of the pool totals.
func (m *PoolMetrics) ObserveMarket(supply, borrowed, writtenOff, reserves *big.Int, utilization float64, rateBps uint64) {
	if m == nil {
		return
	}
	m.supply.Set(bigFloat(supply))
	m.borrowed.Set(bigFloat(borrowed))
	m.writtenOff.Set(bigFloat(writtenOff))
	m.reserves.Set(bigFloat(reserves))
	m.utilization.Set(utilization)
	m.rateBps.Set(float64(rateBps))
}

// ObserveRequest records an HTTP request served by the daemon.
func (m *PoolMetrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveAppraisal records the latency of a collateral valuation.
func (m *PoolMetrics) ObserveAppraisal(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.oracleLatency.Observe(elapsed.Seconds())
}

func (m *PoolMetrics) SubscriberConnected() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *PoolMetrics) SubscriberDisconnected() {
	if m != nil {
		m.subscribers.Dec()
	}
}

// Emit implements events.Emitter so the metrics can be fanned out alongside
// the event bus.
func (m *PoolMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.events.WithLabelValues(evt.EventType()).Inc()
	payload, ok := evt.(events.Payload)
	if !ok || payload.Event() == nil {
		return
	}
	if seq, ok := payload.Event().Sequence(); ok {
		m.lastSequence.Set(float64(seq))
	}
}

func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
