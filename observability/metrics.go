package observability

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// AuctionMetrics tracks engine operations and the value held in escrow.
type AuctionMetrics struct {
	operations       *prometheus.CounterVec
	highestBid       prometheus.Gauge
	outstanding      prometheus.Gauge
	transferFailures *prometheus.CounterVec
	events           *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	auctionMetricsOnce sync.Once
	auctionRegistry    *AuctionMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record RPC
// activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "auction",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. code is the JSON-RPC error code,
// or zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// Auction returns the lazily-initialised auction metrics registry.
func Auction() *AuctionMetrics {
	auctionMetricsOnce.Do(func() {
		auctionRegistry = &AuctionMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			highestBid: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "auction",
				Subsystem: "engine",
				Name:      "highest_bid",
				Help:      "Current highest bid in base units (float approximation).",
			}),
			outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "auction",
				Subsystem: "engine",
				Name:      "outstanding_refunds",
				Help:      "Sum of withdrawable ledger balances in base units (float approximation).",
			}),
			transferFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "engine",
				Name:      "transfer_failures_total",
				Help:      "Outbound transfers that failed and rolled back their operation.",
			}, []string{"operation"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Committed events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			auctionRegistry.operations,
			auctionRegistry.highestBid,
			auctionRegistry.outstanding,
			auctionRegistry.transferFailures,
			auctionRegistry.events,
		)
	})
	return auctionRegistry
}

// RecordOperation counts an engine call. outcome is "ok" or a short error
// label.
func (m *AuctionMetrics) RecordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordTransferFailure counts an operation rolled back by a failed payout.
func (m *AuctionMetrics) RecordTransferFailure(operation string) {
	if m == nil {
		return
	}
	m.transferFailures.WithLabelValues(operation).Inc()
}

// RecordEvent counts a committed event.
func (m *AuctionMetrics) RecordEvent(eventType string) {
	if m == nil || eventType == "" {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// SetBalances publishes the current highest bid and outstanding refunds.
func (m *AuctionMetrics) SetBalances(highestBid, outstanding *big.Int) {
	if m == nil {
		return
	}
	m.highestBid.Set(bigToFloat(highestBid))
	m.outstanding.Set(bigToFloat(outstanding))
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
