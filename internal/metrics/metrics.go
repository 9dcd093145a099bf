package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// KeeperMetrics groups the collectors updated by the enforcer and scanner.
type KeeperMetrics struct {
	growthCalls      *prometheus.CounterVec
	intervalUpdates  *prometheus.CounterVec
	enforcementFails *prometheus.CounterVec
	assessments      *prometheus.CounterVec
	readFailures     *prometheus.CounterVec
	scanDuration     prometheus.Histogram
	batchPositions   prometheus.Gauge
}

var (
	keeperOnce     sync.Once
	keeperRegistry *KeeperMetrics
)

// Keeper returns the lazily registered keeper metrics.
func Keeper() *KeeperMetrics {
	keeperOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			growthCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "irskeeper",
				Subsystem: "oracle",
				Name:      "buffer_growth_calls_total",
				Help:      "Observation buffer growth transactions confirmed, by oracle.",
			}, []string{"oracle"}),
			intervalUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "irskeeper",
				Subsystem: "oracle",
				Name:      "min_interval_updates_total",
				Help:      "Minimum update interval writes confirmed, by oracle.",
			}, []string{"oracle"}),
			enforcementFails: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "irskeeper",
				Subsystem: "oracle",
				Name:      "enforcement_failures_total",
				Help:      "Buffer enforcement runs that ended in error, by oracle and error kind.",
			}, []string{"oracle", "kind"}),
			assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "irskeeper",
				Subsystem: "scanner",
				Name:      "assessments_total",
				Help:      "Positions assessed, by margin engine and risk status.",
			}, []string{"margin_engine", "status"}),
			readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "irskeeper",
				Subsystem: "scanner",
				Name:      "read_failures_total",
				Help:      "Failed margin engine reads, by margin engine and scope.",
			}, []string{"margin_engine", "scope"}),
			scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "irskeeper",
				Subsystem: "scanner",
				Name:      "scan_duration_seconds",
				Help:      "Wall time of a full liquidation scan.",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
			}),
			batchPositions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "irskeeper",
				Subsystem: "scanner",
				Name:      "liquidatable_positions",
				Help:      "Positions queued for liquidation by the latest scan.",
			}),
		}
		prometheus.MustRegister(
			keeperRegistry.growthCalls,
			keeperRegistry.intervalUpdates,
			keeperRegistry.enforcementFails,
			keeperRegistry.assessments,
			keeperRegistry.readFailures,
			keeperRegistry.scanDuration,
			keeperRegistry.batchPositions,
		)
	})
	return keeperRegistry
}

// GrowthCall records a confirmed buffer growth transaction.
func (m *KeeperMetrics) GrowthCall(oracle string) {
	if m == nil {
		return
	}
	m.growthCalls.WithLabelValues(oracle).Inc()
}

// IntervalUpdate records a confirmed interval write.
func (m *KeeperMetrics) IntervalUpdate(oracle string) {
	if m == nil {
		return
	}
	m.intervalUpdates.WithLabelValues(oracle).Inc()
}

// EnforcementFailure records a failed enforcement run.
func (m *KeeperMetrics) EnforcementFailure(oracle, kind string) {
	if m == nil {
		return
	}
	m.enforcementFails.WithLabelValues(oracle, kind).Inc()
}

// Assessment records one classified position.
func (m *KeeperMetrics) Assessment(engine, status string) {
	if m == nil {
		return
	}
	m.assessments.WithLabelValues(engine, status).Inc()
}

// ReadFailure records a failed read; scope is "position" or "engine".
func (m *KeeperMetrics) ReadFailure(engine, scope string) {
	if m == nil {
		return
	}
	m.readFailures.WithLabelValues(engine, scope).Inc()
}

// ScanCompleted records scan latency and the number of queued positions.
func (m *KeeperMetrics) ScanCompleted(elapsed time.Duration, liquidatable int) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(elapsed.Seconds())
	m.batchPositions.Set(float64(liquidatable))
}
