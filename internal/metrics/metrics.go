package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"eventvax.app/relay/internal/model"
)

var (
	// Relayer loop
	RelayerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poap",
		Subsystem: "relayer",
		Name:      "ticks_total",
		Help:      "Total relayer ticks that ran a batch",
	})

	RelayerTicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poap",
		Subsystem: "relayer",
		Name:      "ticks_skipped_total",
		Help:      "Total relayer ticks skipped because a previous tick was still running",
	})

	RelayerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "poap",
		Subsystem: "relayer",
		Name:      "tick_duration_seconds",
		Help:      "Relayer tick duration, including inter-request delays",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	})

	RelayerOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poap",
		Subsystem: "relayer",
		Name:      "outcomes_total",
		Help:      "Outcomes applied to issuance requests, by resulting status",
	}, []string{"status"})

	RelayerReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poap",
		Subsystem: "relayer",
		Name:      "reclaimed_total",
		Help:      "Stale processing requests handled by the reclaimer, by result",
	}, []string{"result"})

	// Chain client
	ChainErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poap",
		Subsystem: "chain",
		Name:      "errors_total",
		Help:      "Chain call failures by operation",
	}, []string{"op"})

	// Store
	RequestsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "poap",
		Subsystem: "store",
		Name:      "requests",
		Help:      "Issuance requests by status, refreshed every relayer tick",
	}, []string{"status"})

	// Intake
	IntakeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poap",
		Subsystem: "intake",
		Name:      "requests_total",
		Help:      "Issuance requests received, by source and result",
	}, []string{"source", "result"})

	StatusPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poap",
		Subsystem: "queue",
		Name:      "status_publish_errors_total",
		Help:      "Status events that could not be published to the stream",
	})
)

// Intake result labels.
const (
	IntakeCreated   = "created"
	IntakeDuplicate = "duplicate"
	IntakeInvalid   = "invalid"
	IntakeError     = "error"
)

// SetRequestCounts replaces the per-status gauge values.
func SetRequestCounts(counts map[model.IssuanceStatus]int64) {
	for status, n := range counts {
		RequestsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}

// Reclaim result labels.
const (
	ReclaimResolved = "resolved"
	ReclaimDeferred = "deferred"
)
