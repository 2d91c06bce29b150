package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes the engine's operational counters via Prometheus.
type Recorder struct {
	passesTotal    prometheus.Counter
	resolvedTotal  prometheus.Counter
	expiredTotal   prometheus.Counter
	failedTotal    prometheus.Counter
	errorsTotal    *prometheus.CounterVec
	snapshotsTotal *prometheus.CounterVec
	passDuration   prometheus.Histogram
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		passesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crowdcast_resolution_passes_total",
			Help: "Total number of resolution passes run",
		}),
		resolvedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crowdcast_predictions_resolved_total",
			Help: "Total number of predictions resolved",
		}),
		expiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crowdcast_predictions_expired_total",
			Help: "Total number of predictions expired out of the universe",
		}),
		failedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crowdcast_resolution_failures_total",
			Help: "Total number of per-candidate resolution failures",
		}),
		errorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdcast_errors_total",
			Help: "Total number of errors encountered",
		}, []string{"type"}),
		snapshotsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdcast_consensus_snapshots_total",
			Help: "Total number of consensus snapshots written",
		}, []string{"trigger"}),
		passDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "crowdcast_resolution_pass_duration_seconds",
			Help:    "Duration of resolution passes in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordPass records the outcome of one resolution pass.
func (r *Recorder) RecordPass(resolved, expired, failed int, seconds float64) {
	r.passesTotal.Inc()
	r.resolvedTotal.Add(float64(resolved))
	r.expiredTotal.Add(float64(expired))
	r.failedTotal.Add(float64(failed))
	r.passDuration.Observe(seconds)
}

// RecordError records an error occurrence by kind.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordSnapshot records a consensus snapshot write by trigger source.
func (r *Recorder) RecordSnapshot(trigger string) {
	r.snapshotsTotal.WithLabelValues(trigger).Inc()
}
