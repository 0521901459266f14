// Package metrics exposes Prometheus metrics for signature submissions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the signing engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Submission outcomes by result ("stamped", "sealed" or an error stage).
	Submissions *prometheus.CounterVec

	// Documents sealed with the final cryptographic signature.
	Seals prometheus.Counter

	// Pipeline stage latencies.
	StageLatency *prometheus.HistogramVec

	// Overall submission latency.
	SubmitLatency prometheus.Histogram

	// Size of produced artifacts in bytes.
	ArtifactSize prometheus.Histogram
}

// New creates the engine metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfcosign_submissions_total",
			Help: "Total signature submissions by outcome",
		}, []string{"outcome"}),

		Seals: factory.NewCounter(prometheus.CounterOpts{
			Name: "pdfcosign_seals_total",
			Help: "Total documents sealed with a digital signature",
		}),

		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdfcosign_stage_duration_seconds",
			Help:    "Duration of submission pipeline stages",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"stage"}),

		SubmitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pdfcosign_submit_duration_seconds",
			Help:    "Duration of a full submission including delivery",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		ArtifactSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pdfcosign_artifact_size_bytes",
			Help:    "Size of produced PDF artifacts",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
	}
}

// IncrementOutcome records a submission outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome).Inc()
	}
}

// IncrementSeals records a sealed document.
func (m *Metrics) IncrementSeals() {
	if m != nil {
		m.Seals.Inc()
	}
}

// ObserveStage records the duration of a pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// ObserveSubmit records the total submission duration.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m != nil {
		m.SubmitLatency.Observe(d.Seconds())
	}
}

// ObserveArtifactSize records the size of a produced artifact.
func (m *Metrics) ObserveArtifactSize(n int) {
	if m != nil {
		m.ArtifactSize.Observe(float64(n))
	}
}
