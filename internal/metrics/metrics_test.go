package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncrementOutcome("stamped")
	m.IncrementOutcome("stamped")
	m.IncrementOutcome("sealed")
	m.IncrementSeals()
	m.ObserveStage("revision", 10*time.Millisecond)
	m.ObserveSubmit(50 * time.Millisecond)
	m.ObserveArtifactSize(40000)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submissions.WithLabelValues("stamped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Seals))

	count, err := testutil.GatherAndCount(reg, "pdfcosign_stage_duration_seconds", "pdfcosign_artifact_size_bytes")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementOutcome("stamped")
		m.IncrementSeals()
		m.ObserveStage("seal", time.Second)
		m.ObserveSubmit(time.Second)
		m.ObserveArtifactSize(1)
	})
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "registering twice on one registry must fail")
}
