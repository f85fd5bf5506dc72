package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.IncRecorded()
	m.IncRecorded()
	m.IncFlushed()
	m.IncDropped("queue_closed")
	m.SetQueueDepth(3)
	m.SetPendingSenders(2)
	m.ObserveCompletion(StatusOK, 1500*time.Millisecond)
	m.ObserveCompletion(StatusError, time.Second)
	m.IncChunk(StatusOK)
	m.IncChunk(StatusOK)
	m.IncChunk(StatusError)
	m.IncSuppressed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesRecorded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unitsFlushed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unitsDropped.WithLabelValues("queue_closed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pendingSenders))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completions.WithLabelValues(StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completions.WithLabelValues(StatusError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunksSent.WithLabelValues(StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunksSent.WithLabelValues(StatusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repliesSuppressed))

	count, err := testutil.GatherAndCount(reg, "ircrelay_completion_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNewMetrics(reg)
	b := MustNewMetrics(reg)

	a.IncRecorded()
	b.IncRecorded()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.messagesRecorded))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRecorded()
		m.IncFlushed()
		m.IncDropped("x")
		m.SetQueueDepth(1)
		m.SetPendingSenders(1)
		m.ObserveCompletion(StatusOK, time.Second)
		m.IncChunk(StatusOK)
		m.IncSuppressed()
	})
}
