// Package metrics exposes Prometheus collectors for the relay pipeline.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ircrelay"

// Completion and chunk status labels.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusEmpty = "empty" // backend answered without choices
)

// Metrics reports relay activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	messagesRecorded   prometheus.Counter
	unitsFlushed       prometheus.Counter
	unitsDropped       *prometheus.CounterVec
	queueDepth         prometheus.Gauge
	pendingSenders     prometheus.Gauge
	completions        *prometheus.CounterVec
	completionDuration prometheus.Histogram
	chunksSent         *prometheus.CounterVec
	repliesSuppressed  prometheus.Counter
}

// MustNewMetrics constructs a Metrics instance registered with reg.
// Tests should pass a fresh prometheus.NewRegistry(). Collectors already
// registered under the same name are reused; any other registration error
// panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		messagesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "messages_recorded_total",
			Help:      "Channel lines buffered by the debouncer.",
		}),
		unitsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "units_flushed_total",
			Help:      "Combined units emitted after the debounce window.",
		}),
		unitsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "units_dropped_total",
			Help:      "Flushed units that never reached the processor.",
		}, []string{"reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Units waiting in the dispatch queue.",
		}),
		pendingSenders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "pending_senders",
			Help:      "Senders with buffered, unflushed lines.",
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "requests_total",
			Help:      "Completion backend calls by outcome.",
		}, []string{"status"}),
		completionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "duration_seconds",
			Help:      "Latency of completion backend calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		chunksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "chunks_total",
			Help:      "Reply chunks handed to the channel by outcome.",
		}, []string{"status"}),
		repliesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "suppressed_total",
			Help:      "Units skipped by cold-start suppression.",
		}),
	}

	m.messagesRecorded = register(reg, m.messagesRecorded)
	m.unitsFlushed = register(reg, m.unitsFlushed)
	m.unitsDropped = register(reg, m.unitsDropped)
	m.queueDepth = register(reg, m.queueDepth)
	m.pendingSenders = register(reg, m.pendingSenders)
	m.completions = register(reg, m.completions)
	m.completionDuration = register(reg, m.completionDuration)
	m.chunksSent = register(reg, m.chunksSent)
	m.repliesSuppressed = register(reg, m.repliesSuppressed)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// IncRecorded counts one buffered channel line.
func (m *Metrics) IncRecorded() {
	if m == nil {
		return
	}
	m.messagesRecorded.Inc()
}

// IncFlushed counts one emitted unit.
func (m *Metrics) IncFlushed() {
	if m == nil {
		return
	}
	m.unitsFlushed.Inc()
}

// IncDropped counts a unit lost before processing, labelled by reason.
func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.unitsDropped.WithLabelValues(reason).Inc()
}

// SetQueueDepth reports the current dispatch queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetPendingSenders reports the number of senders with buffered lines.
func (m *Metrics) SetPendingSenders(n int) {
	if m == nil {
		return
	}
	m.pendingSenders.Set(float64(n))
}

// ObserveCompletion records the outcome and latency of one backend call.
func (m *Metrics) ObserveCompletion(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(status).Inc()
	m.completionDuration.Observe(d.Seconds())
}

// IncChunk counts one outbound chunk by send outcome.
func (m *Metrics) IncChunk(status string) {
	if m == nil {
		return
	}
	m.chunksSent.WithLabelValues(status).Inc()
}

// IncSuppressed counts a unit skipped by cold-start suppression.
func (m *Metrics) IncSuppressed() {
	if m == nil {
		return
	}
	m.repliesSuppressed.Inc()
}
