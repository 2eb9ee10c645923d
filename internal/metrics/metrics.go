// Package metrics exposes Prometheus instrumentation for the ping pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for location ingestion and the
// geofence engine.
type Metrics struct {
	PingsTotal         *prometheus.CounterVec
	EventsTotal        *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	CallerRunsTotal    prometheus.Counter
	ProcessingDuration prometheus.Histogram
	AuditWriteFailures prometheus.Counter
}

// New creates and registers all metrics against the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_pings_total",
				Help: "Total GPS pings processed",
			},
			[]string{"mode", "result"}, // mode: sync, async, batch; result: ok, error
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_geofence_events_total",
				Help: "Total audit events emitted by the geofence engine",
			},
			[]string{"event_type"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleet_ingest_queue_depth",
				Help: "Current depth of the async ingest queue",
			},
		),

		CallerRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fleet_ingest_caller_runs_total",
				Help: "Async submissions executed inline because the queue was full",
			},
		),

		ProcessingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fleet_ping_processing_duration_seconds",
				Help:    "Wall time to process one ping end to end",
				Buckets: prometheus.DefBuckets,
			},
		),

		AuditWriteFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fleet_audit_write_failures_total",
				Help: "Audit event inserts swallowed under the best-effort policy",
			},
		),
	}
}

// RecordPing records one ping outcome by ingress mode.
func (m *Metrics) RecordPing(mode string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PingsTotal.WithLabelValues(mode, result).Inc()
}

// RecordEvent counts an emitted audit event by type.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsTotal.WithLabelValues(eventType).Inc()
}
