// Package metrics exposes prometheus instrumentation for the ingest pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsIngested counts events durably stored, by tenant.
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sentra", Subsystem: "ingest", Name: "events_total", Help: "Total events durably stored."},
		[]string{"tenant_id"},
	)
	// RequestsRejected counts ingest requests rejected before any write.
	RequestsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sentra", Subsystem: "ingest", Name: "rejected_total", Help: "Ingest requests rejected before any write."},
		[]string{"reason"},
	)
	// ScoringFailures counts degraded scorer calls (timeout, network, bad response).
	ScoringFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sentra", Subsystem: "scoring", Name: "failures_total", Help: "Scorer calls that failed and were degraded."},
	)
	// AnomaliesCreated counts materialized anomalies by severity.
	AnomaliesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sentra", Subsystem: "anomaly", Name: "created_total", Help: "Anomalies materialized, by severity."},
		[]string{"severity"},
	)
	// AnomalyPersistFailures counts swallowed anomaly insert failures.
	AnomalyPersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sentra", Subsystem: "anomaly", Name: "persist_failures_total", Help: "Anomaly inserts that failed after the event was stored."},
	)
	// AlertsPublished counts alert stream publishes.
	AlertsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sentra", Subsystem: "alert", Name: "published_total", Help: "Alert messages published to the stream."},
	)
	// AlertsSkipped counts publishes skipped or failed (dead connection, error).
	AlertsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sentra", Subsystem: "alert", Name: "skipped_total", Help: "Alert publishes skipped or failed."},
	)
	// IngestDuration observes end-to-end ingest latency in seconds.
	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentra", Subsystem: "ingest", Name: "duration_seconds",
			Help:    "End-to-end ingest latency.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsIngested,
		RequestsRejected,
		ScoringFailures,
		AnomaliesCreated,
		AnomalyPersistFailures,
		AlertsPublished,
		AlertsSkipped,
		IngestDuration,
	)
}
