// Package metrics exposes Prometheus collectors for ingestion and the
// background evaluators.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitlens_events_ingested_total",
		Help: "Events accepted by the ingestion endpoint.",
	}, []string{"event_type"})

	BatchesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitlens_batches_rejected_total",
		Help: "Ingestion batches rejected before any write.",
	}, []string{"reason"})

	HeatmapClicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitlens_heatmap_clicks_total",
		Help: "Click events seen by the heatmap sampler.",
	}, []string{"outcome"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "visitlens_ingest_duration_seconds",
		Help:    "Time spent persisting one ingestion batch.",
		Buckets: prometheus.DefBuckets,
	})

	AlertsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitlens_alerts_triggered_total",
		Help: "Alerts whose condition held during evaluation.",
	}, []string{"metric"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitlens_notifications_total",
		Help: "Notification attempts by channel and outcome.",
	}, []string{"channel", "status"})

	ReportRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitlens_report_runs_total",
		Help: "Scheduled report executions by outcome.",
	}, []string{"status"})

	FunnelEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitlens_funnel_evaluations_total",
		Help: "Funnel evaluations by outcome.",
	}, []string{"status"})
)
