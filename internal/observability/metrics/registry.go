// Package metrics provides centralized Prometheus metrics for the sync
// client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync coordinator metrics
var (
	// SyncRunsTotal counts sync runs by trigger and outcome.
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync runs by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	// SyncInProgress is 1 while a sync session holds the single-flight lock.
	SyncInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_in_progress",
			Help: "Whether a sync session is currently in flight",
		},
	)

	// SyncExchangeDuration measures the seen/unseen exchange round trip.
	SyncExchangeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_exchange_duration_seconds",
			Help:    "Duration of the seen-identifier exchange with the remote endpoint",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// ManualSyncThrottledTotal counts manual triggers rejected by the
	// 30-second throttle.
	ManualSyncThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manual_sync_throttled_total",
			Help: "Total manual sync attempts rejected by the throttle window",
		},
	)
)

// Deduplication metrics
var (
	// DuplicateClaimsPreventedTotal counts claims denied because another
	// worker already held the identifier.
	DuplicateClaimsPreventedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_duplicate_claims_prevented_total",
			Help: "Total processing claims denied by the deduplication registry",
		},
	)
)

// Ingestion pipeline metrics
var (
	// PipelineItemsTotal counts processed items by result.
	PipelineItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_items_total",
			Help: "Total pipeline items by result (success, failure, skipped)",
		},
		[]string{"result"},
	)

	// PipelineBatchDuration measures one Process invocation end to end.
	PipelineBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_batch_duration_seconds",
			Help:    "Duration of one ingestion batch",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// PayloadFetchDuration measures a single article payload fetch.
	PayloadFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payload_fetch_duration_seconds",
			Help:    "Duration of single article payload fetches",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)
)

// Scheduler metrics
var (
	// ScheduleSubmissionsTotal counts schedule requests handed to the host
	// task system by kind and status.
	ScheduleSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_submissions_total",
			Help: "Total schedule requests submitted to the host task system",
		},
		[]string{"kind", "status"},
	)

	// BackgroundTasksTotal counts background task completions by terminal
	// state (completed, expired).
	BackgroundTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_tasks_total",
			Help: "Total background task executions by terminal state",
		},
		[]string{"state"},
	)
)
