package metrics

import "time"

// RecordSyncRun records one completed sync run.
func RecordSyncRun(trigger, outcome string) {
	SyncRunsTotal.WithLabelValues(trigger, outcome).Inc()
}

// SetSyncInProgress flips the in-progress gauge around a sync session.
func SetSyncInProgress(running bool) {
	if running {
		SyncInProgress.Set(1)
		return
	}
	SyncInProgress.Set(0)
}

// RecordExchangeDuration records the seen/unseen exchange round trip.
func RecordExchangeDuration(d time.Duration) {
	SyncExchangeDuration.Observe(d.Seconds())
}

// RecordManualSyncThrottled records a manual trigger rejected by the throttle.
func RecordManualSyncThrottled() {
	ManualSyncThrottledTotal.Inc()
}

// RecordDuplicateClaim records a processing claim denied by the registry.
func RecordDuplicateClaim() {
	DuplicateClaimsPreventedTotal.Inc()
}

// RecordPipelineItem records a single pipeline item result.
// Result should be "success", "failure" or "skipped".
func RecordPipelineItem(result string) {
	PipelineItemsTotal.WithLabelValues(result).Inc()
}

// RecordPipelineBatch records one Process invocation.
func RecordPipelineBatch(d time.Duration) {
	PipelineBatchDuration.Observe(d.Seconds())
}

// RecordPayloadFetch records a single article payload fetch.
func RecordPayloadFetch(d time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	PayloadFetchDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordScheduleSubmission records a schedule request by kind and status.
func RecordScheduleSubmission(kind, status string) {
	ScheduleSubmissionsTotal.WithLabelValues(kind, status).Inc()
}

// RecordBackgroundTask records a background task terminal state.
// State should be "completed" or "expired".
func RecordBackgroundTask(state string) {
	BackgroundTasksTotal.WithLabelValues(state).Inc()
}
