package ports

// Metric names understood by Observability implementations.
const (
	MetricReadingsIngested    = "aegis_readings_ingested_total"
	MetricReadingsDuplicate   = "aegis_readings_duplicate_total"
	MetricReadingsLate        = "aegis_readings_late_total"
	MetricReadingsRejected    = "aegis_readings_rejected_total"
	MetricCommitConflicts     = "aegis_commit_conflicts_total"
	MetricShiftViolations     = "aegis_shift_violations_total"
	MetricPropagationFailures = "aegis_propagation_failures_total"
	MetricPropagationDropped  = "aegis_propagation_dropped_total"
	MetricDLQ                 = "aegis_dlq_total"
	MetricQueueDropped        = "aegis_queue_dropped_total"

	MetricIngestLatency = "aegis_ingest_latency_seconds"

	MetricWALSizeBytes = "aegis_wal_size_bytes"
	MetricQueueLength  = "aegis_queue_length"
)
