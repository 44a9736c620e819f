package observer

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// RecordIngest records one finished ingestion job. Callers pass the job's
// source type, terminal status ("completed" or "failed"), and wall duration.
func (i *Instruments) RecordIngest(ctx context.Context, sourceType, status string, durationMs float64) {
	attrs := metric.WithAttributes(
		AttrIngestSourceType.String(sourceType),
		AttrIngestStatus.String(status),
	)
	i.IngestJobs.Add(ctx, 1, attrs)
	i.IngestDuration.Record(ctx, durationMs, attrs)
}
