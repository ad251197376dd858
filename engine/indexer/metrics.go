package indexer

import (
	"context"
	"sync"

	"github.com/utakatik/utakatik/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	metricsInitErr error
	itemsCounter   metric.Int64Counter
	runHist        metric.Float64Histogram
)

func recordRun(ctx context.Context, report *Report) {
	if err := ensureMetrics(); err != nil || itemsCounter == nil {
		return
	}
	counts := make(map[Status]int64, 3)
	for _, o := range report.Outcomes {
		counts[o.Status]++
	}
	for status, n := range counts {
		itemsCounter.Add(ctx, n, metric.WithAttributes(attribute.String("status", string(status))))
	}
	runHist.Record(ctx, report.Duration.Seconds())
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("utakatik.indexer")
		itemsCounter, metricsInitErr = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("reindex", "items_total"),
			metric.WithDescription("Backlog items processed by outcome"),
		)
		if metricsInitErr != nil {
			return
		}
		runHist, metricsInitErr = meter.Float64Histogram(
			metrics.MetricNameWithSubsystem("reindex", "run_duration_seconds"),
			metric.WithDescription("Duration of one reindex run"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(metrics.LatencyBuckets...),
		)
	})
	return metricsInitErr
}
